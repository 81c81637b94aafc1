// Package providers holds the HTTP adapters for the model providers. Gemini
// is the only provider the extraction pipeline talks to; the router keeps the
// adapter lookup behind a name so tests and future providers plug in the
// same way.
package providers

import (
	"fmt"
	"time"

	llmerrors "github.com/ahrav/go-charstates/internal/llm/errors"
	"github.com/ahrav/go-charstates/internal/llm/transport"
)

// ProviderGoogle is the canonical name of the Gemini adapter.
const ProviderGoogle = "google"

// Config carries the connection settings of one provider. UploadEndpoint is
// the media upload root; it is derived from Endpoint when empty.
type Config struct {
	APIKey         string            `koanf:"api_key"         json:"-"`
	Endpoint       string            `koanf:"endpoint"        json:"endpoint"`
	UploadEndpoint string            `koanf:"upload_endpoint" json:"upload_endpoint"`
	Headers        map[string]string `koanf:"headers"         json:"headers,omitempty"`
	Timeout        time.Duration     `koanf:"timeout"         json:"timeout"`
}

// NewRouter creates a router with one adapter per configured provider.
func NewRouter(configs map[string]Config) (transport.Router, error) {
	adapters := make(map[string]transport.ProviderAdapter, len(configs))

	for name, cfg := range configs {
		var adapter transport.ProviderAdapter
		switch name {
		case ProviderGoogle:
			adapter = NewGoogleAdapter(cfg)
		default:
			return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, name)
		}
		adapters[name] = adapter
	}

	return &router{adapters: adapters}, nil
}

type router struct {
	adapters map[string]transport.ProviderAdapter
}

// Pick selects the adapter for the given provider name.
func (r *router) Pick(provider, _ string) (transport.ProviderAdapter, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, provider)
	}
	return adapter, nil
}
