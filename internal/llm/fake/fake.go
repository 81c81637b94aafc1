// Package fake provides deterministic, scripted Extractor and Evaluator
// implementations. They recognise the item a prompt belongs to from the
// "character N" / "character number N" text the default templates produce,
// so each item can be scripted independently of scheduling order.
package fake

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahrav/go-charstates/internal/domain"
	llmerrors "github.com/ahrav/go-charstates/internal/llm/errors"
)

var indexPattern = regexp.MustCompile(`(?i)character (?:number )?(\d+)`)

// ErrNoIndex is returned when a prompt carries no recognisable item index.
var ErrNoIndex = errors.New("fake: prompt carries no character index")

// IndexFromPrompt returns the first item index mentioned in prompt.
func IndexFromPrompt(prompt string) (domain.ItemIndex, bool) {
	m := indexPattern.FindStringSubmatch(prompt)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return domain.ItemIndex(n), true
}

// RateLimited returns a transient error in the shape the Gemini client
// produces for HTTP 429.
func RateLimited(op string) error {
	return llmerrors.NewExternalServiceError(op,
		&llmerrors.ProviderError{Provider: "fake", StatusCode: 429, Message: "Resource has been exhausted", Type: llmerrors.ErrorTypeRateLimit})
}

// Permanent returns a non-transient external error.
func Permanent(op string) error {
	return llmerrors.NewExternalServiceError(op, llmerrors.ErrInvalidResponse)
}

// recorder tracks calls per item and concurrency.
type recorder struct {
	mu      sync.Mutex
	prompts map[domain.ItemIndex][]string

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func (r *recorder) begin(idx domain.ItemIndex, prompt string) int {
	n := r.inFlight.Add(1)
	for {
		cur := r.maxInFlight.Load()
		if n <= cur || r.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.prompts == nil {
		r.prompts = make(map[domain.ItemIndex][]string)
	}
	r.prompts[idx] = append(r.prompts[idx], prompt)
	return len(r.prompts[idx])
}

func (r *recorder) end() { r.inFlight.Add(-1) }

// Calls returns how many calls were made for idx.
func (r *recorder) Calls(idx domain.ItemIndex) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prompts[idx])
}

// TotalCalls returns the number of calls across all items.
func (r *recorder) TotalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.prompts {
		n += len(p)
	}
	return n
}

// Prompts returns the prompts received for idx in call order.
func (r *recorder) Prompts(idx domain.ItemIndex) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prompts[idx]...)
}

// MaxInFlight returns the highest number of concurrent calls observed.
func (r *recorder) MaxInFlight() int { return int(r.maxInFlight.Load()) }

// sleep waits d or until ctx is done. A ctx that is already done fails
// without starting the timer.
func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil || d <= 0 {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Extractor is a scripted extraction client. Respond receives the item
// index and the 1-based call number for that item. A nil Respond returns
// DefaultExtraction.
type Extractor struct {
	recorder
	Respond func(idx domain.ItemIndex, call int) (domain.ExtractionResult, error)
	// Latency is slept before responding.
	Latency time.Duration
}

// DefaultExtraction is the canned extraction for idx.
func DefaultExtraction(idx domain.ItemIndex) domain.ExtractionResult {
	return domain.ExtractionResult{
		Character: fmt.Sprintf("character %d", idx),
		States:    []string{"absent", "present"},
	}
}

// Extract implements orchestrator.Extractor.
func (e *Extractor) Extract(ctx context.Context, prompt string) (domain.ExtractionResult, error) {
	idx, ok := IndexFromPrompt(prompt)
	if !ok {
		return domain.ExtractionResult{}, ErrNoIndex
	}
	call := e.begin(idx, prompt)
	defer e.end()

	if err := sleep(ctx, e.Latency); err != nil {
		return domain.ExtractionResult{}, llmerrors.NewExternalServiceError("extract", err)
	}
	if e.Respond == nil {
		return DefaultExtraction(idx), nil
	}
	return e.Respond(idx, call)
}

// Evaluator is a scripted evaluation client. A nil Respond scores 9.
type Evaluator struct {
	recorder
	Respond func(idx domain.ItemIndex, call int) (domain.EvaluationResult, error)
	Latency time.Duration
}

// Evaluate implements orchestrator.Evaluator.
func (e *Evaluator) Evaluate(ctx context.Context, prompt string) (domain.EvaluationResult, error) {
	idx, ok := IndexFromPrompt(prompt)
	if !ok {
		return domain.EvaluationResult{}, ErrNoIndex
	}
	call := e.begin(idx, prompt)
	defer e.end()

	if err := sleep(ctx, e.Latency); err != nil {
		return domain.EvaluationResult{}, llmerrors.NewExternalServiceError("evaluate", err)
	}
	if e.Respond == nil {
		return domain.EvaluationResult{Score: 9, Justification: "matches the source"}, nil
	}
	return e.Respond(idx, call)
}

// Score returns a Respond function that always gives score.
func Score(score int) func(domain.ItemIndex, int) (domain.EvaluationResult, error) {
	return func(domain.ItemIndex, int) (domain.EvaluationResult, error) {
		return domain.EvaluationResult{Score: score, Justification: fmt.Sprintf("scored %d", score)}, nil
	}
}

// ScoreByIndex scores listed items from the map and every other item with
// fallback.
func ScoreByIndex(scores map[domain.ItemIndex]int, fallback int) func(domain.ItemIndex, int) (domain.EvaluationResult, error) {
	return func(idx domain.ItemIndex, _ int) (domain.EvaluationResult, error) {
		s, ok := scores[idx]
		if !ok {
			s = fallback
		}
		return domain.EvaluationResult{Score: s, Justification: fmt.Sprintf("scored %d", s)}, nil
	}
}
