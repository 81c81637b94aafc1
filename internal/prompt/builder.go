// Package prompt renders the system, extraction and evaluation prompts and
// accumulates rejection feedback across attempts. Templates are parsed once
// at construction; rendering performs no I/O.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/ahrav/go-charstates/internal/domain"
)

// ErrRender indicates a template failed to execute.
var ErrRender = errors.New("prompt render failed")

// Options selects template sources. For each prompt an inline template wins
// over a file path; when both are empty the built-in default is used.
type Options struct {
	InlineSystem     string `json:"inline_system"     koanf:"inline_system"`
	SystemFile       string `json:"system_file"       koanf:"system_file"`
	InlineExtraction string `json:"inline_extraction" koanf:"inline_extraction"`
	ExtractionFile   string `json:"extraction_file"   koanf:"extraction_file"`
	InlineEvaluation string `json:"inline_evaluation" koanf:"inline_evaluation"`
	EvaluationFile   string `json:"evaluation_file"   koanf:"evaluation_file"`
}

// Builder renders prompts. It is immutable and safe for concurrent use.
type Builder struct {
	system     string
	extraction *template.Template
	evaluation *template.Template
}

type extractionData struct {
	CharacterIndex domain.ItemIndex
}

type evaluationData struct {
	UserQuery       string
	GeneratedAnswer string
}

// New loads and parses the templates selected by opts.
func New(opts Options) (*Builder, error) {
	system, err := load("system", opts.InlineSystem, opts.SystemFile, defaultSystemTemplate)
	if err != nil {
		return nil, err
	}
	extSrc, err := load("extraction", opts.InlineExtraction, opts.ExtractionFile, defaultExtractionTemplate)
	if err != nil {
		return nil, err
	}
	evalSrc, err := load("evaluation", opts.InlineEvaluation, opts.EvaluationFile, defaultEvaluationTemplate)
	if err != nil {
		return nil, err
	}

	ext, err := template.New("extraction").Option("missingkey=error").Parse(extSrc)
	if err != nil {
		return nil, fmt.Errorf("extraction template parse: %w", err)
	}
	eval, err := template.New("evaluation").Option("missingkey=error").Parse(evalSrc)
	if err != nil {
		return nil, fmt.Errorf("evaluation template parse: %w", err)
	}

	return &Builder{system: strings.TrimSpace(system), extraction: ext, evaluation: eval}, nil
}

// MustDefault returns a Builder over the built-in templates.
func MustDefault() *Builder {
	b, err := New(Options{})
	if err != nil {
		panic(err)
	}
	return b
}

func load(name, inline, path, fallback string) (string, error) {
	switch {
	case inline != "":
		return inline, nil
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("%s template read: %w", name, err)
		}
		return string(b), nil
	default:
		return fallback, nil
	}
}

// System returns the system instruction shared by both models.
func (b *Builder) System() string { return b.system }

// Extraction renders the extraction prompt for idx followed by the
// feedback of every rejected attempt in history, oldest first.
func (b *Builder) Extraction(idx domain.ItemIndex, history []domain.AttemptRecord) (string, error) {
	var buf bytes.Buffer
	if err := b.extraction.Execute(&buf, extractionData{CharacterIndex: idx}); err != nil {
		return "", fmt.Errorf("%w: extraction: %w", ErrRender, err)
	}
	for _, rec := range history {
		buf.WriteString(Feedback(rec))
	}
	return buf.String(), nil
}

// Evaluation renders the grading prompt for ext. The extraction is supplied
// both as the request being answered and as the answer under review.
func (b *Builder) Evaluation(ext domain.ExtractionResult) (string, error) {
	payload := ext.JSON()
	var buf bytes.Buffer
	if err := b.evaluation.Execute(&buf, evaluationData{UserQuery: payload, GeneratedAnswer: payload}); err != nil {
		return "", fmt.Errorf("%w: evaluation: %w", ErrRender, err)
	}
	return buf.String(), nil
}

// Feedback formats one rejected attempt for appending to the next
// extraction prompt: "\nAttempt N: {json}" plus the judge's verdict.
func Feedback(rec domain.AttemptRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\nAttempt %d: ", rec.AttemptNumber)
	switch {
	case rec.Prior != nil:
		sb.WriteString(rec.Prior.JSON())
	case rec.Err != nil:
		fmt.Fprintf(&sb, "failed: %v", rec.Err)
	default:
		sb.WriteString("no result")
	}
	if rec.Evaluation != nil {
		fmt.Fprintf(&sb, "\nRejected with score %d/%d: %s",
			rec.Evaluation.Score, domain.MaxScore, rec.Evaluation.Justification)
	}
	return sb.String()
}
