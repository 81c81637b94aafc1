package prompt_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-charstates/internal/domain"
	"github.com/ahrav/go-charstates/internal/prompt"
)

func TestExtractionRendersIndex(t *testing.T) {
	b := prompt.MustDefault()

	got, err := b.Extraction(12, nil)
	require.NoError(t, err)
	assert.Contains(t, got, "character number 12")
	assert.NotContains(t, got, "Attempt")
	assert.NotEmpty(t, b.System())
}

func TestExtractionAppendsFeedbackInOrder(t *testing.T) {
	b := prompt.MustDefault()
	first := domain.ExtractionResult{Character: "Rostrum", States: []string{"absent", "present"}}
	second := domain.ExtractionResult{Character: "Rostrum length", States: []string{"short", "long"}}

	got, err := b.Extraction(3, []domain.AttemptRecord{
		{AttemptNumber: 1, Prior: &first, Evaluation: &domain.EvaluationResult{Score: 4, Justification: "wrong label"}},
		{AttemptNumber: 2, Prior: &second, Evaluation: &domain.EvaluationResult{Score: 6, Justification: "missing state"}},
	})
	require.NoError(t, err)

	i1 := strings.Index(got, "\nAttempt 1: "+first.JSON())
	i2 := strings.Index(got, "\nAttempt 2: "+second.JSON())
	require.GreaterOrEqual(t, i1, 0)
	require.Greater(t, i2, i1)
	assert.Contains(t, got, "Rejected with score 6/10: missing state")
}

func TestFeedbackWithError(t *testing.T) {
	got := prompt.Feedback(domain.AttemptRecord{AttemptNumber: 3, Err: errors.New("boom")})
	assert.Equal(t, "\nAttempt 3: failed: boom", got)
}

func TestEvaluationEmbedsExtractionTwice(t *testing.T) {
	b := prompt.MustDefault()
	ext := domain.ExtractionResult{Character: "Tail", States: []string{"short"}}

	got, err := b.Evaluation(ext)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(got, ext.JSON()))
}

func TestTemplateSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extraction.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("file #{{.CharacterIndex}}"), 0o600))

	t.Run("file overrides default", func(t *testing.T) {
		b, err := prompt.New(prompt.Options{ExtractionFile: path})
		require.NoError(t, err)
		got, err := b.Extraction(7, nil)
		require.NoError(t, err)
		assert.Equal(t, "file #7", got)
	})

	t.Run("inline overrides file", func(t *testing.T) {
		b, err := prompt.New(prompt.Options{InlineExtraction: "inline {{.CharacterIndex}}", ExtractionFile: path})
		require.NoError(t, err)
		got, err := b.Extraction(7, nil)
		require.NoError(t, err)
		assert.Equal(t, "inline 7", got)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := prompt.New(prompt.Options{SystemFile: filepath.Join(dir, "nope")})
		assert.Error(t, err)
	})

	t.Run("bad template", func(t *testing.T) {
		_, err := prompt.New(prompt.Options{InlineEvaluation: "{{.UserQuery"})
		assert.Error(t, err)
	})

	t.Run("unknown field fails at render", func(t *testing.T) {
		b, err := prompt.New(prompt.Options{InlineExtraction: "{{.Nope}}"})
		require.NoError(t, err)
		_, err = b.Extraction(1, nil)
		assert.ErrorIs(t, err, prompt.ErrRender)
	})
}
