package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-charstates/internal/config"
	"github.com/ahrav/go-charstates/internal/domain"
	"github.com/ahrav/go-charstates/internal/llm"
)

func TestRunDryRunWritesNexus(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "matrix.nex")
	require.NoError(t, os.WriteFile(in, []byte("#NEXUS\nBEGIN CHARACTERS;\n\tMATRIX\n\ttaxonA 010\n\t;\nEND;\n"), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"run", "--total", "3", "--dry-run", "--nexus", in,
		"--metrics-addr", "", "--log-level", "error",
	})
	require.NoError(t, rootCmd.ExecuteContext(t.Context()))

	assert.Contains(t, out.String(), "accepted: 3/3")
	assert.NotContains(t, out.String(), "failed:")

	patched, err := os.ReadFile(filepath.Join(dir, "matrix_KEY.nex"))
	require.NoError(t, err)
	assert.Contains(t, string(patched), "CHARSTATELABELS")
	assert.Contains(t, string(patched), "3 'character 3' / 'absent' 'present';")
}

func TestReadContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "paper.txt")
	require.NoError(t, os.WriteFile(path, []byte("Maxilla elongate."), 0o644))

	src, err := readContext(config.ContextConfig{File: path}, llm.ContextInlineText)
	require.NoError(t, err)
	assert.Equal(t, "Maxilla elongate.", src.Text)
	assert.Nil(t, src.Data)

	src, err = readContext(config.ContextConfig{File: path}, llm.ContextUploadedFile)
	require.NoError(t, err)
	assert.Equal(t, []byte("Maxilla elongate."), src.Data)
	assert.Equal(t, "paper.txt", src.DisplayName)
	assert.Contains(t, src.MIMEType, "text/plain")

	src, err = readContext(config.ContextConfig{File: path, MIMEType: "application/pdf"}, llm.ContextUploadedFile)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", src.MIMEType)

	src, err = readContext(config.ContextConfig{}, llm.ContextNone)
	require.NoError(t, err)
	assert.Equal(t, llm.ContextNone, src.Mode)

	_, err = readContext(config.ContextConfig{File: filepath.Join(dir, "missing.pdf")}, llm.ContextUploadedFile)
	require.Error(t, err)
}

func TestPrintSummaryListsFailures(t *testing.T) {
	res := domain.NewRunResult("run-1", domain.ItemRange{Start: 1, End: 2})
	res.Add(domain.Accepted(1,
		domain.ExtractionResult{Character: "Maxilla", States: []string{"short", "long"}},
		domain.EvaluationResult{Score: 9}))
	failed := domain.Failed(2, domain.FailureRateLimited)
	failed.LastError = "429 Resource has been exhausted"
	res.Add(failed)
	res.Elapsed = 1500 * time.Millisecond

	var buf bytes.Buffer
	printSummary(&buf, res)

	assert.Contains(t, buf.String(), "run run-1 finished in 1.5s")
	assert.Contains(t, buf.String(), "accepted: 1/2")
	assert.Contains(t, buf.String(), "1 Maxilla [short, long] score=9")
	assert.Contains(t, buf.String(), "2 rate_limited: 429 Resource has been exhausted")
}
