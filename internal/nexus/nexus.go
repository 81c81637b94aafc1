// Package nexus writes accepted character records into a NEXUS matrix
// file as a CHARSTATELABELS block.
package nexus

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ahrav/go-charstates/internal/domain"
)

// ErrNoMatrix indicates the document has no MATRIX command to anchor the
// labels block.
var ErrNoMatrix = errors.New("nexus document has no MATRIX command")

const (
	labelsCommand = "CHARSTATELABELS"
	matrixCommand = "MATRIX"
	keySuffix     = "_KEY.nex"
)

// BuildLabels formats one line per record:
//
//	\t\t3 'Maxilla shape' / 'short' 'elongate',
//
// Single quotes inside character names are replaced with '?'. The last line
// ends with ';' instead of ','. Records are written in the order given.
func BuildLabels(records []domain.CharacterRecord) []string {
	labels := make([]string, 0, len(records))
	for _, r := range records {
		states := make([]string, len(r.States))
		for i, s := range r.States {
			states[i] = "'" + s + "'"
		}
		name := strings.ReplaceAll(r.Character, "'", "?")
		labels = append(labels, fmt.Sprintf("\t\t%d '%s' / %s,", r.Index, name, strings.Join(states, " ")))
	}
	if n := len(labels); n > 0 {
		labels[n-1] = strings.TrimSuffix(labels[n-1], ",") + ";"
	}
	return labels
}

// Patch replaces any existing CHARSTATELABELS block in doc with labels and
// inserts the new block directly before MATRIX, indented like MATRIX.
//
// An existing block runs from the CHARSTATELABELS line through the first
// line that starts or ends with ';', which may be the CHARSTATELABELS line
// itself. With no labels the old block is removed and nothing is inserted.
func Patch(doc string, labels []string) (string, error) {
	lines := removeLabelsBlock(strings.Split(doc, "\n"))

	at, indent := -1, ""
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), matrixCommand) {
			at = i
			indent = line[:len(line)-len(strings.TrimLeft(line, " \t"))]
			break
		}
	}
	if at < 0 {
		return "", ErrNoMatrix
	}
	if len(labels) == 0 {
		return strings.Join(lines, "\n"), nil
	}

	block := make([]string, 0, len(labels)+1)
	block = append(block, indent+"\t"+labelsCommand)
	for _, l := range labels {
		block = append(block, indent+l)
	}

	out := make([]string, 0, len(lines)+len(block))
	out = append(out, lines[:at]...)
	out = append(out, block...)
	out = append(out, lines[at:]...)
	return strings.Join(out, "\n"), nil
}

func removeLabelsBlock(lines []string) []string {
	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if start < 0 {
			if !strings.HasPrefix(trimmed, labelsCommand) {
				continue
			}
			start = i
			if !strings.HasSuffix(trimmed, ";") {
				continue
			}
		}
		if strings.HasPrefix(trimmed, ";") || strings.HasSuffix(trimmed, ";") {
			return append(lines[:start:start], lines[i+1:]...)
		}
	}
	return lines
}

// Update builds labels for the accepted records of res and patches doc.
func Update(doc string, res *domain.RunResult) (string, error) {
	return Patch(doc, BuildLabels(res.Records()))
}

// KeyFileName returns the output name for a patched document:
// "matrix.nex" becomes "matrix_KEY.nex".
func KeyFileName(input string) string {
	base := filepath.Base(input)
	return strings.TrimSuffix(base, filepath.Ext(base)) + keySuffix
}
