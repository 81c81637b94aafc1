package llm

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/ahrav/go-charstates/internal/domain"
	llmerrors "github.com/ahrav/go-charstates/internal/llm/errors"
)

// PercentageScoreLimit is the largest score read as a percentage. Judges
// occasionally answer 85 instead of 8.5.
const PercentageScoreLimit = 100

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyRe   = regexp.MustCompile(`(\{|,)\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
	jsonBlockRes    = []*regexp.Regexp{
		regexp.MustCompile("(?s)```json\\s*\n(.*?)\n\\s*```"),
		regexp.MustCompile("(?s)```\\s*\n(.*?)\n\\s*```"),
		regexp.MustCompile("(?s)`(\\{.*?\\})`"),
	}
)

// ParseExtraction decodes an extraction response. It tries the content as
// is, then with syntax repairs, then the JSON embedded in markdown or prose.
// Labels and states are trimmed and empty states dropped before validation.
func ParseExtraction(content string) (domain.ExtractionResult, error) {
	ext, err := decodeLadder(content, normalizeExtraction)
	if err != nil {
		return domain.ExtractionResult{}, &llmerrors.ValidationError{
			Message: err.Error(),
			Value:   content,
			Schema:  "ExtractionResult{character:string, states:[string]}",
		}
	}
	return ext, nil
}

// ParseEvaluation decodes an evaluation response with the same ladder as
// ParseExtraction. Fractional scores are rounded and percentage scores
// scaled to the 0-10 range.
func ParseEvaluation(content string) (domain.EvaluationResult, error) {
	raw, err := decodeLadder(content, normalizeEvaluation)
	if err != nil {
		return domain.EvaluationResult{}, &llmerrors.ValidationError{
			Message: err.Error(),
			Value:   content,
			Schema:  "EvaluationResult{score:int, justification:string}",
		}
	}
	return domain.EvaluationResult{Score: int(raw.Score), Justification: raw.Justification}, nil
}

// rawEvaluation accepts fractional scores from models that ignore the
// integer schema.
type rawEvaluation struct {
	Score         float64 `json:"score"`
	Justification string  `json:"justification"`
}

func decodeLadder[T any](content string, normalize func(*T) error) (T, error) {
	var zero T
	candidates := []string{content}
	if repaired := repairJSON(content); repaired != content {
		candidates = append(candidates, repaired)
	}
	if extracted := extractJSON(content); extracted != content {
		candidates = append(candidates, extracted)
		if repaired := repairJSON(extracted); repaired != extracted {
			candidates = append(candidates, repaired)
		}
	}

	var lastErr error
	for _, c := range candidates {
		var v T
		if err := json.Unmarshal([]byte(c), &v); err != nil {
			lastErr = fmt.Errorf("%w: %w", llmerrors.ErrJSONValidation, err)
			continue
		}
		if err := normalize(&v); err != nil {
			lastErr = err
			continue
		}
		return v, nil
	}
	if lastErr == nil {
		lastErr = llmerrors.ErrJSONValidation
	}
	return zero, lastErr
}

func normalizeExtraction(e *domain.ExtractionResult) error {
	e.Character = strings.TrimSpace(e.Character)
	states := e.States[:0]
	for _, s := range e.States {
		if s = strings.TrimSpace(s); s != "" {
			states = append(states, s)
		}
	}
	e.States = states
	return e.Validate()
}

func normalizeEvaluation(e *rawEvaluation) error {
	score := e.Score
	if score > domain.MaxScore && score <= PercentageScoreLimit {
		score /= 10
	}
	score = math.Round(score)
	if score < domain.MinScore || score > domain.MaxScore {
		return fmt.Errorf("%w: score %v", domain.ErrInvalidEvaluation, e.Score)
	}
	e.Score = score
	e.Justification = strings.TrimSpace(e.Justification)
	return nil
}

// repairJSON fixes common syntax errors in model output: trailing commas,
// missing closing braces, unquoted keys, single quotes and a BOM.
func repairJSON(content string) string {
	repaired := strings.TrimPrefix(strings.TrimSpace(content), "\ufeff")
	repaired = trailingCommaRe.ReplaceAllString(repaired, "$1")

	openBraces := strings.Count(repaired, "{") - strings.Count(repaired, "}")
	openBrackets := strings.Count(repaired, "[") - strings.Count(repaired, "]")
	repaired += strings.Repeat("]", max(openBrackets, 0))
	repaired += strings.Repeat("}", max(openBraces, 0))

	if !strings.Contains(repaired, `"`) && strings.Contains(repaired, `'`) {
		repaired = strings.ReplaceAll(repaired, `'`, `"`)
	}
	repaired = unquotedKeyRe.ReplaceAllString(repaired, `$1"$2":`)
	return strings.TrimSpace(repaired)
}

// extractJSON pulls a JSON object out of markdown fences or surrounding text.
func extractJSON(content string) string {
	for _, re := range jsonBlockRes {
		if matches := re.FindStringSubmatch(content); len(matches) > 1 {
			return strings.TrimSpace(matches[1])
		}
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start != -1 && end > start {
		return content[start : end+1]
	}
	return content
}
