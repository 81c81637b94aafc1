package prompt

// Built-in templates. They can be replaced per deployment through Options.
const (
	defaultSystemTemplate = `You are an expert systematist building a phylogenetic character matrix.
You read the supplied source document and extract morphological characters
exactly as the authors define them. Never invent characters or states.
Answer with strict JSON only.`

	defaultExtractionTemplate = `Extract character number {{.CharacterIndex}} from the document.
Return the character label as "character" and its states, in the order the
document lists them, as "states". Do not include state numbers in the strings.`

	defaultEvaluationTemplate = `You are grading an extraction against the source document.

Request:
{{.UserQuery}}

Extraction to grade:
{{.GeneratedAnswer}}

Check the label and every state against the document. Score 10 for an exact
match, lower for missing, extra, merged or reworded states. Return "score"
as an integer between 0 and 10 and a one paragraph "justification".`
)
