package sanitize

import (
	"encoding/json"
	"strings"
	"text/template"
)

// evaluationPromptTemplate is bundled with the binary, never supplied by
// a caller or a rule author — only sampling_guidance (itself sanitized)
// flows in as data. Every field is pre-escaped via jsonString before
// reaching the template so a malicious parameter value cannot break out
// of its slot.
var evaluationPromptTemplate = template.Must(template.New("evaluation").Parse(
	`You are evaluating whether an AI coding agent should be allowed to run a tool.

Tool: {{.ToolName}}
Working directory: {{.Cwd}}
Agent: {{.AgentID}}
Parameters (JSON): {{.Parameters}}
{{if .Guidance}}
Guidance: {{.Guidance}}
{{end}}
Respond with a verdict of allow, deny, or ask, a confidence between 0 and 1,
a short reason, and any risk factors you observed.`,
))

// PromptFields are the template inputs named in spec.md §4.C.
type PromptFields struct {
	ToolName   string
	Parameters string // already JSON-encoded and sanitized
	Cwd        string
	AgentID    string
	Guidance   string
}

// BuildEvaluationPrompt is the Prompt Builder's single exposed method
// (spec.md §4.C): build_evaluation_prompt(request, rule) -> string.
// Callers pass already-decoded pieces rather than the full model types
// to keep this package free of a dependency on model.
func BuildEvaluationPrompt(toolName string, parameters interface{}, cwd, agentID, guidance string) (string, error) {
	encodedParams, err := json.Marshal(parameters)
	if err != nil {
		return "", err
	}

	fields := PromptFields{
		ToolName:   jsonString(String(toolName, MaxStringBytes)),
		Parameters: string(encodedParams),
		Cwd:        jsonString(Path(cwd)),
		AgentID:    jsonString(Identifier(agentID)),
		Guidance:   jsonString(String(guidance, MaxStringBytes)),
	}

	var b strings.Builder
	if err := evaluationPromptTemplate.Execute(&b, fields); err != nil {
		return "", err
	}
	return b.String(), nil
}

// jsonString escapes s the way encoding/json would inside a string
// literal, then strips the surrounding quotes — this is the "JSON-
// escape interpolated values" requirement from spec.md §4.C applied to
// plain-text template slots rather than HTML ones.
func jsonString(s string) string {
	encoded, _ := json.Marshal(s)
	if len(encoded) >= 2 {
		return string(encoded[1 : len(encoded)-1])
	}
	return s
}
