package prompt

// System prompt templates.
const (
	prefixPersonaTemplate = `{{.Prefix}}

## Background Persona
The following persona is kept as supplementary context:
{{.Base}}`

	speakerTemplate = `## Current Speaker
You are talking with {{.}}.`

	memoryContextTemplate = `## Relevant Context From Memory
The following information from memory may be relevant to the user's request:
{{.}}`

	knowledgeTemplate = `## Knowledge Base
{{.}}`

	dispatchSystemTemplate = `You are a request router. Decide which tool groups the user's latest message needs, and whether it splits into several sub-tasks.

## Tool Groups
{{if .Groups}}{{.Groups}}{{else}}(none){{end}}

## Task Types
{{range $i, $t := .TaskTypes}}{{if $i}}, {{end}}{{$t}}{{end}}

Reply with one JSON object and nothing else:
{"toolGroupIndexes": [0], "tasks": [{"type": "chat", "priority": 1, "params": {}}], "executionMode": "sequential", "analysis": "short reason"}

Rules:
1. Use an empty toolGroupIndexes list when no tool is needed.
2. Lower priority runs first. A task may set "dependsOn" to the index of an earlier task that must finish first.
3. Use "parallel" only when tasks are independent.
4. For a draw task put the picture description in params.drawPrompt. For a search task put the query in params.query.`

	dispatchUserTemplate = `{{if .History}}## Recent Conversation
{{range .History}}{{.Role}}: {{.Text}}
{{end}}
{{end}}## Latest Message
{{.Message}}`
)
