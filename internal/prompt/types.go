package prompt

import (
	"strings"

	"chatline/internal/provider"
)

// Mode controls how the global system prompt combines with the rest.
type Mode string

const (
	ModeAppend   Mode = "append"
	ModePrepend  Mode = "prepend"
	ModeOverride Mode = "override"
)

// ParseMode returns the Mode for s, defaulting to ModeAppend.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePrepend:
		return ModePrepend
	case ModeOverride:
		return ModeOverride
	}
	return ModeAppend
}

// OverridePrefix marks a prefix persona that replaces the resolved persona.
const OverridePrefix = "override:"

// Layers are the per-request inputs of system prompt assembly.
type Layers struct {
	// Persona is the resolved persona or preset text.
	Persona string
	// PrefixPersona comes from the trigger layer. With OverridePrefix it
	// replaces Persona, otherwise it is put in front of it.
	PrefixPersona string
	Memory        string
	Knowledge     string
	// Speaker names the current participant in shared group contexts.
	Speaker string
	// Disabled suppresses the system message entirely.
	Disabled bool
}

// DispatchData feeds the dispatch prompt template.
type DispatchData struct {
	Groups    string
	TaskTypes []string
	History   []provider.Message
	Message   string
}
