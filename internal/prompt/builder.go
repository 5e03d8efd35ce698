package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"chatline/internal/provider"
)

var templates = template.Must(template.New("prompt").Parse(""))

func init() {
	for name, text := range map[string]string{
		"prefix":          prefixPersonaTemplate,
		"speaker":         speakerTemplate,
		"memory":          memoryContextTemplate,
		"knowledge":       knowledgeTemplate,
		"dispatch_system": dispatchSystemTemplate,
		"dispatch_user":   dispatchUserTemplate,
	} {
		template.Must(templates.New(name).Parse(text))
	}
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrTemplateRender, name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Assembler layers persona, prefix persona, memory, knowledge and the global
// prompt into one system prompt.
type Assembler struct {
	global string
	mode   Mode
}

// NewAssembler creates an assembler for the global prompt and its mode.
func NewAssembler(global string, mode Mode) *Assembler {
	return &Assembler{global: strings.TrimSpace(global), mode: mode}
}

// Assemble builds the system prompt. An empty string means no system
// message should be sent.
func (a *Assembler) Assemble(l Layers) (string, error) {
	if l.Disabled {
		return "", nil
	}

	base := strings.TrimSpace(l.Persona)
	if prefix := strings.TrimSpace(l.PrefixPersona); prefix != "" {
		if rest, ok := cutPrefixFold(prefix, OverridePrefix); ok {
			base = strings.TrimSpace(rest)
		} else if base == "" {
			base = prefix
		} else {
			s, err := render("prefix", map[string]string{"Prefix": prefix, "Base": base})
			if err != nil {
				return "", err
			}
			base = s
		}
	}

	sections := []string{base}
	for _, part := range []struct{ name, text string }{
		{"speaker", l.Speaker},
		{"memory", l.Memory},
		{"knowledge", l.Knowledge},
	} {
		text := strings.TrimSpace(part.text)
		if text == "" {
			continue
		}
		s, err := render(part.name, text)
		if err != nil {
			return "", err
		}
		sections = append(sections, s)
	}
	result := joinSections(sections...)

	if a.global == "" {
		return result, nil
	}
	switch a.mode {
	case ModeOverride:
		return a.global, nil
	case ModePrepend:
		return joinSections(a.global, result), nil
	default:
		return joinSections(result, a.global), nil
	}
}

// SystemMessage assembles the prompt and wraps it as a system message. The
// boolean is false when no system message should be sent.
func (a *Assembler) SystemMessage(l Layers) (provider.Message, bool, error) {
	text, err := a.Assemble(l)
	if err != nil || text == "" {
		return provider.Message{}, false, err
	}
	return provider.NewTextMessage(provider.RoleSystem, text), true, nil
}

// RenderDispatch renders the system and user messages of a dispatch call.
func RenderDispatch(data DispatchData) (system, user string, err error) {
	if system, err = render("dispatch_system", data); err != nil {
		return "", "", err
	}
	if user, err = render("dispatch_user", data); err != nil {
		return "", "", err
	}
	return system, user, nil
}

func joinSections(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}
