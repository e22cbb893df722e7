// Package prompt renders prompt templates in two phases.
//
// Phase one runs a Go text/template with sprig functions over engine-provided
// data (knowledge graph context, per-chat options). Its output is then
// brace-escaped, so that nothing the first phase produced can be interpreted
// as a placeholder later, except a small set of deferred markers that survive
// as single-brace slots.
//
// Phase two, Format, fills those remaining single-brace slots with runtime
// values (the refined question, the retrieved context) immediately before the
// text is sent to a model. Values substituted in phase two are never
// reinterpreted.
package prompt

import (
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// ErrTemplate wraps any parse or execution failure of a phase-one template.
// Callers match it with errors.Is to distinguish a broken engine
// configuration from model or retrieval failures.
var ErrTemplate = errors.New("prompt template error")

// deferred are the markers a template author writes to leave a slot open for
// phase two. They are written with angle brackets so that the brace escaping
// between the phases cannot touch them.
var deferred = []string{
	"query_str",
	"context_str",
	"existing_answer",
	"context_msg",
	"original_question",
	"graph_knowledges",
	"chat_history",
}

// RenderRaw executes tmpl with data and returns the output untouched. Used
// for fragments (graph knowledge context) that feed a later Render call as
// data, where escaping happens once at the outer template.
func RenderRaw(name, tmpl string, data any) (string, error) {
	t, err := template.New(name).Funcs(sprig.TxtFuncMap()).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: parsing %s: %v", ErrTemplate, name, err)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("%w: executing %s: %v", ErrTemplate, name, err)
	}
	return sb.String(), nil
}

// Render executes tmpl with data, escapes the result, and restores deferred
// markers as single-brace slots for Format.
//
// Only markers written in the template text become slots. The same marker
// arriving through data (a user question quoting "<<query_str>>", a retrieved
// chunk) stays literal text, so untrusted input cannot open a slot.
func Render(name, tmpl string, data any) (string, error) {
	// Swap template-authored markers for a NUL-framed sentinel before
	// execution. Data flows in afterwards, so any marker it carries is
	// missing the sentinel and survives escaping as plain text. NUL cannot
	// appear in template or data text coming out of Postgres.
	for _, slot := range deferred {
		tmpl = strings.ReplaceAll(tmpl, "<<"+slot+">>", "\x00"+slot+"\x00")
	}

	t, err := template.New(name).Funcs(sprig.TxtFuncMap()).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: parsing %s: %v", ErrTemplate, name, err)
	}

	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("%w: executing %s: %v", ErrTemplate, name, err)
	}

	out := strings.ReplaceAll(sb.String(), "{", "{{")
	out = strings.ReplaceAll(out, "}", "}}")
	for _, slot := range deferred {
		out = strings.ReplaceAll(out, "\x00"+slot+"\x00", "{"+slot+"}")
	}
	return out, nil
}

// Format substitutes {name} slots in s with vars and collapses the brace
// escapes produced by Render. Substituted values are copied verbatim; braces
// inside a value are never treated as further slots.
//
// An unknown slot name is an error: every caller knows the full variable set
// of its template, so a miss means the template and the call site disagree.
func Format(s string, vars map[string]string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '{' && i+1 < len(s) && s[i+1] == '{':
			sb.WriteByte('{')
			i += 2
		case c == '}' && i+1 < len(s) && s[i+1] == '}':
			sb.WriteByte('}')
			i += 2
		case c == '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("%w: unterminated slot at offset %d", ErrTemplate, i)
			}
			name := s[i+1 : i+end]
			val, ok := vars[name]
			if !ok {
				return "", fmt.Errorf("%w: unknown slot %q", ErrTemplate, name)
			}
			sb.WriteString(val)
			i += end + 1
		case c == '}':
			return "", fmt.Errorf("%w: unmatched '}' at offset %d", ErrTemplate, i)
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String(), nil
}
