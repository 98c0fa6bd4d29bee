// Package template renders notification templates by pure token
// substitution. Rendering is idempotent and has no side effects, so the
// same context can be used for subject and body alike.
package template

import (
	"regexp"
	"strings"

	"github.com/gestium/flowmail/pkg/models"
)

// Context maps token names (e.g. "tarea.titulo") to their resolved
// values for one dispatch cycle. A key that is present with an empty
// value renders as the token's fallback literal, or as the empty string
// when no fallback is defined. Tokens absent from the context are left
// verbatim.
type Context map[string]string

var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// fallbacks holds the documented fallback literals for tokens whose
// value may legitimately be absent.
var fallbacks = map[string]string{
	"agente.email":    "unassigned",
	"agente.id":       "unassigned",
	"cambio.anterior": "(empty)",
	"cambio.nuevo":    "(empty)",
}

// Render substitutes every {{token}} found in the template against the
// context.
func Render(tmpl string, ctx Context) string {
	return tokenPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		token := strings.TrimSpace(strings.Trim(match, "{}"))

		value, known := ctx[token]
		if !known {
			return match
		}

		if value == "" {
			return fallbacks[token]
		}

		return value
	})
}

// NewContext assembles the token context for one event. Diff tokens
// (cambio.*) are only defined when the event carries at least one field
// change; the first change is exposed, matching the single-field shape
// of "changed" triggers.
func NewContext(ec *models.EventContext) Context {
	ctx := Context{
		"tarea.id":          ec.Task.ID,
		"tarea.titulo":      ec.Task.Title,
		"tarea.descripcion": ec.Task.Description,
		"tarea.estado":      ec.Task.StateID,
		"tarea.prioridad":   ec.Task.PriorityID,
		"tarea.tipo":        ec.Task.TypeID,
		"tarea.modulo":      ec.Task.ModuleID,
		"tarea.release":     ec.Task.ReleaseID,
		"agente.id":         ec.Task.AssignedAgentID,
		"cliente.id":        ec.Task.ClientID,
		"creador.id":        ec.Task.CreatorID,
		"evento.tipo":       string(ec.Event.Trigger),
	}

	if ec.Event.CommentText != "" {
		ctx["comentario.texto"] = ec.Event.CommentText
	}

	if len(ec.Event.Changes) > 0 {
		change := ec.Event.Changes[0]
		ctx["cambio.campo"] = string(change.Field)
		ctx["cambio.anterior"] = change.Before
		ctx["cambio.nuevo"] = change.After
	}

	return ctx
}

// With returns a copy of the context extended with extra tokens, e.g.
// directory lookups resolved by the dispatcher.
func (c Context) With(extra map[string]string) Context {
	out := make(Context, len(c)+len(extra))
	for k, v := range c {
		out[k] = v
	}

	for k, v := range extra {
		out[k] = v
	}

	return out
}

// SubjectOrDefault renders the workflow's custom subject, falling back
// to a generated subject from the task title.
func SubjectOrDefault(customSubject string, ctx Context) string {
	if customSubject != "" {
		return Render(customSubject, ctx)
	}

	return Render("[{{evento.tipo}}] {{tarea.titulo}}", ctx)
}
