package template

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gestium/flowmail/pkg/models"
)

func TestRender(t *testing.T) {
	t.Parallel()

	ctx := Context{
		"tarea.titulo": "Login fails",
		"agente.email": "",
		"tarea.modulo": "",
	}

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{
			name: "plain substitution",
			tmpl: "Task: {{tarea.titulo}}",
			want: "Task: Login fails",
		},
		{
			name: "whitespace inside braces",
			tmpl: "Task: {{ tarea.titulo }}",
			want: "Task: Login fails",
		},
		{
			name: "unknown token left verbatim",
			tmpl: "Hello {{usuario.nombre}}",
			want: "Hello {{usuario.nombre}}",
		},
		{
			name: "empty value with fallback",
			tmpl: "Assigned: {{agente.email}}",
			want: "Assigned: unassigned",
		},
		{
			name: "empty value without fallback",
			tmpl: "Module: {{tarea.modulo}}.",
			want: "Module: .",
		},
		{
			name: "repeated token",
			tmpl: "{{tarea.titulo}} / {{tarea.titulo}}",
			want: "Login fails / Login fails",
		},
		{
			name: "no tokens",
			tmpl: "static text",
			want: "static text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, Render(tt.tmpl, ctx))
		})
	}
}

func TestNewContext(t *testing.T) {
	t.Parallel()

	ec := models.NewEventContext(&models.DomainEvent{
		ID:      "evt-1",
		Trigger: models.TriggerTaskUpdated,
		Task: models.Task{
			ID:         "task-1",
			Title:      "Cannot export",
			StateID:    "state-accepted",
			PriorityID: "prio-high",
		},
		Changes: []models.FieldChange{
			{Field: models.FieldEstado, Before: "state-pending", After: "state-accepted"},
		},
	})

	ctx := NewContext(ec)

	assert.Equal(t, "task-1", ctx["tarea.id"])
	assert.Equal(t, "Cannot export", ctx["tarea.titulo"])
	assert.Equal(t, "TAREA_MODIFICADA", ctx["evento.tipo"])
	assert.Equal(t, "estado", ctx["cambio.campo"])
	assert.Equal(t, "state-pending", ctx["cambio.anterior"])
	assert.Equal(t, "state-accepted", ctx["cambio.nuevo"])

	_, hasComment := ctx["comentario.texto"]
	assert.False(t, hasComment)
}

func TestNewContextWithoutChanges(t *testing.T) {
	t.Parallel()

	ec := models.NewEventContext(&models.DomainEvent{
		ID:      "evt-2",
		Trigger: models.TriggerTaskCreated,
		Task:    models.Task{ID: "task-1"},
	})

	ctx := NewContext(ec)

	_, hasChange := ctx["cambio.campo"]
	assert.False(t, hasChange)

	// Diff tokens stay verbatim so broken templates are visible.
	assert.Equal(t, "was {{cambio.anterior}}", Render("was {{cambio.anterior}}", ctx))
}

func TestContextWith(t *testing.T) {
	t.Parallel()

	base := Context{"tarea.id": "task-1"}
	extended := base.With(map[string]string{"agente.email": "a@example.com"})

	assert.Equal(t, "a@example.com", extended["agente.email"])
	assert.Equal(t, "task-1", extended["tarea.id"])

	_, mutated := base["agente.email"]
	assert.False(t, mutated, "With copies instead of mutating")
}

func TestSubjectOrDefault(t *testing.T) {
	t.Parallel()

	ctx := Context{
		"evento.tipo":  "TAREA_CREADA",
		"tarea.titulo": "Login fails",
	}

	assert.Equal(t, "Nueva: Login fails", SubjectOrDefault("Nueva: {{tarea.titulo}}", ctx))
	assert.Equal(t, "[TAREA_CREADA] Login fails", SubjectOrDefault("", ctx))
}
