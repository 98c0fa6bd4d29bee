package engine

import (
	"sort"
	"strings"

	"github.com/gestium/flowmail/pkg/models"
)

// fieldValue is the outcome of extracting one condition field from an
// event context. applicable is false when the field does not exist on
// the current event kind at all (e.g. a before-value on a creation
// event); present is false when the field exists but carries no value.
type fieldValue struct {
	value      string
	present    bool
	applicable bool
}

type fieldExtractor func(*models.EventContext) fieldValue

func current(get func(*models.Task) string) fieldExtractor {
	return func(ec *models.EventContext) fieldValue {
		v := get(ec.Task)

		return fieldValue{value: v, present: v != "", applicable: true}
	}
}

func diffBefore(field models.EntityField) fieldExtractor {
	return func(ec *models.EventContext) fieldValue {
		change, ok := ec.Change(field)
		if !ok {
			return fieldValue{}
		}

		return fieldValue{value: change.Before, present: change.Before != "", applicable: true}
	}
}

func diffAfter(field models.EntityField) fieldExtractor {
	return func(ec *models.EventContext) fieldValue {
		change, ok := ec.Change(field)
		if !ok {
			return fieldValue{}
		}

		return fieldValue{value: change.After, present: change.After != "", applicable: true}
	}
}

func comment() fieldExtractor {
	return func(ec *models.EventContext) fieldValue {
		if ec.Event.Trigger != models.TriggerCommentCreated {
			return fieldValue{}
		}

		v := ec.Event.CommentText

		return fieldValue{value: v, present: v != "", applicable: true}
	}
}

// fieldExtractors is the per-field dispatch table for the closed
// condition vocabulary.
var fieldExtractors = map[models.ConditionField]fieldExtractor{
	models.CondEstadoID:         current(func(t *models.Task) string { return t.StateID }),
	models.CondPrioridadID:      current(func(t *models.Task) string { return t.PriorityID }),
	models.CondTipoID:           current(func(t *models.Task) string { return t.TypeID }),
	models.CondModuloID:         current(func(t *models.Task) string { return t.ModuleID }),
	models.CondReleaseID:        current(func(t *models.Task) string { return t.ReleaseID }),
	models.CondAgenteAsignadoID: current(func(t *models.Task) string { return t.AssignedAgentID }),
	models.CondClienteID:        current(func(t *models.Task) string { return t.ClientID }),
	models.CondCreadorID:        current(func(t *models.Task) string { return t.CreatorID }),

	models.CondEstadoAnteriorID:    diffBefore(models.FieldEstado),
	models.CondEstadoNuevoID:       diffAfter(models.FieldEstado),
	models.CondPrioridadAnteriorID: diffBefore(models.FieldPrioridad),
	models.CondPrioridadNuevoID:    diffAfter(models.FieldPrioridad),
	models.CondTipoAnteriorID:      diffBefore(models.FieldTipo),
	models.CondTipoNuevoID:         diffAfter(models.FieldTipo),
	models.CondModuloAnteriorID:    diffBefore(models.FieldModulo),
	models.CondModuloNuevoID:       diffAfter(models.FieldModulo),
	models.CondReleaseAnteriorID:   diffBefore(models.FieldRelease),
	models.CondReleaseNuevoID:      diffAfter(models.FieldRelease),
	models.CondAgenteAnteriorID:    diffBefore(models.FieldAgente),
	models.CondAgenteNuevoID:       diffAfter(models.FieldAgente),

	models.CondTitulo:          current(func(t *models.Task) string { return t.Title }),
	models.CondDescripcion:     current(func(t *models.Task) string { return t.Description }),
	models.CondComentarioTexto: comment(),
}

// EvaluateConditions reports whether the condition set matches the
// event. Conditions sharing an OrGroup combine with OR; distinct groups
// combine with AND; an empty set always matches. Evaluation never
// errors: a field absent on the current event kind makes its condition
// false.
func EvaluateConditions(conditions []models.Condition, ec *models.EventContext) bool {
	if len(conditions) == 0 {
		return true
	}

	groups := make(map[int][]models.Condition)
	for _, c := range conditions {
		groups[c.OrGroup] = append(groups[c.OrGroup], c)
	}

	groupIDs := make([]int, 0, len(groups))
	for id := range groups {
		groupIDs = append(groupIDs, id)
	}

	sort.Ints(groupIDs)

	for _, id := range groupIDs {
		satisfied := false

		for _, c := range groups[id] {
			if evaluateCondition(c, ec) {
				satisfied = true

				break
			}
		}

		if !satisfied {
			return false
		}
	}

	return true
}

func evaluateCondition(c models.Condition, ec *models.EventContext) bool {
	extract, ok := fieldExtractors[c.Field]
	if !ok {
		return false
	}

	fv := extract(ec)
	if !fv.applicable {
		return false
	}

	switch c.Operator {
	case models.OperatorIsNull:
		return !fv.present
	case models.OperatorIsNotNull:
		return fv.present
	}

	if !fv.present {
		return false
	}

	category := models.ConditionFieldCategories[c.Field]

	switch c.Operator {
	case models.OperatorEquals:
		return fv.value == c.Value
	case models.OperatorNotEquals:
		return fv.value != c.Value
	case models.OperatorContains:
		return category == models.CategoryText &&
			strings.Contains(strings.ToLower(fv.value), strings.ToLower(c.Value))
	case models.OperatorNotContains:
		return category == models.CategoryText &&
			!strings.Contains(strings.ToLower(fv.value), strings.ToLower(c.Value))
	default:
		return false
	}
}
