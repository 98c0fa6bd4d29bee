package models

// ConditionOperator is the closed set of comparison operators.
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "EQUALS"
	OperatorNotEquals   ConditionOperator = "NOT_EQUALS"
	OperatorContains    ConditionOperator = "CONTAINS"
	OperatorNotContains ConditionOperator = "NOT_CONTAINS"
	OperatorIsNull      ConditionOperator = "IS_NULL"
	OperatorIsNotNull   ConditionOperator = "IS_NOT_NULL"
)

// TakesValue reports whether the operator compares against a configured
// value. Null checks do not.
func (o ConditionOperator) TakesValue() bool {
	return o != OperatorIsNull && o != OperatorIsNotNull
}

func (o ConditionOperator) Valid() bool {
	switch o {
	case OperatorEquals, OperatorNotEquals, OperatorContains, OperatorNotContains,
		OperatorIsNull, OperatorIsNotNull:
		return true
	default:
		return false
	}
}

// ConditionField names what a condition inspects: a current field value,
// one side of a field transition, or a text scalar. Values are the wire
// names used by the workflow editor.
type ConditionField string

const (
	// Current values of the task snapshot.
	CondEstadoID         ConditionField = "ESTADO_ID"
	CondPrioridadID      ConditionField = "PRIORIDAD_ID"
	CondTipoID           ConditionField = "TIPO_ID"
	CondModuloID         ConditionField = "MODULO_ID"
	CondReleaseID        ConditionField = "RELEASE_ID"
	CondAgenteAsignadoID ConditionField = "AGENTE_ASIGNADO_ID"
	CondClienteID        ConditionField = "CLIENTE_ID"
	CondCreadorID        ConditionField = "CREADOR_ID"

	// Before/after sides of a field transition. Only applicable on
	// modification events that carry the matching change.
	CondEstadoAnteriorID    ConditionField = "ESTADO_ANTERIOR_ID"
	CondEstadoNuevoID       ConditionField = "ESTADO_NUEVO_ID"
	CondPrioridadAnteriorID ConditionField = "PRIORIDAD_ANTERIOR_ID"
	CondPrioridadNuevoID    ConditionField = "PRIORIDAD_NUEVO_ID"
	CondTipoAnteriorID      ConditionField = "TIPO_ANTERIOR_ID"
	CondTipoNuevoID         ConditionField = "TIPO_NUEVO_ID"
	CondModuloAnteriorID    ConditionField = "MODULO_ANTERIOR_ID"
	CondModuloNuevoID       ConditionField = "MODULO_NUEVO_ID"
	CondReleaseAnteriorID   ConditionField = "RELEASE_ANTERIOR_ID"
	CondReleaseNuevoID      ConditionField = "RELEASE_NUEVO_ID"
	CondAgenteAnteriorID    ConditionField = "AGENTE_ANTERIOR_ID"
	CondAgenteNuevoID       ConditionField = "AGENTE_NUEVO_ID"

	// Text scalars.
	CondTitulo          ConditionField = "TITULO"
	CondDescripcion     ConditionField = "DESCRIPCION"
	CondComentarioTexto ConditionField = "COMENTARIO_TEXTO"
)

// FieldCategory drives which operators are meaningful for a field:
// substring operators apply to text only, identifiers compare exactly.
type FieldCategory int

const (
	CategoryIdentifier FieldCategory = iota
	CategoryText
)

// ConditionFieldCategories is the closed field vocabulary. Membership
// here is what workflow validation checks.
var ConditionFieldCategories = map[ConditionField]FieldCategory{
	CondEstadoID:         CategoryIdentifier,
	CondPrioridadID:      CategoryIdentifier,
	CondTipoID:           CategoryIdentifier,
	CondModuloID:         CategoryIdentifier,
	CondReleaseID:        CategoryIdentifier,
	CondAgenteAsignadoID: CategoryIdentifier,
	CondClienteID:        CategoryIdentifier,
	CondCreadorID:        CategoryIdentifier,

	CondEstadoAnteriorID:    CategoryIdentifier,
	CondEstadoNuevoID:       CategoryIdentifier,
	CondPrioridadAnteriorID: CategoryIdentifier,
	CondPrioridadNuevoID:    CategoryIdentifier,
	CondTipoAnteriorID:      CategoryIdentifier,
	CondTipoNuevoID:         CategoryIdentifier,
	CondModuloAnteriorID:    CategoryIdentifier,
	CondModuloNuevoID:       CategoryIdentifier,
	CondReleaseAnteriorID:   CategoryIdentifier,
	CondReleaseNuevoID:      CategoryIdentifier,
	CondAgenteAnteriorID:    CategoryIdentifier,
	CondAgenteNuevoID:       CategoryIdentifier,

	CondTitulo:          CategoryText,
	CondDescripcion:     CategoryText,
	CondComentarioTexto: CategoryText,
}

// Condition is one filter of a workflow. Conditions sharing an OrGroup
// combine with OR; distinct groups combine with AND.
type Condition struct {
	ID       string            `json:"id"`
	Field    ConditionField    `json:"field"    validate:"required"`
	Operator ConditionOperator `json:"operator" validate:"required"`
	Value    string            `json:"value"`
	OrGroup  int               `json:"or_group"`
}
