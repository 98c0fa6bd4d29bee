package models

// RecipientType is the closed set of recipient specifications.
type RecipientType string

const (
	RecipientAssignedAgent  RecipientType = "AGENTE_ASIGNADO"
	RecipientTaskCreator    RecipientType = "CREADOR_TAREA"
	RecipientProjectLead1   RecipientType = "JEFE_PROYECTO_1"
	RecipientProjectLead2   RecipientType = "JEFE_PROYECTO_2"
	RecipientSpecificAgents RecipientType = "AGENTES_ESPECIFICOS"
	RecipientSpecificRoles  RecipientType = "ROLES_ESPECIFICOS"
	RecipientManualEmails   RecipientType = "EMAILS_MANUALES"
)

// RequiresValue reports whether the type needs a configured value (a
// comma-separated list of agents, roles or addresses).
func (t RecipientType) RequiresValue() bool {
	switch t {
	case RecipientSpecificAgents, RecipientSpecificRoles, RecipientManualEmails:
		return true
	default:
		return false
	}
}

func (t RecipientType) Valid() bool {
	switch t {
	case RecipientAssignedAgent, RecipientTaskCreator,
		RecipientProjectLead1, RecipientProjectLead2,
		RecipientSpecificAgents, RecipientSpecificRoles, RecipientManualEmails:
		return true
	default:
		return false
	}
}

// Recipient is one recipient specification of a workflow.
type Recipient struct {
	ID    string        `json:"id"`
	Type  RecipientType `json:"type" validate:"required"`
	Value string        `json:"value,omitempty"`
	IsCc  bool          `json:"is_cc"`
}

// Address is one resolved, deduplicated delivery address.
type Address struct {
	Email string
	Cc    bool
}
