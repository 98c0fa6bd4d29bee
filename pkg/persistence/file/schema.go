package file

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// workflowSchema validates workflow documents on load. File persistence
// is the one backend where documents can be edited by hand, so malformed
// files are rejected early instead of surfacing as zero-valued
// workflows at dispatch time.
const workflowSchema = `{
	"type": "object",
	"required": ["id", "name", "trigger"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"name": {"type": "string", "minLength": 3},
		"trigger": {
			"type": "string",
			"enum": ["TAREA_CREADA", "TAREA_MODIFICADA", "COMENTARIO_CREADO", "TAREA_ASIGNADA"]
		},
		"active": {"type": "boolean"},
		"order": {"type": "integer"},
		"stop_on_match": {"type": "boolean"},
		"delay_minutes": {"type": "integer", "minimum": 0},
		"conditions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["field", "operator"],
				"properties": {
					"field": {"type": "string"},
					"operator": {
						"type": "string",
						"enum": ["EQUALS", "NOT_EQUALS", "CONTAINS", "NOT_CONTAINS", "IS_NULL", "IS_NOT_NULL"]
					},
					"value": {"type": "string"},
					"or_group": {"type": "integer"}
				}
			}
		},
		"recipients": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["type"],
				"properties": {
					"type": {"type": "string"},
					"value": {"type": "string"},
					"is_cc": {"type": "boolean"}
				}
			}
		},
		"actions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["type", "value"],
				"properties": {
					"type": {"type": "string"},
					"value": {"type": "string", "minLength": 1}
				}
			}
		}
	}
}`

var workflowSchemaLoader = gojsonschema.NewStringLoader(workflowSchema)

func validateWorkflowDocument(data []byte) error {
	result, err := gojsonschema.Validate(workflowSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("failed to validate workflow document: %w", err)
	}

	if !result.Valid() {
		return fmt.Errorf("invalid workflow document: %s", result.Errors()[0].String())
	}

	return nil
}
