package actions

import (
	"fmt"
	"strings"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "minLength": 1, "description": description}
}

func optionalID(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func objectSchema(required []string, properties map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// Schema returns the JSON schema of an action config.
func Schema(actionType models.ActionType) (map[string]any, bool) {
	switch actionType {
	case models.ActionUpdateField, models.ActionUpdateContactField, models.ActionUpdateDealField:
		return objectSchema([]string{"field"}, map[string]any{
			"field":    stringProp("Field to set. Use customFields.<name> for custom fields."),
			"value":    map[string]any{"description": "New value, any JSON type."},
			"entityId": optionalID("Explicit target record, defaults to the enrolled entity."),
		}), true
	case models.ActionAddContactTag, models.ActionRemoveContactTag:
		return objectSchema([]string{"tag"}, map[string]any{
			"tag":       stringProp("Tag name."),
			"contactId": optionalID("Explicit contact, defaults to the enrolled contact."),
		}), true
	case models.ActionUpdateDealStage, models.ActionMoveDealToStage:
		return objectSchema([]string{"stageId"}, map[string]any{
			"stageId": stringProp("Target sales stage."),
			"dealId":  optionalID("Explicit deal, defaults to the enrolled deal."),
		}), true
	case models.ActionSendEmail:
		return objectSchema([]string{"subject", "body"}, map[string]any{
			"to":      optionalID("Recipient address template, defaults to the contact email."),
			"subject": stringProp("Subject template, supports {{field}} and {{field || 'fallback'}}."),
			"body":    stringProp("Body template, supports {{field}} and {{field || 'fallback'}}."),
		}), true
	case models.ActionUpdateCandidateStatus:
		return objectSchema([]string{"status"}, map[string]any{
			"status":    stringProp("Candidate status."),
			"contactId": optionalID("Explicit candidate."),
		}), true
	case models.ActionMoveCandidateStage:
		return objectSchema([]string{"stageId"}, map[string]any{
			"stageId":   stringProp("Target candidate stage."),
			"contactId": optionalID("Explicit candidate."),
		}), true
	case models.ActionSetCandidateRating:
		return objectSchema([]string{"rating"}, map[string]any{
			"rating":    map[string]any{"type": "integer", "minimum": 1, "maximum": 5},
			"contactId": optionalID("Explicit candidate."),
		}), true
	case models.ActionAddCandidateNote:
		return objectSchema([]string{"note"}, map[string]any{
			"note":      stringProp("Note text."),
			"contactId": optionalID("Explicit candidate."),
		}), true
	case models.ActionSetInterviewDate:
		return objectSchema([]string{"date"}, map[string]any{
			"date":      map[string]any{"type": "string", "format": "date-time"},
			"contactId": optionalID("Explicit candidate."),
		}), true
	case models.ActionAssignPosition:
		return objectSchema([]string{"positionId"}, map[string]any{
			"positionId": stringProp("Position to assign."),
			"contactId":  optionalID("Explicit candidate."),
		}), true
	default:
		return nil, false
	}
}

func validateSchema(actionType models.ActionType, config map[string]any) error {
	schema, ok := Schema(actionType)
	if !ok {
		return fmt.Errorf("no schema for action type %q", actionType)
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		var errors []string
		for _, desc := range result.Errors() {
			errors = append(errors, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}
