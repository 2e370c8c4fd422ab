package actions

import (
	"context"
	"reflect"
	"slices"
	"strings"

	"github.com/dukex/crmflow/pkg/models"
)

const customFieldPrefix = models.FieldCustomFields + "."

func (e *Executor) updateField(ctx context.Context, a *UpdateField, target Target) error {
	op := string(a.Kind)

	entityType := a.Scope
	if entityType == "" {
		entityType = target.EntityType
	}

	id := a.EntityID
	if id == "" {
		var err error

		switch {
		case entityType == target.EntityType:
			id = target.EntityID
		case entityType == models.EntityContact:
			id, err = e.resolveContactID(ctx, op, "", target)
		default:
			id, err = e.resolveDealID(op, "", target)
		}

		if err != nil {
			return err
		}
	}

	record, err := e.load(ctx, op, entityType, id, target)
	if err != nil {
		return err
	}

	if name, ok := strings.CutPrefix(a.Field, customFieldPrefix); ok {
		fields := record.CustomFields()
		if current, exists := fields[name]; exists && reflect.DeepEqual(current, a.Value) {
			return nil
		}

		fields[name] = a.Value

		return e.update(ctx, op, entityType, id, models.Record{models.FieldCustomFields: fields})
	}

	if current, exists := record[a.Field]; exists && reflect.DeepEqual(current, a.Value) {
		return nil
	}

	return e.update(ctx, op, entityType, id, models.Record{a.Field: a.Value})
}

func (e *Executor) addTag(ctx context.Context, a *AddTag, target Target) error {
	op := string(models.ActionAddContactTag)

	contactID, err := e.resolveContactID(ctx, op, a.ContactID, target)
	if err != nil {
		return err
	}

	contact, err := e.load(ctx, op, models.EntityContact, contactID, target)
	if err != nil {
		return err
	}

	tags := contact.Tags()
	if slices.Contains(tags, a.Tag) {
		return nil
	}

	return e.update(ctx, op, models.EntityContact, contactID, models.Record{models.FieldTags: append(tags, a.Tag)})
}

func (e *Executor) removeTag(ctx context.Context, a *RemoveTag, target Target) error {
	op := string(models.ActionRemoveContactTag)

	contactID, err := e.resolveContactID(ctx, op, a.ContactID, target)
	if err != nil {
		return err
	}

	contact, err := e.load(ctx, op, models.EntityContact, contactID, target)
	if err != nil {
		return err
	}

	tags := contact.Tags()
	if !slices.Contains(tags, a.Tag) {
		return nil
	}

	kept := slices.DeleteFunc(tags, func(tag string) bool { return tag == a.Tag })

	return e.update(ctx, op, models.EntityContact, contactID, models.Record{models.FieldTags: kept})
}
