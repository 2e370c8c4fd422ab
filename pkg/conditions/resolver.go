// Package conditions resolves fields on entity snapshots and evaluates predicate lists.
package conditions

import (
	"strings"

	"github.com/dukex/crmflow/pkg/models"
)

var namespaces = []string{string(models.EntityContact), string(models.EntityDeal)}

// Resolve reads a dot-separated path off an entity. Paths prefixed with an entity
// namespace ("contact.", "deal.") are read from the nested object of that name when the
// entity carries one, otherwise the prefix is dropped and the path is read off the
// entity itself. Missing segments resolve to nil.
func Resolve(path string, entity models.Record) any {
	if path == "" || entity == nil {
		return nil
	}

	for _, namespace := range namespaces {
		prefix := namespace + "."
		if !strings.HasPrefix(path, prefix) {
			continue
		}

		if nested, ok := entity[namespace].(map[string]any); ok {
			return walk(nested, strings.Split(strings.TrimPrefix(path, prefix), "."))
		}

		if nested, ok := entity[namespace].(models.Record); ok {
			return walk(nested, strings.Split(strings.TrimPrefix(path, prefix), "."))
		}

		return walk(map[string]any(entity), strings.Split(strings.TrimPrefix(path, prefix), "."))
	}

	return walk(map[string]any(entity), strings.Split(path, "."))
}

func walk(current map[string]any, segments []string) any {
	var value any = current

	for _, segment := range segments {
		switch node := value.(type) {
		case map[string]any:
			value = node[segment]
		case models.Record:
			value = node[segment]
		default:
			return nil
		}

		if value == nil {
			return nil
		}
	}

	return value
}
