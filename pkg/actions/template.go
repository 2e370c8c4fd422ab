package actions

import (
	"regexp"

	"github.com/dukex/crmflow/pkg/conditions"
	"github.com/dukex/crmflow/pkg/models"
)

var placeholder = regexp.MustCompile(`\{\{\s*([\w.]+)\s*(?:\|\|\s*(?:'([^']*)'|"([^"]*)")\s*)?\}\}`)

// RenderTemplate substitutes {{field}} and {{field || 'fallback'}} placeholders. Fields
// are resolved like condition fields; a missing or empty value renders the fallback, or
// nothing when there is none.
func RenderTemplate(text string, vars models.Record) string {
	return placeholder.ReplaceAllStringFunc(text, func(match string) string {
		groups := placeholder.FindStringSubmatch(match)

		value := conditions.Resolve(groups[1], vars)
		if !conditions.IsEmpty(value) {
			return conditions.Stringify(value)
		}

		if groups[2] != "" {
			return groups[2]
		}

		return groups[3]
	})
}
