package conditions_test

import (
	"testing"

	"github.com/dukex/crmflow/pkg/conditions"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	contact := models.Record{
		"id":     "c1",
		"source": "Website",
		"customFields": map[string]any{
			"industry": "SaaS",
		},
		"company": map[string]any{
			"name": "Acme",
		},
	}

	payload := models.Record{
		"contact": map[string]any{"email": "nested@example.com"},
		"email":   "top@example.com",
	}

	tests := []struct {
		name     string
		path     string
		entity   models.Record
		expected any
	}{
		{name: "direct property", path: "source", entity: contact, expected: "Website"},
		{name: "custom field", path: "customFields.industry", entity: contact, expected: "SaaS"},
		{name: "missing custom field", path: "customFields.size", entity: contact, expected: nil},
		{name: "nested object", path: "company.name", entity: contact, expected: "Acme"},
		{name: "missing intermediate", path: "owner.name", entity: contact, expected: nil},
		{name: "walk through scalar", path: "source.length", entity: contact, expected: nil},
		{name: "namespace prefix stripped on flat entity", path: "contact.source", entity: contact, expected: "Website"},
		{name: "namespace prefix reads nested object", path: "contact.email", entity: payload, expected: "nested@example.com"},
		{name: "deal prefix falls back to entity", path: "deal.email", entity: payload, expected: "top@example.com"},
		{name: "empty path", path: "", entity: contact, expected: nil},
		{name: "nil entity", path: "source", entity: nil, expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, conditions.Resolve(tt.path, tt.entity))
		})
	}
}
