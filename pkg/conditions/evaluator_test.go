package conditions_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/dukex/crmflow/pkg/conditions"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_Operators(t *testing.T) {
	t.Parallel()

	entity := models.Record{
		"name":   "Ada Lovelace",
		"source": "Website",
		"value":  float64(1500),
		"score":  "42",
		"empty":  "",
		"zero":   0,
		"off":    false,
		"tags":   []any{"vip", "newsletter"},
	}

	tests := []struct {
		name      string
		condition models.Condition
		expected  bool
	}{
		{"equals string", models.Condition{Field: "source", Operator: models.OperatorEquals, Value: "Website"}, true},
		{"equals is case sensitive", models.Condition{Field: "source", Operator: models.OperatorEquals, Value: "website"}, false},
		{"equals numeric string loosely", models.Condition{Field: "score", Operator: models.OperatorEquals, Value: 42}, true},
		{"equals number loosely", models.Condition{Field: "value", Operator: models.OperatorEquals, Value: "1500"}, true},
		{"equals missing vs value", models.Condition{Field: "missing", Operator: models.OperatorEquals, Value: "x"}, false},
		{"not equals", models.Condition{Field: "source", Operator: models.OperatorNotEquals, Value: "Referral"}, true},
		{"contains case insensitive", models.Condition{Field: "name", Operator: models.OperatorContains, Value: "LOVE"}, true},
		{"contains on empty field", models.Condition{Field: "empty", Operator: models.OperatorContains, Value: ""}, false},
		{"contains on missing field", models.Condition{Field: "missing", Operator: models.OperatorContains, Value: "a"}, false},
		{"not contains", models.Condition{Field: "name", Operator: models.OperatorNotContains, Value: "Babbage"}, true},
		{"not contains on empty field", models.Condition{Field: "empty", Operator: models.OperatorNotContains, Value: "x"}, false},
		{"greater than", models.Condition{Field: "value", Operator: models.OperatorGreaterThan, Value: 1000}, true},
		{"greater than numeric string", models.Condition{Field: "score", Operator: models.OperatorGreaterThan, Value: "41.5"}, true},
		{"less than", models.Condition{Field: "value", Operator: models.OperatorLessThan, Value: 1000}, false},
		{"greater than non numeric", models.Condition{Field: "name", Operator: models.OperatorGreaterThan, Value: 1}, false},
		{"less than non numeric", models.Condition{Field: "name", Operator: models.OperatorLessThan, Value: 1}, false},
		{"less than NaN", models.Condition{Field: "value", Operator: models.OperatorLessThan, Value: math.NaN()}, false},
		{"greater than missing", models.Condition{Field: "missing", Operator: models.OperatorGreaterThan, Value: 0}, false},
		{"has tag", models.Condition{Field: "tags", Operator: models.OperatorHasTag, Value: "vip"}, true},
		{"has tag missing", models.Condition{Field: "tags", Operator: models.OperatorHasTag, Value: "lead"}, false},
		{"has tag ignores field", models.Condition{Field: "name", Operator: models.OperatorHasTag, Value: "newsletter"}, true},
		{"not has tag", models.Condition{Field: "tags", Operator: models.OperatorNotHasTag, Value: "lead"}, true},
		{"unknown operator", models.Condition{Field: "source", Operator: "matches_regex", Value: ".*"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, conditions.Evaluate(tt.condition, entity))
		})
	}
}

func TestEvaluate_Emptiness(t *testing.T) {
	t.Parallel()

	entity := models.Record{
		"null":  nil,
		"empty": "",
		"zero":  0,
		"false": false,
	}

	tests := []struct {
		field   string
		isEmpty bool
	}{
		{field: "null", isEmpty: true},
		{field: "empty", isEmpty: true},
		{field: "absent", isEmpty: true},
		{field: "zero", isEmpty: false},
		{field: "false", isEmpty: false},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.isEmpty, conditions.Evaluate(models.Condition{Field: tt.field, Operator: models.OperatorIsEmpty}, entity))
			assert.Equal(t, !tt.isEmpty, conditions.Evaluate(models.Condition{Field: tt.field, Operator: models.OperatorIsNotEmpty}, entity))
		})
	}
}

func TestEvaluateAll_Empty(t *testing.T) {
	t.Parallel()

	assert.True(t, conditions.EvaluateAll(nil, models.Record{}))
}

func TestEvaluateAll_PerEdgeLogicTruthTable(t *testing.T) {
	t.Parallel()

	flag := func(field string, logic models.Logic) models.Condition {
		return models.Condition{Field: field, Operator: models.OperatorEquals, Value: true, Logic: logic}
	}

	list := []models.Condition{
		flag("a", models.LogicAnd),
		flag("b", models.LogicOr),
		flag("c", ""),
	}

	for _, a := range []bool{false, true} {
		for _, b := range []bool{false, true} {
			for _, c := range []bool{false, true} {
				t.Run(fmt.Sprintf("a=%t b=%t c=%t", a, b, c), func(t *testing.T) {
					entity := models.Record{"a": a, "b": b, "c": c}

					assert.Equal(t, (a && b) || c, conditions.EvaluateAll(list, entity))
				})
			}
		}
	}
}

func TestEvaluateAll_DefaultLogicIsAnd(t *testing.T) {
	t.Parallel()

	list := []models.Condition{
		{Field: "source", Operator: models.OperatorEquals, Value: "Website"},
		{Field: "tags", Operator: models.OperatorHasTag, Value: "vip"},
	}

	assert.True(t, conditions.EvaluateAll(list, models.Record{"source": "Website", "tags": []string{"vip"}}))
	assert.False(t, conditions.EvaluateAll(list, models.Record{"source": "Website"}))
}

func TestEvaluateAllTraced_SkipsUndecidingOperands(t *testing.T) {
	t.Parallel()

	list := []models.Condition{
		{Field: "a", Operator: models.OperatorEquals, Value: true, Logic: models.LogicAnd},
		{Field: "b", Operator: models.OperatorEquals, Value: true, Logic: models.LogicOr},
		{Field: "c", Operator: models.OperatorEquals, Value: true},
	}

	result, trace := conditions.EvaluateAllTraced(list, models.Record{"a": false, "b": true, "c": true})
	require.Len(t, trace, 3)

	assert.True(t, result)
	assert.True(t, trace[0].Evaluated)
	assert.False(t, trace[0].Result)
	assert.False(t, trace[1].Evaluated, "b cannot change a false AND accumulator")
	assert.True(t, trace[2].Evaluated)
	assert.True(t, trace[2].Result)
	assert.Equal(t, true, trace[2].Actual)
}

func TestEvaluateAll_BranchValueThreshold(t *testing.T) {
	t.Parallel()

	high := []models.Condition{{Field: "value", Operator: models.OperatorGreaterThan, Value: 1000}}

	assert.False(t, conditions.EvaluateAll(high, models.Record{"value": 500}))
	assert.True(t, conditions.EvaluateAll(high, models.Record{"value": 1500}))
}

func TestSelectBranch(t *testing.T) {
	t.Parallel()

	config := &models.BranchConfig{
		Branches: []models.Branch{
			{Name: "high", Conditions: []models.Condition{{Field: "value", Operator: models.OperatorGreaterThan, Value: 1000}}},
		},
		DefaultBranch: "low",
	}

	branch, trace := conditions.SelectBranch(config, models.Record{"value": 500})
	assert.Equal(t, "low", branch)
	assert.Len(t, trace, 1)

	branch, _ = conditions.SelectBranch(config, models.Record{"value": 1500})
	assert.Equal(t, "high", branch)

	config.DefaultBranch = ""
	branch, _ = conditions.SelectBranch(config, models.Record{"value": 500})
	assert.Empty(t, branch)

	branch, trace = conditions.SelectBranch(nil, models.Record{})
	assert.Empty(t, branch)
	assert.Empty(t, trace)
}

func TestLooseEqual(t *testing.T) {
	t.Parallel()

	assert.True(t, conditions.LooseEqual(nil, nil))
	assert.False(t, conditions.LooseEqual(nil, ""))
	assert.True(t, conditions.LooseEqual(true, 1))
	assert.False(t, conditions.LooseEqual(true, "true"))
	assert.True(t, conditions.LooseEqual(true, "1"))
	assert.False(t, conditions.LooseEqual(false, "false"))
	assert.True(t, conditions.LooseEqual(false, ""))
	assert.True(t, conditions.LooseEqual("", 0))
	assert.True(t, conditions.LooseEqual(" ", 0))
	assert.False(t, conditions.LooseEqual("abc", 0))
	assert.True(t, conditions.LooseEqual("1.0", 1))
	assert.False(t, conditions.LooseEqual("1.0", "1"))
	assert.False(t, conditions.LooseEqual("abc", "ABC"))
	assert.True(t, conditions.LooseEqual([]any{"a", "b"}, "a,b"))
}
