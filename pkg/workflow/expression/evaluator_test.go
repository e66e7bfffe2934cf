package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	eval := New()
	scope := map[string]interface{}{
		"parsed": map[string]interface{}{
			"verdict": "approve",
			"labels":  []interface{}{"ready", "tested"},
			"score":   7.0,
		},
		"round": 2,
		"state": map[string]interface{}{"phase": "review"},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"comparison", `parsed.verdict == "approve"`, true},
		{"boolean logic", `parsed.score > 5 and round >= 2`, true},
		{"negation", `not (parsed.verdict == "fail")`, true},
		{"has on map", `has(parsed, "verdict")`, true},
		{"has miss", `has(parsed, "missing")`, false},
		{"includes on array", `includes(parsed.labels, "ready")`, true},
		{"includes on string", `includes(parsed.verdict, "app")`, true},
		{"length", `length(parsed.labels) == 2`, true},
		{"undefined identifier is falsy", `missing == "x"`, false},
		{"empty expression is true", ``, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.Evaluate(tt.expr, scope)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_CompileError(t *testing.T) {
	eval := New()
	_, err := eval.Evaluate(`=== nope`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile")
}

func TestEvaluate_CachesPrograms(t *testing.T) {
	eval := New()
	scope := map[string]interface{}{"round": 1}

	for i := 0; i < 5; i++ {
		_, err := eval.Evaluate(`round > 0`, scope)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, eval.CacheSize())

	_, err := eval.Evaluate(`round > 1`, scope)
	require.NoError(t, err)
	assert.Equal(t, 2, eval.CacheSize())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(`parsed.x == 1`))
	assert.NoError(t, Validate(``))
	assert.Error(t, Validate(`=== nope`))
}
