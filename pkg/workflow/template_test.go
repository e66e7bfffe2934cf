package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	scope := Scope{
		"user": map[string]interface{}{
			"title": "Fix flaky test",
			"empty": "",
			"count": 3.0,
			"flags": []interface{}{"a", "b"},
		},
		"state": map[string]string{"phase": "review"},
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"plain text", "no expressions here", "no expressions here"},
		{"simple path", "task: {{user.title}}", "task: Fix flaky test"},
		{"state path", "phase={{state.phase}}", "phase=review"},
		{"literal", `{{"hard-coded"}}`, "hard-coded"},
		{"fallback to literal", `{{user.missing||"default"}}`, "default"},
		{"fallback skips empty value", `{{user.empty||"fallback"}}`, "fallback"},
		{"empty literal is defined", `[{{""}}]`, "[]"},
		{"first defined wins", `{{user.title||"unused"}}`, "Fix flaky test"},
		{"number stringified", "{{user.count}}", "3"},
		{"array stringified", "{{user.flags}}", `["a","b"]`},
		{"all segments miss", "x{{user.missing||state.missing}}y", "xy"},
		{"escaped quote in literal", `{{"say \"hi\""}}`, `say "hi"`},
		{"multiple expressions", "{{state.phase}}/{{user.count}}", "review/3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.template, scope)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_Deterministic(t *testing.T) {
	scope := Scope{"user": map[string]interface{}{"n": 1.5}}
	first, err := Render("{{user.n}} and {{user.missing||\"x\"}}", scope)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Render("{{user.n}} and {{user.missing||\"x\"}}", scope)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRender_Unterminated(t *testing.T) {
	_, err := Render("before {{user.title", Scope{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unterminated")
}

func TestRenderTree(t *testing.T) {
	scope := Scope{"state": map[string]string{"k": "v"}}
	in := map[string]interface{}{
		"text":   "{{state.k}}",
		"number": 42.0,
		"nested": map[string]interface{}{"deep": "{{state.missing||\"d\"}}"},
		"list":   []interface{}{"{{state.k}}", true},
	}

	out, err := RenderTree(in, scope)
	require.NoError(t, err)

	m := out.(map[string]interface{})
	assert.Equal(t, "v", m["text"])
	assert.Equal(t, 42.0, m["number"])
	assert.Equal(t, "d", m["nested"].(map[string]interface{})["deep"])
	assert.Equal(t, []interface{}{"v", true}, m["list"])
}

func TestRenderMap(t *testing.T) {
	scope := Scope{"round": 2}
	out, err := RenderMap(map[string]string{"r": "round {{round}}"}, scope)
	require.NoError(t, err)
	assert.Equal(t, "round 2", out["r"])
}
