package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filigree-dev/filigree/internal/types"
)

func TestBuiltinCorePack(t *testing.T) {
	r, err := NewBuiltin()
	require.NoError(t, err)

	for _, typeName := range []string{"task", "bug", "feature", "epic", "chore", "milestone", "phase", "step", "release"} {
		tpl, known := r.Get(typeName)
		assert.True(t, known, "type %s should be declared", typeName)
		require.NotNil(t, tpl)
		_, hasDone := tpl.TerminalState()
		assert.True(t, hasDone, "type %s needs a done-category state", typeName)
	}
}

func TestUnknownTypeFallsBackToTask(t *testing.T) {
	r, err := NewBuiltin()
	require.NoError(t, err)

	tpl, known := r.Get("mystery")
	assert.False(t, known)
	require.NotNil(t, tpl)
	assert.Equal(t, "task", tpl.Type)
	assert.Equal(t, "open", r.InitialState("mystery"))
}

func TestCheckTransitionHardGate(t *testing.T) {
	r, err := NewBuiltin()
	require.NoError(t, err)

	// Bug triage -> confirmed requires severity, hard.
	check := r.CheckTransition("bug", "triage", "confirmed", nil)
	assert.False(t, check.Allowed)
	assert.True(t, check.Declared)
	assert.Equal(t, []string{"severity"}, check.MissingFields)

	check = r.CheckTransition("bug", "triage", "confirmed", map[string]any{"severity": "high"})
	assert.True(t, check.Allowed)
	assert.Empty(t, check.MissingFields)

	// Empty string does not satisfy a required field.
	check = r.CheckTransition("bug", "triage", "confirmed", map[string]any{"severity": "  "})
	assert.False(t, check.Allowed)
}

func TestCheckTransitionSoftGate(t *testing.T) {
	r, err := NewBuiltin()
	require.NoError(t, err)

	check := r.CheckTransition("bug", "triage", "fixed", nil)
	assert.True(t, check.Allowed, "soft gates pass")
	assert.True(t, check.Advisory, "but flag the missing fields")
	assert.Equal(t, []string{"resolution"}, check.MissingFields)
}

func TestCheckTransitionUndeclaredEdge(t *testing.T) {
	r, err := NewBuiltin()
	require.NoError(t, err)

	check := r.CheckTransition("task", "open", "nirvana", nil)
	assert.False(t, check.Allowed)
	assert.False(t, check.Declared)
}

func TestValidTransitionsAnnotated(t *testing.T) {
	r, err := NewBuiltin()
	require.NoError(t, err)

	out := r.ValidTransitions("bug", "triage", nil)
	require.Len(t, out, 2)

	byTo := map[string]types.ValidTransition{}
	for _, tr := range out {
		byTo[tr.To] = tr
	}
	confirmed := byTo["confirmed"]
	assert.Equal(t, types.EnforcementHard, confirmed.Enforcement)
	assert.False(t, confirmed.Ready)
	fixed := byTo["fixed"]
	assert.Equal(t, types.CategoryDone, fixed.Category)
	assert.True(t, fixed.Ready, "soft transitions stay ready")
}

func TestWorkingAndTerminalStates(t *testing.T) {
	r, err := NewBuiltin()
	require.NoError(t, err)

	wip, err := r.WorkingState("task")
	require.NoError(t, err)
	assert.Equal(t, "in_progress", wip)

	done, err := r.TerminalState("bug")
	require.NoError(t, err)
	assert.Equal(t, "fixed", done)
}

func TestProjectPackOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	packsDir := filepath.Join(dir, "packs")
	require.NoError(t, os.MkdirAll(packsDir, 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "templates"), 0o750))

	pack := `
name = "core"
version = "2"

[[templates]]
type = "task"
initial_state = "todo"

  [[templates.states]]
  name = "todo"
  category = "open"

  [[templates.states]]
  name = "doing"
  category = "wip"

  [[templates.states]]
  name = "done"
  category = "done"

  [[templates.transitions]]
  from_state = "todo"
  to_state = "doing"

  [[templates.transitions]]
  from_state = "doing"
  to_state = "done"
`
	require.NoError(t, os.WriteFile(filepath.Join(packsDir, "core.toml"), []byte(pack), 0o600))

	r, err := New(dir, []string{"core"})
	require.NoError(t, err)

	tpl, known := r.Get("task")
	assert.True(t, known)
	assert.Equal(t, "todo", tpl.InitialState)
	// The replacement pack only declares task; other builtin types are gone.
	_, known = r.Get("bug")
	assert.False(t, known)
}

func TestTemplateOverrideSingleType(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "packs"), 0o750))
	overrides := filepath.Join(dir, "templates")
	require.NoError(t, os.MkdirAll(overrides, 0o750))

	tpl := `{
		"type": "bug",
		"initial_state": "new",
		"states": [
			{"name": "new", "category": "open"},
			{"name": "squashed", "category": "done"}
		],
		"transitions": [
			{"from_state": "new", "to_state": "squashed"}
		]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(overrides, "bug.json"), []byte(tpl), 0o600))

	r, err := New(dir, []string{"core"})
	require.NoError(t, err)

	got, known := r.Get("bug")
	assert.True(t, known)
	assert.Equal(t, "new", got.InitialState)
	// Other types still come from the builtin pack.
	task, _ := r.Get("task")
	assert.Equal(t, "open", task.InitialState)
}

func TestInvalidPackRejected(t *testing.T) {
	dir := t.TempDir()
	packsDir := filepath.Join(dir, "packs")
	require.NoError(t, os.MkdirAll(packsDir, 0o750))

	bad := `{"name": "broken", "templates": [{"type": "x", "initial_state": "ghost", "states": [{"name": "real", "category": "open"}]}]}`
	require.NoError(t, os.WriteFile(filepath.Join(packsDir, "broken.json"), []byte(bad), 0o600))

	_, err := New(dir, []string{"core", "broken"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestExplainState(t *testing.T) {
	r, err := NewBuiltin()
	require.NoError(t, err)

	text := r.ExplainState("bug", "triage")
	assert.Contains(t, text, "open-category")
	assert.Contains(t, text, "confirmed")
	assert.Contains(t, text, "severity")
}

func TestWorkflowGuide(t *testing.T) {
	r, err := NewBuiltin()
	require.NoError(t, err)

	guide := r.WorkflowGuide()
	assert.Contains(t, guide, "task")
	assert.Contains(t, guide, "requires severity")
}
