// Package templates resolves issue types to their workflow state machines.
//
// Resolution is layered: builtin packs ship with the binary, project packs in
// .filigree/packs/ add or replace whole packs, and .filigree/templates/
// overrides a single type. The merged view is swapped atomically, so readers
// never see a half-loaded registry.
package templates

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/filigree-dev/filigree/internal/types"
)

// snapshot is one immutable merged view of all enabled packs
type snapshot struct {
	templates map[string]*types.Template
	packs     []*types.Pack
}

// Registry answers workflow questions for the engine. Safe for concurrent
// use; Reload swaps the snapshot pointer.
type Registry struct {
	current atomic.Pointer[snapshot]
	dir     string // .filigree directory, "" for builtin-only
	enabled []string
}

// TransitionCheck is the registry's verdict on one proposed state change
type TransitionCheck struct {
	Allowed       bool
	Declared      bool
	Enforcement   string
	RequiresField []string
	MissingFields []string
	// Advisory is set when a soft transition goes through with missing
	// fields; the engine surfaces it as a warning instead of an error.
	Advisory bool
}

// NewBuiltin returns a registry over only the compiled-in packs. Used by
// tests and by commands that run before a project exists.
func NewBuiltin() (*Registry, error) {
	return New("", []string{"core"})
}

// New builds a registry for a project directory and its enabled pack names.
// Pass dir="" for builtin-only resolution.
func New(dir string, enabledPacks []string) (*Registry, error) {
	r := &Registry{dir: dir, enabled: enabledPacks}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads pack and override files and swaps the merged snapshot in
func (r *Registry) Reload() error {
	snap, err := loadSnapshot(r.dir, r.enabled)
	if err != nil {
		return err
	}
	r.current.Store(snap)
	return nil
}

func (r *Registry) snap() *snapshot {
	return r.current.Load()
}

// Get resolves an issue type to its template. Unknown types fall back to the
// task workflow so foreign data stays operable; ok reports whether the type
// was actually declared.
func (r *Registry) Get(issueType string) (*types.Template, bool) {
	s := r.snap()
	if tpl, ok := s.templates[issueType]; ok {
		return tpl, true
	}
	if tpl, ok := s.templates[types.DefaultIssueType]; ok {
		return tpl, false
	}
	// Builtin core always declares task; this is unreachable unless a
	// project pack shadowed it with something invalid.
	return nil, false
}

// Types lists every known issue type in sorted order
func (r *Registry) Types() []string {
	s := r.snap()
	out := make([]string, 0, len(s.templates))
	for t := range s.templates {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Packs lists the loaded packs
func (r *Registry) Packs() []*types.Pack {
	return r.snap().packs
}

// InitialState returns the starting state for an issue type
func (r *Registry) InitialState(issueType string) string {
	tpl, _ := r.Get(issueType)
	return tpl.InitialState
}

// CategoryOf resolves (type, state) to a category, inferring from the state
// name when the state is not declared.
func (r *Registry) CategoryOf(issueType, state string) types.Category {
	tpl, _ := r.Get(issueType)
	return tpl.StateCategory(state)
}

// TerminalState returns the done-category state close_issue targets
func (r *Registry) TerminalState(issueType string) (string, error) {
	tpl, _ := r.Get(issueType)
	state, ok := tpl.TerminalState()
	if !ok {
		return "", fmt.Errorf("type %s declares no done-category state", issueType)
	}
	return state, nil
}

// WorkingState returns the first wip-category state
func (r *Registry) WorkingState(issueType string) (string, error) {
	tpl, _ := r.Get(issueType)
	for _, s := range tpl.States {
		if s.Category == types.CategoryWIP {
			return s.Name, nil
		}
	}
	return "", fmt.Errorf("type %s declares no wip-category state", issueType)
}

// CheckTransition evaluates from -> to for an issue of the given type with
// the given field values. Undeclared edges and hard-gated edges with missing
// fields are disallowed; soft-gated edges with missing fields pass with the
// Advisory flag set.
func (r *Registry) CheckTransition(issueType, from, to string, fields map[string]any) TransitionCheck {
	tpl, _ := r.Get(issueType)

	tr, declared := tpl.FindTransition(from, to)
	if !declared {
		return TransitionCheck{Allowed: false, Declared: false}
	}

	check := TransitionCheck{
		Allowed:       true,
		Declared:      true,
		Enforcement:   tr.Enforcement,
		RequiresField: tr.RequiresFields,
		MissingFields: missingFields(tr.RequiresFields, fields),
	}
	if len(check.MissingFields) == 0 {
		return check
	}
	if tr.Enforcement == types.EnforcementHard {
		check.Allowed = false
		return check
	}
	check.Advisory = true
	return check
}

// ValidTransitions enumerates the outbound edges from an issue's current
// state, annotated with readiness against its field values. This is what
// agents get back with invalid_transition errors.
func (r *Registry) ValidTransitions(issueType, from string, fields map[string]any) []types.ValidTransition {
	tpl, _ := r.Get(issueType)

	var out []types.ValidTransition
	for _, tr := range tpl.Transitions {
		if tr.FromState != from {
			continue
		}
		missing := missingFields(tr.RequiresFields, fields)
		enforcement := tr.Enforcement
		if enforcement == "" {
			enforcement = types.EnforcementSoft
		}
		out = append(out, types.ValidTransition{
			To:            tr.ToState,
			Category:      tpl.StateCategory(tr.ToState),
			Enforcement:   enforcement,
			RequiresField: tr.RequiresFields,
			MissingFields: missing,
			Ready:         len(missing) == 0 || enforcement != types.EnforcementHard,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].To < out[j].To })
	return out
}

// ExplainState renders a one-paragraph description of a state for agents
func (r *Registry) ExplainState(issueType, state string) string {
	tpl, known := r.Get(issueType)
	category := tpl.StateCategory(state)

	var b strings.Builder
	fmt.Fprintf(&b, "%s is a %s-category state", state, category)
	if !known {
		fmt.Fprintf(&b, " (type %s is not declared; using the %s workflow)", issueType, tpl.Type)
	}
	next := r.ValidTransitions(issueType, state, nil)
	if len(next) == 0 {
		b.WriteString(". No outbound transitions.")
		return b.String()
	}
	b.WriteString(". Valid next states: ")
	for i, tr := range next {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tr.To)
		if len(tr.RequiresField) > 0 {
			fmt.Fprintf(&b, " (%s: %s)", tr.Enforcement, strings.Join(tr.RequiresField, ", "))
		}
	}
	b.WriteString(".")
	return b.String()
}

// WorkflowGuide renders the pack guides plus a per-type workflow digest,
// used by the snapshot document and the guide tool.
func (r *Registry) WorkflowGuide() string {
	s := r.snap()
	var b strings.Builder
	for _, pack := range s.packs {
		if pack.Guide != "" {
			b.WriteString(pack.Guide)
			b.WriteString("\n\n")
		}
	}
	for _, typeName := range r.Types() {
		tpl := s.templates[typeName]
		fmt.Fprintf(&b, "- %s: starts at %s", typeName, tpl.InitialState)
		if done, ok := tpl.TerminalState(); ok {
			fmt.Fprintf(&b, ", done at %s", done)
		}
		for _, tr := range tpl.Transitions {
			if tr.Enforcement == types.EnforcementHard {
				fmt.Fprintf(&b, "; %s->%s requires %s",
					tr.FromState, tr.ToState, strings.Join(tr.RequiresFields, ", "))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// missingFields returns the required fields absent or empty in fields
func missingFields(required []string, fields map[string]any) []string {
	var missing []string
	for _, name := range required {
		v, ok := fields[name]
		if !ok || v == nil {
			missing = append(missing, name)
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
