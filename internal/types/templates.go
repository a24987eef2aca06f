package types

import "fmt"

// Transition enforcement levels
const (
	EnforcementHard = "hard"
	EnforcementSoft = "soft"
)

// Field schema value kinds
const (
	FieldText   = "text"
	FieldNumber = "number"
	FieldDate   = "date"
	FieldEnum   = "enum"
	FieldList   = "list"
)

// State is one node of a type's workflow state machine
type State struct {
	Name     string   `json:"name" toml:"name"`
	Category Category `json:"category" toml:"category"`
}

// Transition is a directed edge between two states of the same template
type Transition struct {
	FromState      string   `json:"from_state" toml:"from_state"`
	ToState        string   `json:"to_state" toml:"to_state"`
	Enforcement    string   `json:"enforcement,omitempty" toml:"enforcement"`
	RequiresFields []string `json:"requires_fields,omitempty" toml:"requires_fields"`
}

// FieldSpec describes one entry of a template's field schema
type FieldSpec struct {
	Name       string   `json:"name" toml:"name"`
	Type       string   `json:"type" toml:"type"`
	EnumValues []string `json:"enum_values,omitempty" toml:"enum_values"`
	RequiredAt string   `json:"required_at,omitempty" toml:"required_at"` // State at which the field becomes advisory-required
}

// Template is a type-scoped workflow definition
type Template struct {
	Type         string       `json:"type" toml:"type"`
	DisplayName  string       `json:"display_name,omitempty" toml:"display_name"`
	Description  string       `json:"description,omitempty" toml:"description"`
	Pack         string       `json:"pack,omitempty" toml:"pack"`
	InitialState string       `json:"initial_state" toml:"initial_state"`
	States       []State      `json:"states" toml:"states"`
	Transitions  []Transition `json:"transitions" toml:"transitions"`
	FieldSchema  []FieldSpec  `json:"field_schema,omitempty" toml:"field_schema"`
}

// Validate enforces internal consistency: the initial state and every
// transition endpoint must be declared states, and every required field must
// appear in the field schema.
func (t *Template) Validate() error {
	if t.Type == "" {
		return fmt.Errorf("template missing type")
	}
	if len(t.States) == 0 {
		return fmt.Errorf("template %s declares no states", t.Type)
	}
	states := make(map[string]Category, len(t.States))
	for _, s := range t.States {
		if s.Name == "" {
			return fmt.Errorf("template %s has a state with no name", t.Type)
		}
		if !s.Category.IsValid() {
			return fmt.Errorf("template %s state %s has invalid category %q", t.Type, s.Name, s.Category)
		}
		states[s.Name] = s.Category
	}
	if _, ok := states[t.InitialState]; !ok {
		return fmt.Errorf("template %s initial state %q is not declared", t.Type, t.InitialState)
	}
	fields := make(map[string]bool, len(t.FieldSchema))
	for _, f := range t.FieldSchema {
		fields[f.Name] = true
	}
	for _, tr := range t.Transitions {
		if _, ok := states[tr.FromState]; !ok {
			return fmt.Errorf("template %s transition references unknown state %q", t.Type, tr.FromState)
		}
		if _, ok := states[tr.ToState]; !ok {
			return fmt.Errorf("template %s transition references unknown state %q", t.Type, tr.ToState)
		}
		if tr.Enforcement != "" && tr.Enforcement != EnforcementHard && tr.Enforcement != EnforcementSoft {
			return fmt.Errorf("template %s transition %s->%s has invalid enforcement %q",
				t.Type, tr.FromState, tr.ToState, tr.Enforcement)
		}
		for _, f := range tr.RequiresFields {
			if !fields[f] {
				return fmt.Errorf("template %s transition %s->%s requires undeclared field %q",
					t.Type, tr.FromState, tr.ToState, f)
			}
		}
	}
	return nil
}

// StateCategory resolves a state name to its category within this template,
// falling back to name inference for unknown states.
func (t *Template) StateCategory(state string) Category {
	for _, s := range t.States {
		if s.Name == state {
			return s.Category
		}
	}
	return InferCategory(state)
}

// TerminalState returns the first done-category state, used by close_issue.
func (t *Template) TerminalState() (string, bool) {
	for _, s := range t.States {
		if s.Category == CategoryDone {
			return s.Name, true
		}
	}
	return "", false
}

// FindTransition looks up the transition record for (from, to)
func (t *Template) FindTransition(from, to string) (Transition, bool) {
	for _, tr := range t.Transitions {
		if tr.FromState == from && tr.ToState == to {
			return tr, true
		}
	}
	return Transition{}, false
}

// Pack groups templates for per-project enablement
type Pack struct {
	Name              string     `json:"name" toml:"name"`
	Version           string     `json:"version,omitempty" toml:"version"`
	Enabled           bool       `json:"enabled" toml:"enabled"`
	IsBuiltin         bool       `json:"is_builtin,omitempty" toml:"is_builtin"`
	Guide             string     `json:"guide,omitempty" toml:"guide"`
	SuggestedChildren []string   `json:"suggested_children,omitempty" toml:"suggested_children"`
	Templates         []Template `json:"templates" toml:"templates"`
}

// ValidTransition is one outbound edge from an issue's current state,
// annotated with the readiness data agents need to plan their next move.
type ValidTransition struct {
	To            string   `json:"to"`
	Category      Category `json:"category"`
	Enforcement   string   `json:"enforcement"`
	RequiresField []string `json:"requires_fields,omitempty"`
	MissingFields []string `json:"missing_fields,omitempty"`
	Ready         bool     `json:"ready"`
}
