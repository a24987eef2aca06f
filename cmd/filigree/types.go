package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTypesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "types",
		Short: "Inspect workflow templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				reg := proj.Engine.Registry()
				if emit(reg.Types()) {
					return nil
				}
				for _, name := range reg.Types() {
					tpl, _ := reg.Get(name)
					fmt.Printf("%s  %s\n", header(name), muted(tpl.Description))
					states := ""
					for i, s := range tpl.States {
						if i > 0 {
							states += ", "
						}
						states += s.Name
						if s.Name == tpl.InitialState {
							states += "*"
						}
					}
					fmt.Printf("  states: %s\n", states)
				}
				return nil
			})
		},
	}
	cmd.AddCommand(newTypeShowCmd(), newWorkflowGuideCmd())
	return cmd
}

func newTypeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <type> [state]",
		Short: "Show a type's workflow, or explain one of its states",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				reg := proj.Engine.Registry()
				tpl, known := reg.Get(args[0])
				if len(args) == 2 {
					if emit(map[string]string{"explanation": reg.ExplainState(args[0], args[1])}) {
						return nil
					}
					fmt.Println(reg.ExplainState(args[0], args[1]))
					return nil
				}
				if emit(map[string]any{"template": tpl, "declared": known}) {
					return nil
				}
				if !known {
					fmt.Println(muted(fmt.Sprintf("type %q is not declared; showing the fallback workflow", args[0])))
				}
				fmt.Printf("%s (%s)\n", header(tpl.Type), tpl.DisplayName)
				fmt.Printf("  initial state: %s\n", tpl.InitialState)
				for _, tr := range tpl.Transitions {
					gate := ""
					if len(tr.RequiresFields) > 0 {
						gate = fmt.Sprintf("  [%s: %v]", tr.Enforcement, tr.RequiresFields)
					}
					fmt.Printf("  %s -> %s%s\n", tr.FromState, tr.ToState, muted(gate))
				}
				if len(tpl.FieldSchema) > 0 {
					fmt.Println("  fields:")
					for _, f := range tpl.FieldSchema {
						extra := ""
						if len(f.EnumValues) > 0 {
							extra = fmt.Sprintf(" %v", f.EnumValues)
						}
						fmt.Printf("    %s (%s)%s\n", f.Name, f.Type, extra)
					}
				}
				return nil
			})
		},
	}
}

func newWorkflowGuideCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "guide",
		Short: "Render the workflow guide for enabled packs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				guide := proj.Engine.Registry().WorkflowGuide()
				if emit(map[string]string{"guide": guide}) {
					return nil
				}
				fmt.Print(renderMarkdown(guide))
				return nil
			})
		},
	}
}
