package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/filigree-dev/filigree/internal/configfile"
	"github.com/filigree-dev/filigree/internal/idgen"
)

func newInitCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "init [prefix]",
		Short: "Initialize a filigree project in the current directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				prefix = args[0]
			}
			if prefix == "" {
				var err error
				prefix, err = promptPrefix()
				if err != nil {
					return err
				}
			}
			prefix = strings.ToLower(strings.TrimSpace(prefix))

			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			cfg, err := configfile.Init(cwd, prefix)
			if err != nil {
				return err
			}
			if emit(cfg) {
				return nil
			}
			if !quietFlag {
				fmt.Printf("initialized %s with prefix %q\n",
					filepath.Join(cwd, configfile.DirName), cfg.Prefix)
				fmt.Println(muted("issue ids will look like " + cfg.Prefix + "-3f29ab01cd"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "issue-id prefix for this project")
	return cmd
}

// promptPrefix asks for the project prefix interactively, defaulting to the
// directory name.
func promptPrefix() (string, error) {
	cwd, _ := os.Getwd()
	suggestion := sanitizePrefix(filepath.Base(cwd))

	prefix := suggestion
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Issue-id prefix").
			Description("Short lowercase name; issue ids look like <prefix>-3f29ab01cd").
			Value(&prefix).
			Validate(idgen.ValidatePrefix),
	))
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("init cancelled: %w", err)
	}
	return prefix, nil
}

// sanitizePrefix turns a directory name into a legal prefix suggestion:
// lowercase, [a-z0-9_], starts with a letter, at most 16 chars.
func sanitizePrefix(name string) string {
	name = strings.ToLower(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ' ' || r == '.':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	for out != "" && (out[0] < 'a' || out[0] > 'z') {
		out = out[1:]
	}
	if len(out) > 16 {
		out = out[:16]
	}
	if out == "" {
		return "proj"
	}
	return out
}
