package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/filigree-dev/filigree/internal/configfile"
	"github.com/filigree-dev/filigree/internal/templates"
)

// doctor runs read-only coherence checks on the project. It never repairs.
func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check project configuration and database coherence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			dir, err := configfile.Discover(cwd)
			if err != nil {
				return err
			}
			if dir == "" {
				fmt.Println(check(false, "no "+configfile.DirName+" directory found"))
				return fmt.Errorf("project not initialized")
			}
			fmt.Println(check(true, "project directory: "+dir))

			failed := false

			cfg, err := configfile.Load(dir)
			switch {
			case err != nil:
				fmt.Println(check(false, "config: "+err.Error()))
				failed = true
			case cfg == nil:
				fmt.Println(check(false, "config.json is missing"))
				failed = true
			default:
				fmt.Println(check(true, fmt.Sprintf("config: prefix %q, version %d, packs %v",
					cfg.Prefix, cfg.Version, cfg.EnabledPacks)))
				if cfg.Version > configfile.CurrentVersion {
					fmt.Println(check(false, fmt.Sprintf(
						"config version %d is newer than this binary supports (%d)",
						cfg.Version, configfile.CurrentVersion)))
					failed = true
				}
				if _, err := templates.New(dir, cfg.EnabledPacks); err != nil {
					fmt.Println(check(false, "templates: "+err.Error()))
					failed = true
				} else {
					fmt.Println(check(true, "workflow templates load cleanly"))
				}
			}

			dbPath := configfile.DatabasePath(dir)
			if info, err := os.Stat(dbPath); err != nil {
				fmt.Println(check(false, "database missing: "+dbPath))
				failed = true
			} else {
				fmt.Println(check(true, fmt.Sprintf("database: %s (%d bytes)", dbPath, info.Size())))
			}

			if failed {
				return fmt.Errorf("doctor found problems")
			}
			if !quietFlag {
				fmt.Println("all checks passed")
			}
			return nil
		},
	}
}

func check(ok bool, msg string) string {
	icon := "✗"
	style := failStyle
	if ok {
		icon = "✓"
		style = passStyle
	}
	if shouldUseColor() {
		return style.Render(icon) + " " + msg
	}
	return icon + " " + msg
}
