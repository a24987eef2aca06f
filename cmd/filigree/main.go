// Command filigree is the CLI boundary of the tracker. Every subcommand
// opens the project database, calls the engine, refreshes the snapshot
// document, and exits. There is no daemon in the data path.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/filigree-dev/filigree/internal/debug"
	"github.com/filigree-dev/filigree/internal/telemetry"
)

// Version is stamped by the release build.
var Version = "dev"

// Exit codes: 0 success, 1 validation or business error, 2 usage error.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var (
	actorFlag   string
	jsonOutput  bool
	quietFlag   bool
	verboseFlag bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	initPrefs()

	root := newRootCmd()
	if err := root.ExecuteContext(rootCtx); err != nil {
		var usage *usageError
		if errors.As(err, &usage) {
			fmt.Fprintln(os.Stderr, renderError(usage.Error()))
			return exitUsage
		}
		fmt.Fprintln(os.Stderr, renderError(err.Error()))
		return exitError
	}
	return exitOK
}

// usageError marks argument-shape problems so run can exit 2 instead of 1.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "filigree",
		Short:         "Agent-native issue tracker",
		Long:          "Filigree tracks issues, dependencies, plans, and scan findings in a\nproject-local database that agents and humans share.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			debug.SetVerbose(verboseFlag)
			debug.SetQuiet(quietFlag)
			if err := telemetry.Init(cmd.Context(), "filigree", Version); err != nil {
				debug.Logf("telemetry init: %v", err)
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			telemetry.Shutdown(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&actorFlag, "actor", "", "actor recorded on mutations (default: $FILIGREE_ACTOR, then $USER)")
	pf.BoolVar(&jsonOutput, "json", false, "machine-readable JSON output")
	pf.BoolVarP(&quietFlag, "quiet", "q", false, "suppress non-essential output")
	pf.BoolVarP(&verboseFlag, "verbose", "v", false, "debug logging to stderr")

	root.AddCommand(
		newInitCmd(),
		newCreateCmd(),
		newShowCmd(),
		newUpdateCmd(),
		newCloseCmd(),
		newReopenCmd(),
		newListCmd(),
		newSearchCmd(),
		newStaleCmd(),
		newStatsCmd(),
		newCommentCmd(),
		newLabelCmd(),
		newClaimCmd(),
		newReleaseCmd(),
		newNextCmd(),
		newDepCmd(),
		newReadyCmd(),
		newBlockedCmd(),
		newPathCmd(),
		newPlanCmd(),
		newFilesCmd(),
		newScanCmd(),
		newEventsCmd(),
		newFlowCmd(),
		newUndoCmd(),
		newBatchCmd(),
		newArchiveCmd(),
		newCompactCmd(),
		newSummaryCmd(),
		newTypesCmd(),
		newServeCmd(),
		newToolServeCmd(),
		newDoctorCmd(),
	)
	return root
}

// initPrefs loads user preferences: ~/.config/filigree/config.yaml plus
// FILIGREE_* environment variables. Project state never lives here.
func initPrefs() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home + "/.config/filigree")
	}
	viper.SetEnvPrefix("FILIGREE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

// resolveActor picks the audit identity: --actor, then FILIGREE_ACTOR,
// then the configured default, then $USER.
func resolveActor() string {
	if actorFlag != "" {
		return actorFlag
	}
	if a := viper.GetString("actor"); a != "" {
		return a
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
