// Package debug provides env-gated diagnostic output. It stays silent unless
// FILIGREE_DEBUG is set or a command enables verbose mode, so agent-facing
// stdout never mixes with diagnostics.
package debug

import (
	"fmt"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	enabled     = os.Getenv("FILIGREE_DEBUG") != ""
	verboseMode = false
	quietMode   = false
	fileSink    *lumberjack.Logger
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

// SetLogFile mirrors debug output to a size-capped rotating file. Used by
// `filigree serve`, where stderr may not be captured.
func SetLogFile(path string) {
	fileSink = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		Compress:   true,
	}
}

func Logf(format string, args ...interface{}) {
	if !enabled && !verboseMode {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		msg += "\n"
	}
	fmt.Fprint(os.Stderr, msg)
	if fileSink != nil {
		_, _ = fileSink.Write([]byte(msg))
	}
}

// PrintNormal prints output unless quiet mode is enabled
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Printf(format, args...)
	}
}
