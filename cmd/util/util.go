package util

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/pairsync/pkg/errors"
)

// ConfigFlag is the name of the persistent flag that overrides the config
// path.
const ConfigFlag = "config"

// Mocked for unit testing.
var (
	stderr io.Writer = os.Stderr
	exit             = os.Exit
)

// HandleFatalError prints the error and exits. Friendly errors are printed
// as-is, without the context they were wrapped in.
func HandleFatalError(err error) {
	log.WithError(err).Debug("Fatal error")
	fmt.Fprintln(stderr, errors.GetPrintableMessage(err))
	exit(1)
}

// HandlePanic logs the stack trace of a panic before re-raising it. It must
// be called via defer.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithField("stack", string(debug.Stack())).Errorf("Unexpected panic: %v", r)
		panic(r)
	}
}

// ConfigPath returns the config path set on the command line, or the empty
// string if the default should be used.
func ConfigPath(cmd *cobra.Command) string {
	path, err := cmd.Flags().GetString(ConfigFlag)
	if err != nil {
		log.WithError(err).Debug("Failed to get config flag")
		return ""
	}
	return path
}
