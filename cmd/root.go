package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	configCmd "github.com/sidkik/pairsync/cmd/config"
	"github.com/sidkik/pairsync/cmd/serve"
	"github.com/sidkik/pairsync/cmd/syncer"
	"github.com/sidkik/pairsync/cmd/util"
	"github.com/sidkik/pairsync/cmd/version"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "PAIRSYNC_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:   "pairsync",
		Short: "Keep two collections of files in sync over HTTP",
		Long: "pairsync reconciles the files held by two peers that share a\n" +
			"secret. One peer runs `pairsync serve`, and the other runs\n" +
			"`pairsync sync` to exchange whatever either side is missing.",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String(util.ConfigFlag, "",
		"Path to the config file (default ~/.pairsync.yaml)")
	rootCmd.AddCommand(
		configCmd.New(),
		serve.New(),
		syncer.New(),
		version.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}
