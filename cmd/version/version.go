package version

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/pairsync/cmd/util"
	"github.com/sidkik/pairsync/pkg/config"
	"github.com/sidkik/pairsync/pkg/errors"
	"github.com/sidkik/pairsync/pkg/sync/client"
	"github.com/sidkik/pairsync/pkg/sync/token"
	"github.com/sidkik/pairsync/pkg/version"
)

// Mocked for unit testing.
var stdout io.Writer = os.Stdout

// New creates a new `version` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the local and remote version of pairsync.",
		Long: "Print the local version of pairsync and, if a remote is\n" +
			"configured, the version running on the Responder.",
		Run: func(cmd *cobra.Command, _ []string) {
			if err := run(util.ConfigPath(cmd)); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func run(configPath string) error {
	fmt.Fprintf(stdout, "local version:  %s\n", version.Version)

	cfg, err := config.Parse(configPath)
	if err != nil {
		log.WithError(err).Debug("Failed to parse config. Not checking remote version.")
		return nil
	}

	if cfg.Remote == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	remoteVersion, err := client.New(cfg.Remote, token.New(cfg.Secret)).Version(ctx)
	if err != nil {
		return errors.WithContext(err, "get remote version")
	}
	fmt.Fprintf(stdout, "remote version: %s\n", remoteVersion)

	compatible, err := version.Compatible(version.Version, remoteVersion)
	if err != nil {
		return errors.WithContext(err, "compare versions")
	}

	if !compatible {
		fmt.Fprintln(stdout, "The versions are incompatible. "+
			"Upgrade the older peer before syncing.")
	}
	return nil
}
