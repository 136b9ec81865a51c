package syncer

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/pairsync/cmd/util"
	"github.com/sidkik/pairsync/pkg/config"
	"github.com/sidkik/pairsync/pkg/errors"
	"github.com/sidkik/pairsync/pkg/fswatch"
	"github.com/sidkik/pairsync/pkg/sync"
	"github.com/sidkik/pairsync/pkg/sync/client"
	"github.com/sidkik/pairsync/pkg/sync/token"
	"github.com/sidkik/pairsync/pkg/version"
)

// Mocked for unit testing.
var stdout io.Writer = os.Stdout

// New creates a new `sync` command.
func New() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Exchange files with the remote peer",
		Long: "Reconcile the storage directory with the Responder at `remote`.\n" +
			"Afterwards, both peers hold every file either one held before.",
		Run: func(cmd *cobra.Command, _ []string) {
			if err := run(util.ConfigPath(cmd), watch); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false,
		"Keep syncing whenever the storage directory changes")
	return cmd
}

func run(configPath string, watch bool) error {
	cfg, err := config.Parse(configPath)
	if err != nil {
		return errors.WithContext(err, "parse config")
	}

	if err := cfg.ValidateSync(); err != nil {
		return err
	}

	store := sync.NewDirStore(cfg.StorageDir)
	index, err := sync.BuildIndex(store)
	if err != nil {
		return errors.WithContext(err, "index storage")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := client.New(cfg.Remote, token.New(cfg.Secret))
	warnIfIncompatible(ctx, c)

	initiator := client.NewInitiator(c, index, sync.NewExecutor(store, index, cfg.Workers),
		log.StandardLogger())
	if !watch {
		res, err := initiator.Run(ctx)
		if err != nil {
			return errors.WithContext(err, "sync")
		}
		printResult(res)
		return nil
	}

	if err := store.Init(); err != nil {
		return errors.WithContext(err, "create storage directory")
	}

	changes, err := fswatch.Watch(cfg.StorageDir)
	if err != nil {
		return errors.WithContext(err, "watch storage")
	}

	fmt.Fprintf(stdout, "Watching %s for changes..\n", cfg.StorageDir)
	clock := clockwork.NewRealClock()
	initiator.Watch(ctx, store.Settled(clock, sync.DefaultQuietPeriod), clock,
		cfg.PollInterval.Duration, sync.Debounce(ctx, clock, sync.DefaultQuietPeriod, changes))
	return nil
}

// warnIfIncompatible logs a warning if the Responder runs a version that
// might not speak the same protocol. Failing to check isn't fatal, since
// the sync itself reports any real problem.
func warnIfIncompatible(ctx context.Context, c client.Client) {
	remote, err := c.Version(ctx)
	if err != nil {
		log.WithError(err).Debug("Failed to get remote version")
		return
	}

	compatible, err := version.Compatible(version.Version, remote)
	if err != nil {
		log.WithError(err).Debug("Failed to compare versions")
		return
	}

	if !compatible {
		log.WithFields(log.Fields{
			"local":  version.Version,
			"remote": remote,
		}).Warn("The remote peer runs an incompatible version. Sync may fail.")
	}
}

func printResult(res client.Result) {
	if res.State == client.StateSynced {
		fmt.Fprintln(stdout, "Already in sync.")
		return
	}
	fmt.Fprintf(stdout, "Synced: received %d files, sent %d files.\n", res.Received, res.Sent)
}
