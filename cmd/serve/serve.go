package serve

import (
	"context"
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
	"github.com/sidkik/pairsync/pkg/sync/server"
	"github.com/sidkik/pairsync/pkg/sync/token"
)

// New creates a new `serve` command.
func New() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the storage directory to other peers",
		Long: "Run the Responder. Peers running `pairsync sync` with the same\n" +
			"secret exchange files with the storage directory.",
		Run: func(cmd *cobra.Command, _ []string) {
			if err := run(util.ConfigPath(cmd), watch); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false,
		"Pick up files added to the storage directory while serving")
	return cmd
}

func run(configPath string, watch bool) error {
	cfg, err := config.Parse(configPath)
	if err != nil {
		return errors.WithContext(err, "parse config")
	}

	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	store := sync.NewDirStore(cfg.StorageDir)
	index, err := sync.BuildIndex(store)
	if err != nil {
		return errors.WithContext(err, "index storage")
	}
	log.WithFields(log.Fields{
		"storageDir": cfg.StorageDir,
		"files":      index.Len(),
	}).Info("Indexed storage")

	srv := server.New(token.New(cfg.Secret), index,
		sync.NewExecutor(store, index, cfg.Workers),
		server.WithMaxBodyBytes(cfg.MaxBodyBytes))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if watch {
		if err := store.Init(); err != nil {
			return errors.WithContext(err, "create storage directory")
		}

		changes, err := fswatch.Watch(cfg.StorageDir)
		if err != nil {
			return errors.WithContext(err, "watch storage")
		}

		clock := clockwork.NewRealClock()
		settled := store.Settled(clock, sync.DefaultQuietPeriod)
		go func() {
			defer util.HandlePanic()
			sync.RunEvery(ctx, clock, cfg.PollInterval.Duration,
				sync.Debounce(ctx, clock, sync.DefaultQuietPeriod, changes),
				func() { refresh(settled, index) })
		}()
	}

	return srv.Run(ctx, cfg.Listen)
}

func refresh(store sync.Store, index *sync.Index) {
	added, err := sync.Refresh(store, index)
	if err != nil {
		log.WithError(err).Warn("Failed to refresh index from storage")
		return
	}

	if added > 0 {
		log.WithField("added", added).Info("Indexed new files")
	}
}
