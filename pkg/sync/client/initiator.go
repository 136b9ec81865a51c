package client

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sidkik/pairsync/pkg/errors"
	"github.com/sidkik/pairsync/pkg/sync"
)

// State is the terminal state of a reconciliation.
type State int

const (
	// StateSynced means both peers already held the same names.
	StateSynced State = iota

	// StateAppliedAndUploaded means files were exchanged in at least one
	// direction.
	StateAppliedAndUploaded

	// StateAborted means the reconciliation stopped because of an error.
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateSynced:
		return "synced"
	case StateAppliedAndUploaded:
		return "applied_and_uploaded"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Result describes what a reconciliation did.
type Result struct {
	State State

	// Received is the number of entries from the Responder that were
	// persisted locally.
	Received int

	// Sent is the number of entries uploaded to the Responder.
	Sent int
}

// Initiator reconciles the local Index with a Responder.
type Initiator struct {
	client   Client
	index    *sync.Index
	executor *sync.Executor
	log      log.FieldLogger
}

// NewInitiator returns an Initiator that reconciles `index` through
// `client`, persisting received files with `executor`.
func NewInitiator(client Client, index *sync.Index, executor *sync.Executor,
	logger log.FieldLogger) *Initiator {

	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Initiator{client: client, index: index, executor: executor, log: logger}
}

// Run performs a single reconciliation. It never retries: any failure ends
// the reconciliation in StateAborted, and the next Run starts with a fresh
// probe.
func (in *Initiator) Run(ctx context.Context) (Result, error) {
	res, err := in.run(ctx)
	if err != nil {
		res.State = StateAborted
	}
	metricRuns.WithLabelValues(res.State.String()).Inc()
	return res, err
}

func (in *Initiator) run(ctx context.Context) (Result, error) {
	reply, err := in.client.Probe(ctx, in.index.Names())
	if err != nil {
		return Result{}, errors.WithContext(err, "probe")
	}

	switch reply.Outcome {
	case sync.OutcomeSynced:
		return Result{State: StateSynced}, nil
	case sync.OutcomeNames:
		sent, err := in.upload(ctx, reply.Missing)
		return Result{State: StateAppliedAndUploaded, Sent: sent}, err
	}

	// The local apply and the upload are independent, so a failure in one
	// doesn't cancel the other.
	var res Result
	var group errgroup.Group
	group.Go(func() error {
		written, err := in.executor.Apply(reply.Entries)
		res.Received = written
		return errors.WithContext(err, "apply")
	})

	if len(reply.Missing) > 0 {
		group.Go(func() error {
			sent, err := in.upload(ctx, reply.Missing)
			res.Sent = sent
			return err
		})
	}

	err = group.Wait()
	res.State = StateAppliedAndUploaded
	return res, err
}

// upload sends the local entries for `names` to the Responder, and returns
// how many were sent.
func (in *Initiator) upload(ctx context.Context, names sync.NameSet) (int, error) {
	entries, absent := in.index.Entries(names)
	if len(absent) > 0 {
		in.log.WithField("names", absent.Sorted()).Warn(
			"Responder requested files that are no longer indexed locally")
	}

	if len(entries) == 0 {
		return 0, nil
	}

	if err := in.client.Upload(ctx, entries); err != nil {
		return 0, errors.WithContext(err, "upload")
	}
	return len(entries), nil
}

// Watch reconciles once immediately, and then again whenever `changes`
// fires or `interval` passes. Before each reconciliation, files that
// appeared in `store` are added to the Index. Errors are logged rather than
// returned, so that a temporary failure doesn't stop the loop. Watch returns
// once `ctx` is done.
func (in *Initiator) Watch(ctx context.Context, store sync.Store, clock clockwork.Clock,
	interval time.Duration, changes <-chan struct{}) {

	sync.RunEvery(ctx, clock, interval, changes, func() {
		if added, err := sync.Refresh(store, in.index); err != nil {
			in.log.WithError(err).Warn("Failed to refresh index from storage")
		} else if added > 0 {
			in.log.WithField("added", added).Debug("Indexed new local files")
		}

		res, err := in.Run(ctx)
		logger := in.log.WithFields(log.Fields{
			"state":    res.State,
			"received": res.Received,
			"sent":     res.Sent,
		})
		if err != nil {
			logger.WithError(err).Error("Sync failed. Will retry on the next change.")
			return
		}

		if res.State == StateSynced {
			logger.Debug("Already in sync")
		} else {
			logger.Info("Synced")
		}
	})
}
