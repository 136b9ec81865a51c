// Package server implements the Responder: the peer that answers probes and
// accepts uploads over HTTP.
package server

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	goSync "sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/pairsync/cmd/util"
	"github.com/sidkik/pairsync/pkg/errors"
	"github.com/sidkik/pairsync/pkg/sync"
	"github.com/sidkik/pairsync/pkg/sync/container"
	"github.com/sidkik/pairsync/pkg/sync/token"
	"github.com/sidkik/pairsync/pkg/version"
)

const (
	// SyncPath is the endpoint for probes (GET) and uploads (POST).
	SyncPath = "/sync"

	// VersionPath returns the Responder's build version.
	VersionPath = "/version"

	// MetricsPath exposes Prometheus metrics.
	MetricsPath = "/metrics"

	// SyncedResponse is the plain-text reply sent when there's nothing left
	// to exchange, and after an upload is accepted.
	SyncedResponse = "synced"

	// TextContentType marks plain-text replies.
	TextContentType = "text/plain; charset=utf-8"

	// DefaultMaxBodyBytes is the largest request body accepted when the
	// configuration doesn't specify a limit.
	DefaultMaxBodyBytes int64 = 10 << 30
)

// shutdownTimeout bounds how long Run waits for in-progress requests when
// its context is cancelled.
var shutdownTimeout = 30 * time.Second

// Server handles requests from Initiators. It serves directly out of the
// Index, and persists uploads through the Executor.
type Server struct {
	cipher       *token.Cipher
	index        *sync.Index
	executor     *sync.Executor
	maxBodyBytes int64
	log          log.FieldLogger

	// inflight tracks uploads whose writes are still running after the
	// response was sent.
	inflight goSync.WaitGroup
}

// Option configures optional Server settings.
type Option func(*Server)

// WithMaxBodyBytes sets the request body limit.
func WithMaxBodyBytes(limit int64) Option {
	return func(s *Server) {
		if limit > 0 {
			s.maxBodyBytes = limit
		}
	}
}

// WithLogger sets the logger used for request and write logs.
func WithLogger(logger log.FieldLogger) Option {
	return func(s *Server) {
		s.log = logger
	}
}

// New returns a Server that authenticates requests with `cipher`.
func New(cipher *token.Cipher, index *sync.Index, executor *sync.Executor,
	opts ...Option) *Server {

	s := &Server{
		cipher:       cipher,
		index:        index,
		executor:     executor,
		maxBodyBytes: DefaultMaxBodyBytes,
		log:          log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for all of the Server's endpoints.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET(SyncPath, s.authenticated(http.MethodGet, s.handleProbe))
	router.POST(SyncPath, s.authenticated(http.MethodPost, s.handleUpload))
	router.GET(VersionPath, handleVersion)
	router.Handler(http.MethodGet, MetricsPath, promhttp.Handler())
	return router
}

// Run serves on `addr` until `ctx` is cancelled. It then stops accepting
// requests, and waits for in-progress requests and dispatched writes to
// finish before returning.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{Addr: addr, Handler: s.Handler()}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()
	s.log.WithField("address", addr).Info("Responder is ready")

	select {
	case err := <-serveErr:
		return errors.WithContext(err, "serve")
	case <-ctx.Done():
	}

	s.log.Info("Shutting down. Waiting for in-progress transfers to finish..")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.WithError(err).Warn("Failed to gracefully stop HTTP server")
	}
	s.Drain()
	return nil
}

// Drain blocks until every dispatched write has finished.
func (s *Server) Drain() {
	s.inflight.Wait()
}

func (s *Server) authenticated(method string, handle httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !s.cipher.Authenticate(r.Header.Get("Authorization")) {
			s.log.WithField("remote", r.RemoteAddr).Warn("Rejected request with invalid token")
			metricRequests.WithLabelValues(method, outcomeUnauthorized).Inc()
			http.Error(w, errors.ErrUnauthorized.Error(), http.StatusUnauthorized)
			return
		}
		handle(w, r, ps)
	}
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, ok := s.readBody(w, r, http.MethodGet)
	if !ok {
		return
	}

	plan := sync.Reconcile(s.index.Snapshot(), sync.ParseNames(string(body)))
	outcome := plan.Outcome()
	logger := s.log.WithFields(log.Fields{
		"outcome": outcome,
		"missing": len(plan.Missing),
		"extra":   len(plan.Extra),
	})

	switch outcome {
	case sync.OutcomeContainer:
		payload, err := container.Encode(plan.Missing, plan.Extra)
		if err != nil {
			logger.WithError(err).Error("Failed to encode container")
			metricRequests.WithLabelValues(http.MethodGet, outcomeError).Inc()
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", container.ContentType)
		write(w, payload)
	case sync.OutcomeNames:
		writeText(w, plan.Missing.Join())
	default:
		writeText(w, SyncedResponse)
	}

	logger.Debug("Answered probe")
	metricRequests.WithLabelValues(http.MethodGet, outcome.String()).Inc()
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, ok := s.readBody(w, r, http.MethodPost)
	if !ok {
		return
	}

	// The missing set is meaningless on this leg.
	_, entries, err := container.Decode(body)
	if err != nil {
		s.log.WithError(err).Warn("Rejected malformed upload")
		metricRequests.WithLabelValues(http.MethodPost, outcomeError).Inc()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	pending := s.executor.Dispatch(entries)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer util.HandlePanic()

		written, err := pending.Wait()
		logger := s.log.WithFields(log.Fields{
			"received": len(entries),
			"written":  written,
		})
		if err != nil {
			logger.WithError(err).Error("Failed to persist upload")
			return
		}
		logger.Info("Persisted upload")
	}()

	writeText(w, SyncedResponse)
	metricRequests.WithLabelValues(http.MethodPost, outcomeAccepted).Inc()
}

// readBody reads the request body, and responds with an error if the body
// can't be read. It returns false if the request has been handled.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request, method string) ([]byte, bool) {
	body, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err == nil {
		return body, true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		metricRequests.WithLabelValues(method, outcomeTooLarge).Inc()
		http.Error(w, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			http.StatusRequestEntityTooLarge)
		return nil, false
	}

	s.log.WithError(err).Warn("Failed to read request body")
	metricRequests.WithLabelValues(method, outcomeError).Inc()
	http.Error(w, err.Error(), http.StatusBadRequest)
	return nil, false
}

func handleVersion(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeText(w, version.Version)
}

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", TextContentType)
	write(w, []byte(text))
}

func write(w http.ResponseWriter, payload []byte) {
	if _, err := w.Write(payload); err != nil {
		log.WithError(err).Debug("Failed to write response")
	}
}
