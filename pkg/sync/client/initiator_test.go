package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/pairsync/pkg/errors"
	"github.com/sidkik/pairsync/pkg/sync"
	"github.com/sidkik/pairsync/pkg/sync/server"
	"github.com/sidkik/pairsync/pkg/sync/token"
	"github.com/sidkik/pairsync/pkg/version"
)

const secret = "shared secret"

// peer is one side of a reconciliation, backed by an in-memory filesystem.
type peer struct {
	fs       afero.Fs
	store    sync.DirStore
	index    *sync.Index
	executor *sync.Executor
}

func newPeer(t *testing.T, root string, files map[string]string) peer {
	fs := afero.NewMemMapFs()
	store := sync.NewDirStoreOn(fs, root)
	for name, contents := range files {
		require.NoError(t, store.Write(name, []byte(contents)))
	}

	index, err := sync.BuildIndex(store)
	require.NoError(t, err)
	return peer{fs: fs, store: store, index: index, executor: sync.NewExecutor(store, index, 2)}
}

// files returns the contents of the peer's storage.
func (p peer) files(t *testing.T) map[string]string {
	entries, err := p.store.List()
	require.NoError(t, err)

	files := map[string]string{}
	for _, f := range entries {
		files[f.Name] = string(f.Data)
	}
	return files
}

// indexed returns the contents of the peer's index.
func (p peer) indexed() map[string]string {
	files := map[string]string{}
	for name, data := range p.index.Snapshot() {
		files[name] = string(data)
	}
	return files
}

type testEnv struct {
	initiator peer
	responder peer
	server    *server.Server
	url       string
}

func newTestEnv(t *testing.T, initiatorFiles, responderFiles map[string]string) testEnv {
	env := testEnv{
		initiator: newPeer(t, "/initiator", initiatorFiles),
		responder: newPeer(t, "/responder", responderFiles),
	}

	logger, _ := logtest.NewNullLogger()
	env.server = server.New(token.New(secret), env.responder.index, env.responder.executor,
		server.WithLogger(logger))
	httpServer := httptest.NewServer(env.server.Handler())
	t.Cleanup(httpServer.Close)
	env.url = httpServer.URL
	return env
}

func (env testEnv) newInitiator(secret string) *Initiator {
	logger, _ := logtest.NewNullLogger()
	return NewInitiator(New(env.url, token.New(secret)), env.initiator.index,
		env.initiator.executor, logger)
}

func TestRun(t *testing.T) {
	tests := []struct {
		name           string
		initiatorFiles map[string]string
		responderFiles map[string]string
		expResult      Result

		// The expected files on each side. If unset, both sides are expected
		// to hold the union of the collections.
		expInitiator map[string]string
		expResponder map[string]string
	}{
		{
			name:           "Scenario",
			initiatorFiles: map[string]string{"x.txt": "1"},
			responderFiles: map[string]string{"y.txt": "2"},
			expResult:      Result{State: StateAppliedAndUploaded, Received: 1, Sent: 1},
		},
		{
			name:           "AlreadySynced",
			initiatorFiles: map[string]string{"a": "1", "b": "2"},
			responderFiles: map[string]string{"a": "1", "b": "2"},
			expResult:      Result{State: StateSynced},
		},
		{
			name:      "BothEmpty",
			expResult: Result{State: StateSynced},
		},
		{
			name:           "FullDump",
			responderFiles: map[string]string{"a": "1", "b": "2"},
			expResult:      Result{State: StateAppliedAndUploaded, Received: 2},
		},
		{
			name:           "NamesOnly",
			initiatorFiles: map[string]string{"a": "1", "b": "2", "c": "3"},
			responderFiles: map[string]string{"a": "1"},
			expResult:      Result{State: StateAppliedAndUploaded, Sent: 2},
		},
		{
			name:           "SameNameDifferentContents",
			initiatorFiles: map[string]string{"a": "I", "x": "1"},
			responderFiles: map[string]string{"a": "R", "y": "2"},
			expResult:      Result{State: StateAppliedAndUploaded, Received: 1, Sent: 1},
			expInitiator:   map[string]string{"a": "I", "x": "1", "y": "2"},
			expResponder:   map[string]string{"a": "R", "x": "1", "y": "2"},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			env := newTestEnv(t, test.initiatorFiles, test.responderFiles)

			res, err := env.newInitiator(secret).Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, test.expResult, res)

			// Both sides converge on the union of the collections, and names
			// held by both sides keep their own contents.
			union := map[string]string{}
			for name, contents := range test.initiatorFiles {
				union[name] = contents
			}
			for name, contents := range test.responderFiles {
				union[name] = contents
			}

			expInitiator, expResponder := test.expInitiator, test.expResponder
			if expInitiator == nil {
				expInitiator = union
			}
			if expResponder == nil {
				expResponder = union
			}

			env.server.Drain()
			assert.Equal(t, expInitiator, env.initiator.files(t))
			assert.Equal(t, expResponder, env.responder.files(t))
			assert.Equal(t, expInitiator, env.initiator.indexed())
			assert.Equal(t, expResponder, env.responder.indexed())

			// Running again is a no-op.
			res, err = env.newInitiator(secret).Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, Result{State: StateSynced}, res)
		})
	}
}

func TestRunAfterUnstorableUpload(t *testing.T) {
	env := newTestEnv(t, map[string]string{"x.txt": "1"}, nil)

	err := New(env.url, token.New(secret)).Upload(context.Background(), []sync.FileEntry{
		{Name: "a|b", Data: []byte("bad")},
		{Name: "../evil", Data: []byte("bad")},
	})
	require.NoError(t, err)
	env.server.Drain()

	res, err := env.newInitiator(secret).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{State: StateAppliedAndUploaded, Sent: 1}, res)

	res, err = env.newInitiator(secret).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{State: StateSynced}, res)

	env.server.Drain()
	assert.Equal(t, map[string]string{"x.txt": "1"}, env.responder.files(t))
}

func TestRunUnauthorized(t *testing.T) {
	env := newTestEnv(t, map[string]string{"x.txt": "1"}, map[string]string{"y.txt": "2"})

	res, err := env.newInitiator("wrong secret").Run(context.Background())
	assert.True(t, errors.Is(err, errors.ErrUnauthorized), "%v", err)
	assert.Equal(t, Result{State: StateAborted}, res)

	// Neither side changed.
	env.server.Drain()
	assert.Equal(t, map[string]string{"x.txt": "1"}, env.initiator.files(t))
	assert.Equal(t, map[string]string{"y.txt": "2"}, env.responder.files(t))
}

func TestRunNetworkFailure(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	httpServer := httptest.NewServer(http.NotFoundHandler())
	url := httpServer.URL
	httpServer.Close()

	initiator := NewInitiator(New(url, token.New(secret)), env.initiator.index,
		env.initiator.executor, nil)
	res, err := initiator.Run(context.Background())

	var netErr errors.NetworkError
	assert.True(t, errors.As(err, &netErr), "%v", err)
	assert.Equal(t, StateAborted, res.State)
}

// failingStore rejects every write.
type failingStore struct{}

func (failingStore) Write(name string, _ []byte) error {
	return errors.StorageError{Name: name, Err: errors.New("read-only")}
}

func (failingStore) List() ([]sync.FileEntry, error) {
	return nil, nil
}

func TestRunStorageFailureStillUploads(t *testing.T) {
	env := newTestEnv(t, nil, map[string]string{"y.txt": "2"})
	env.initiator.index.Put(sync.FileEntry{Name: "x.txt", Data: []byte("1")})
	executor := sync.NewExecutor(failingStore{}, env.initiator.index, 1)

	initiator := NewInitiator(New(env.url, token.New(secret)), env.initiator.index, executor, nil)
	res, err := initiator.Run(context.Background())

	var storageErr errors.StorageError
	assert.True(t, errors.As(err, &storageErr), "%v", err)
	assert.Equal(t, Result{State: StateAborted, Sent: 1}, res)

	// The upload isn't cancelled by the local failure.
	env.server.Drain()
	assert.Equal(t, map[string]string{"x.txt": "1", "y.txt": "2"}, env.responder.files(t))
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	remote, err := New(env.url, token.New("unused")).Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, version.Version, remote)
}

func TestWatch(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a": "1"}, nil)
	initiator := env.newInitiator(secret)

	clock := clockwork.NewFakeClock()
	changes := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		initiator.Watch(ctx, env.initiator.store, clock, time.Minute, changes)
		close(done)
	}()

	// The first run happens immediately.
	assert.Eventually(t, func() bool {
		return env.responder.index.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Files written to storage outside of pairsync are picked up on the
	// next change.
	require.NoError(t, afero.WriteFile(env.initiator.fs, "/initiator/b", []byte("2"), 0644))
	changes <- struct{}{}
	assert.Eventually(t, func() bool {
		_, ok := env.responder.index.Get("b")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		assert.Fail(t, "Watch didn't return after the context was cancelled")
	}
}
