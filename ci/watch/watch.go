//go:build ci
// +build ci

package watch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/pairsync/ci/util"
)

// Test runs both peers in watch mode, and checks that files created on
// either side show up on the other.
func Test(t *testing.T, helper *util.TestHelper) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	responder, err := helper.NewPeer("watch-responder", "")
	require.NoError(t, err)
	initiator, err := helper.NewPeer("watch-initiator", responder.URL())
	require.NoError(t, err)

	serveCtx, stopServe := context.WithCancel(ctx)
	serveErr, err := helper.Serve(serveCtx, responder, "--watch")
	require.NoError(t, err)

	syncCtx, stopSync := context.WithCancel(ctx)
	syncErr, err := helper.Start(syncCtx, "sync", "--watch", "--config", initiator.ConfigPath)
	require.NoError(t, err)

	tests := []struct {
		name  string
		write util.Peer
		check util.Peer
		files map[string]string
	}{
		{
			name:  "InitiatorToResponder",
			write: initiator,
			check: responder,
			files: map[string]string{"from-initiator.txt": "hello responder"},
		},
		{
			name:  "ResponderToInitiator",
			write: responder,
			check: initiator,
			files: map[string]string{"from-responder.txt": "hello initiator"},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			require.NoError(t, test.write.WriteFiles(test.files))

			waitCtx, cancelWait := context.WithTimeout(ctx, time.Minute)
			defer cancelWait()
			synced := util.TestWithRetry(waitCtx, nil, func() bool {
				files, err := test.check.ReadFiles()
				if err != nil {
					return false
				}
				for name, contents := range test.files {
					if files[name] != contents {
						return false
					}
				}
				return true
			})
			assert.True(t, synced, "%s never received %v", test.check.Name, test.files)
		})
	}

	stopSync()
	for err := range syncErr {
		assert.NoError(t, err)
	}
	stopServe()
	for err := range serveErr {
		assert.NoError(t, err)
	}
}
