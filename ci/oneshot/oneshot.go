//go:build ci
// +build ci

package oneshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/pairsync/ci/util"
)

// Test runs `pairsync sync` once against a `pairsync serve` process, and
// checks that both storage directories converge.
func Test(t *testing.T, helper *util.TestHelper) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	responder, err := helper.NewPeer("responder", "")
	require.NoError(t, err)
	initiator, err := helper.NewPeer("initiator", responder.URL())
	require.NoError(t, err)

	require.NoError(t, responder.WriteFiles(map[string]string{
		"a.txt": "alpha",
		"c.txt": "charlie",
	}))
	require.NoError(t, initiator.WriteFiles(map[string]string{
		"a.txt": "alpha",
		"b.txt": "bravo",
	}))

	serveCtx, stopServe := context.WithCancel(ctx)
	serveErr, err := helper.Serve(serveCtx, responder)
	require.NoError(t, err)

	out, err := helper.Run(ctx, "sync", "--config", initiator.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, "Synced: received 1 files, sent 1 files.\n", string(out))

	// The Responder applies uploads in the background, so wait for its
	// directory to catch up before comparing.
	expFiles := map[string]string{
		"a.txt": "alpha",
		"b.txt": "bravo",
		"c.txt": "charlie",
	}
	converged := util.TestWithRetry(ctx, nil, func() bool {
		files, err := responder.ReadFiles()
		return err == nil && assert.ObjectsAreEqual(expFiles, files)
	})
	assert.True(t, converged, "responder never received the upload")

	files, err := initiator.ReadFiles()
	require.NoError(t, err)
	assert.Equal(t, expFiles, files)

	out, err = helper.Run(ctx, "sync", "--config", initiator.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, "Already in sync.\n", string(out))

	out, err = helper.Run(ctx, "version", "--config", initiator.ConfigPath)
	require.NoError(t, err)
	assert.Contains(t, string(out), "remote version:")

	stopServe()
	for err := range serveErr {
		assert.NoError(t, err)
	}
}
