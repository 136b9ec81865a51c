package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/sidkik/pairsync/pkg/config"
	"github.com/sidkik/pairsync/pkg/errors"
)

func mockTerminal(t *testing.T, interactive bool, input string) *bytes.Buffer {
	var out bytes.Buffer
	stdout = &out
	isTerminal = func(int) bool { return interactive }
	readPassword = func(int) ([]byte, error) { return []byte(input), nil }
	t.Cleanup(func() {
		stdout = os.Stdout
		isTerminal = terminal.IsTerminal
		readPassword = terminal.ReadPassword
	})
	return &out
}

func TestInitConfig(t *testing.T) {
	out := mockTerminal(t, true, "  s3cr3t \n")
	path := filepath.Join(t.TempDir(), "pairsync.yaml")

	require.NoError(t, initConfig(path, false, true))
	assert.Equal(t, "Shared secret: \nWrote config to "+path+"\n", out.String())

	cfg, err := config.Parse(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", cfg.Secret)

	// Existing configs aren't overwritten unless forced.
	err = initConfig(path, false, false)
	_, isFriendly := errors.RootCause(err).(errors.FriendlyError)
	assert.True(t, isFriendly, "%v", err)

	out.Reset()
	require.NoError(t, initConfig(path, true, false))
	assert.Contains(t, out.String(), "Set `secret`")
}

func TestPromptForSecret(t *testing.T) {
	tests := []struct {
		name        string
		interactive bool
		input       string
		expSecret   string
		expErr      bool
	}{
		{name: "Interactive", interactive: true, input: "secret", expSecret: "secret"},
		{name: "NotTerminal", interactive: false, input: "secret", expErr: true},
		{name: "Empty", interactive: true, input: "   ", expErr: true},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			mockTerminal(t, test.interactive, test.input)
			secret, err := promptForSecret()
			if test.expErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, test.expSecret, secret)
		})
	}
}

func TestGetters(t *testing.T) {
	out := mockTerminal(t, false, "")
	parseConfig = func(string) (config.Config, error) {
		return config.Config{StorageDir: "/data", Remote: "http://peer:8080", Listen: ":9000"}, nil
	}
	defer func() { parseConfig = config.Parse }()

	cmd := New()
	cmd.SetArgs([]string{"get-storage-dir"})
	require.NoError(t, cmd.Execute())
	cmd.SetArgs([]string{"get-remote"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "/data\nhttp://peer:8080\n", out.String())
}
