//go:build ci
// +build ci

package util

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ghodss/yaml"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/pairsync/pkg/config"
	"github.com/sidkik/pairsync/pkg/errors"
	"github.com/sidkik/pairsync/pkg/sync/server"
)

// TestHelper contains methods commonly used during integration tests.
type TestHelper struct {
	Binary string
	Secret string
	root   string
}

// Peer is one side of a sync. Its files live in StorageDir, and its config
// is at ConfigPath.
type Peer struct {
	Name       string
	ConfigPath string
	StorageDir string
	Config     config.Config
}

// NewTestHelper creates a new TestHelper that runs the given pairsync
// binary. Peers are created under root.
func NewTestHelper(binary, root string) (*TestHelper, error) {
	if _, err := exec.LookPath(binary); err != nil {
		return nil, errors.WithContext(err, "find binary")
	}

	return &TestHelper{
		Binary: binary,
		Secret: fmt.Sprintf("ci-secret-%d", time.Now().UnixNano()),
		root:   root,
	}, nil
}

// NewPeer writes the config for a new peer and returns it. If remote is
// empty, the peer is given a free address to serve on.
func (helper *TestHelper) NewPeer(name, remote string) (Peer, error) {
	dir := filepath.Join(helper.root, name)
	storageDir := filepath.Join(dir, "files")
	if err := os.MkdirAll(storageDir, 0755); err != nil {
		return Peer{}, errors.WithContext(err, "make storage dir")
	}

	cfg := config.Config{
		Version:      config.SupportedVersion,
		Secret:       helper.Secret,
		StorageDir:   storageDir,
		Remote:       remote,
		PollInterval: config.Duration{Duration: 2 * time.Second},
	}
	if remote == "" {
		addr, err := freeAddress()
		if err != nil {
			return Peer{}, errors.WithContext(err, "pick address")
		}
		cfg.Listen = addr
	}

	cfgBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return Peer{}, errors.WithContext(err, "marshal config")
	}

	configPath := filepath.Join(dir, "pairsync.yaml")
	if err := ioutil.WriteFile(configPath, cfgBytes, 0600); err != nil {
		return Peer{}, errors.WithContext(err, "write config")
	}
	return Peer{Name: name, ConfigPath: configPath, StorageDir: storageDir, Config: cfg}, nil
}

// URL returns the base URL that the peer serves on.
func (peer Peer) URL() string {
	return "http://" + peer.Config.Listen
}

// WriteFiles writes the given files into the peer's storage directory.
func (peer Peer) WriteFiles(files map[string]string) error {
	for name, contents := range files {
		path := filepath.Join(peer.StorageDir, name)
		if err := ioutil.WriteFile(path, []byte(contents), 0644); err != nil {
			return errors.WithContext(err, fmt.Sprintf("write %s", name))
		}
	}
	return nil
}

// ReadFiles returns the contents of every file in the peer's storage
// directory.
func (peer Peer) ReadFiles() (map[string]string, error) {
	infos, err := ioutil.ReadDir(peer.StorageDir)
	if err != nil {
		return nil, errors.WithContext(err, "list")
	}

	files := map[string]string{}
	for _, info := range infos {
		if !info.Mode().IsRegular() {
			continue
		}

		contents, err := ioutil.ReadFile(filepath.Join(peer.StorageDir, info.Name()))
		if err != nil {
			return nil, errors.WithContext(err, fmt.Sprintf("read %s", info.Name()))
		}
		files[info.Name()] = string(contents)
	}
	return files, nil
}

// Start starts the given pairsync command. It returns a channel for
// obtaining any errors after starting the command, and any errors from
// starting the command. The command is stopped with SIGTERM when ctx is
// cancelled.
func (helper *TestHelper) Start(ctx context.Context, args ...string) (chan error, error) {
	cmd := exec.Command(helper.Binary, args...)

	stderr := bytes.NewBuffer(nil)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	errChan := make(chan error, 1)
	go func() {
		waitErr := make(chan error)
		go func() {
			waitErr <- cmd.Wait()
			close(waitErr)
		}()

		defer close(errChan)
		select {
		case <-ctx.Done():
			if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
				errChan <- errors.WithContext(err, "kill")
				return
			}
			<-waitErr
		case err := <-waitErr:
			errChan <- fmt.Errorf("crashed (%v): stderr: %s", err, stderr)
		}
	}()
	return errChan, nil
}

// Run runs the given pairsync command, and returns its stdout.
func (helper *TestHelper) Run(ctx context.Context, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, helper.Binary, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("%s (stderr: %s)", err, stderr.String())
	}
	return out, nil
}

// Serve runs `pairsync serve` for the given peer, and waits until it's
// answering requests.
func (helper *TestHelper) Serve(ctx context.Context, peer Peer, args ...string) (chan error, error) {
	log.WithField("peer", peer.Name).Info("Starting pairsync serve")
	cmd := append([]string{"serve", "--config", peer.ConfigPath}, args...)
	cmdErr, err := helper.Start(ctx, cmd...)
	if err != nil {
		return nil, errors.WithContext(err, "start")
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, time.Minute)
	defer cancelWait()

	isServing := func() bool {
		resp, err := http.Get(peer.URL() + server.VersionPath)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}

	serving := make(chan bool, 1)
	go func() {
		serving <- TestWithRetry(waitCtx, nil, isServing)
	}()

	select {
	case err := <-cmdErr:
		return nil, errors.WithContext(err, "pairsync serve crashed")
	case ok := <-serving:
		if !ok {
			return nil, errors.New("never started serving")
		}
		return cmdErr, nil
	}
}

// TestWithRetry runs test until it returns true, with an exponential
// backoff between attempts. A value on trigger causes an immediate retry.
func TestWithRetry(ctx context.Context, trigger chan struct{}, test func() bool) bool {
	maxSleepTime := 5 * time.Second
	sleepTime := 100 * time.Millisecond
	for {
		if test() {
			return true
		}

		select {
		case <-ctx.Done():
			return test()
		case <-time.After(sleepTime):
			sleepTime *= 2
			if sleepTime > maxSleepTime {
				sleepTime = maxSleepTime
			}
		case <-trigger:
		}
	}
}

func freeAddress() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer listener.Close()
	return listener.Addr().String(), nil
}
