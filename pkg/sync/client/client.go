// Package client implements the Initiator: the peer that probes a Responder
// and drives each reconciliation to completion.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/sidkik/pairsync/pkg/errors"
	"github.com/sidkik/pairsync/pkg/sync"
	"github.com/sidkik/pairsync/pkg/sync/container"
	"github.com/sidkik/pairsync/pkg/sync/server"
	"github.com/sidkik/pairsync/pkg/sync/token"
)

// Client is the interface for talking to a Responder.
type Client interface {
	// Probe sends the Initiator's name set, and returns the Responder's
	// decision.
	Probe(ctx context.Context, names sync.NameSet) (Reply, error)

	// Upload sends entries that the Responder is missing.
	Upload(ctx context.Context, entries []sync.FileEntry) error

	// Version returns the Responder's build version.
	Version(ctx context.Context) (string, error)
}

// Reply is the Responder's answer to a probe.
type Reply struct {
	Outcome sync.Outcome

	// Missing are the names the Responder doesn't hold. It's set for both
	// OutcomeContainer and OutcomeNames.
	Missing sync.NameSet

	// Entries are the files the Initiator doesn't hold. It's only set for
	// OutcomeContainer.
	Entries []sync.FileEntry
}

type client struct {
	baseURL    string
	cipher     *token.Cipher
	httpClient *http.Client
}

// New returns a Client for the Responder at `baseURL`, such as
// "http://host:8080". Requests don't time out on their own, so callers
// should bound them with their context.
func New(baseURL string, cipher *token.Cipher) Client {
	return &client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		cipher:     cipher,
		httpClient: &http.Client{},
	}
}

func (c *client) Probe(ctx context.Context, names sync.NameSet) (Reply, error) {
	contentType, body, err := c.do(ctx, http.MethodGet, server.SyncPath, []byte(names.Join()), true)
	if err != nil {
		return Reply{}, err
	}

	// The Responder marks binary payloads so that the reply can be
	// interpreted by its shape alone.
	if contentType == container.ContentType {
		missing, entries, err := container.Decode(body)
		if err != nil {
			return Reply{}, errors.WithContext(err, "decode reply")
		}
		return Reply{Outcome: sync.OutcomeContainer, Missing: missing, Entries: entries}, nil
	}

	text := string(body)
	if text == server.SyncedResponse {
		return Reply{Outcome: sync.OutcomeSynced, Missing: sync.NameSet{}}, nil
	}
	return Reply{Outcome: sync.OutcomeNames, Missing: sync.ParseNames(text)}, nil
}

func (c *client) Upload(ctx context.Context, entries []sync.FileEntry) error {
	payload, err := container.Encode(nil, entries)
	if err != nil {
		return errors.WithContext(err, "encode upload")
	}

	_, _, err = c.do(ctx, http.MethodPost, server.SyncPath, payload, true)
	return err
}

func (c *client) Version(ctx context.Context) (string, error) {
	_, body, err := c.do(ctx, http.MethodGet, server.VersionPath, nil, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// do sends a request, and returns the response's content type and body.
// Non-200 responses are returned as errors.
func (c *client) do(ctx context.Context, method, path string, body []byte,
	authenticate bool) (string, []byte, error) {

	op := fmt.Sprintf("%s %s", method, path)
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", nil, errors.WithContext(err, "create request")
	}

	if authenticate {
		// Each request carries a freshly encrypted token.
		tok, err := c.cipher.Token()
		if err != nil {
			return "", nil, errors.WithContext(err, "create token")
		}
		req.Header.Set("Authorization", tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, errors.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", nil, errors.NetworkError{Op: op, Err: errors.WithContext(err, "read response")}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Header.Get("Content-Type"), respBody, nil
	case http.StatusUnauthorized:
		return "", nil, errors.WithContext(errors.ErrUnauthorized, op)
	default:
		return "", nil, errors.WithContext(
			fmt.Errorf("responder returned %s: %s", resp.Status, strings.TrimSpace(string(respBody))),
			op)
	}
}
