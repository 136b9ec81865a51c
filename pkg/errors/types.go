package errors

import (
	"fmt"
)

var (
	// ErrUnauthorized is returned when a peer's token is missing, can't be
	// decrypted, or was encrypted with a different secret.
	ErrUnauthorized = New("unauthorized")

	// ErrMalformedContainer is returned when a container payload is truncated
	// or contains a name that isn't valid UTF-8.
	ErrMalformedContainer = New("malformed container")
)

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// NetworkError is a transport-level failure while talking to the remote
// peer.
type NetworkError struct {
	Op  string
	Err error
}

func (err NetworkError) Error() string {
	return fmt.Sprintf("network failure during %s: %s", err.Op, err.Err)
}

func (err NetworkError) Unwrap() error {
	return err.Err
}

// StorageError is a failure to persist a file entry. The in-memory index may
// already reflect the entry when this is returned.
type StorageError struct {
	Name string
	Err  error
}

func (err StorageError) Error() string {
	return fmt.Sprintf("store %q: %s", err.Name, err.Err)
}

func (err StorageError) Unwrap() error {
	return err.Err
}
