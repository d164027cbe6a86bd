package media

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

func (k Kind) Valid() bool {
	return k == KindVideo || k == KindAudio
}

type Permission string

const (
	PermissionPrompt  Permission = "prompt"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

var (
	ErrPermissionDenied = errors.New("media permission denied")
	ErrUnknownKind      = errors.New("unknown media kind")
	ErrReleased         = errors.New("media manager released")
)

// PermissionError reports a failed acquisition. The caller may retry Acquire.
type PermissionError struct {
	Kind       Kind
	Permission Permission
	Err        error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("acquire %s: %s: %v", e.Kind, e.Permission, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// Recoverable is always true; a denied device can be requested again.
func (e *PermissionError) Recoverable() bool { return true }

// Stream is a live capture opened by a Device.
type Stream interface {
	// Frames yields captured chunks and is closed once the stream stops.
	Frames() <-chan []byte
	Stop() error
}

// Device opens capture streams. Implementations return an error wrapping
// ErrPermissionDenied when the user rejects access.
type Device interface {
	Open(ctx context.Context, kind Kind) (Stream, error)
}
