package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ent0n29/proctor/internal/audio"
	"github.com/ent0n29/proctor/internal/media"
	"github.com/google/uuid"
)

type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
)

var (
	ErrHandleNotLive = errors.New("audio handle is not live")
	ErrCancelled     = errors.New("recording cancelled")
	ErrProcessing    = errors.New("previous recording is still being transcribed")
)

// Transcriber converts an assembled recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, artifact audio.Artifact) (string, error)
}

// TranscriptionError is recoverable: the answer can still be typed by hand.
type TranscriptionError struct {
	ArtifactID string
	Err        error
}

func (e *TranscriptionError) Error() string {
	if e.ArtifactID == "" {
		return fmt.Sprintf("transcription failed: %v", e.Err)
	}
	return fmt.Sprintf("transcription of %s failed: %v", e.ArtifactID, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

func (e *TranscriptionError) Recoverable() bool { return true }

// Transcript is the result of one Stop. A zero Transcript means nothing was recording.
type Transcript struct {
	ArtifactID string
	Text       string
}

func (t Transcript) Empty() bool { return t.ArtifactID == "" }

// Recorder buffers audio frames from a media handle between Start and Stop.
type Recorder struct {
	transcriber Transcriber
	sampleRate  int

	mu          sync.Mutex
	state       State
	chunks      [][]byte
	unsubscribe func()
	cancelRun   context.CancelFunc
}

func New(transcriber Transcriber, sampleRate int) *Recorder {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return &Recorder{transcriber: transcriber, sampleRate: sampleRate, state: StateIdle}
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start begins buffering frames from h. Calling Start while recording is a
// no-op; while a transcription is still running it fails with ErrProcessing.
func (r *Recorder) Start(h *media.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateRecording:
		return nil
	case StateProcessing:
		return ErrProcessing
	}
	if h == nil || h.Kind() != media.KindAudio || !h.Live() {
		return ErrHandleNotLive
	}
	r.chunks = nil
	r.state = StateRecording
	r.unsubscribe = h.Subscribe(r.append)
	return nil
}

func (r *Recorder) append(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording || len(frame) == 0 {
		return
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	r.chunks = append(r.chunks, buf)
}

// Stop assembles the buffered chunks into one artifact and transcribes it.
// Stopping while not recording is a no-op and returns an empty Transcript.
func (r *Recorder) Stop(ctx context.Context) (Transcript, error) {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return Transcript{}, nil
	}
	r.state = StateProcessing
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	chunks := r.chunks
	r.chunks = nil
	ctx, cancel := context.WithCancel(ctx)
	r.cancelRun = cancel
	r.mu.Unlock()

	defer func() {
		cancel()
		r.mu.Lock()
		r.cancelRun = nil
		r.state = StateIdle
		r.mu.Unlock()
	}()

	id := uuid.NewString()
	artifact, err := audio.Assemble(id, chunks, r.sampleRate)
	if err != nil {
		return Transcript{ArtifactID: id}, &TranscriptionError{ArtifactID: id, Err: err}
	}
	text, err := r.transcriber.Transcribe(ctx, artifact)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			err = ErrCancelled
		}
		return Transcript{ArtifactID: id}, &TranscriptionError{ArtifactID: id, Err: err}
	}
	return Transcript{ArtifactID: id, Text: strings.TrimSpace(text)}, nil
}

// Cancel drops any recording in progress and aborts an in-flight transcription.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	if r.cancelRun != nil {
		r.cancelRun()
	}
	r.chunks = nil
	if r.state == StateRecording {
		r.state = StateIdle
	}
}

// MergeDraft appends transcribed text to an existing answer draft.
func MergeDraft(draft, transcribed string) string {
	draft = strings.TrimSpace(draft)
	transcribed = strings.TrimSpace(transcribed)
	switch {
	case transcribed == "":
		return draft
	case draft == "":
		return transcribed
	default:
		return draft + " " + transcribed
	}
}
