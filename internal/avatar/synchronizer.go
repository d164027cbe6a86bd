package avatar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ent0n29/proctor/internal/voice"
	"github.com/sirupsen/logrus"
)

type State string

const (
	StateIdle      State = "idle"
	StateSpeaking  State = "speaking"
	StateListening State = "listening"
	StateThinking  State = "thinking"
)

var errStreamClosed = errors.New("tts stream closed before final")

type Config struct {
	Provider voice.TTSProvider
	Voice    voice.Voice
	// Timeout bounds one synthesis; expiry counts as a failure.
	Timeout time.Duration
	Log     *logrus.Entry
	// OnAudio receives synthesized chunks in order.
	OnAudio func(ev voice.TTSEvent)
	// OnState is called after every state change, outside the lock.
	OnState func(State)
	// OnSynthesisError observes failed synthesis; the state still moves to listening.
	OnSynthesisError func(err error)
}

// Synchronizer drives the interviewer presentation state around speech synthesis
// and recording. It never gates submission.
type Synchronizer struct {
	cfg Config

	mu     sync.Mutex
	state  State
	gen    uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Synchronizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Synchronizer{cfg: cfg, state: StateIdle}
}

func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Speak synthesizes text and moves to speaking until the stream finishes, fails
// or times out, then to listening. A newer Speak or Idle supersedes it.
func (s *Synchronizer) Speak(text string) {
	s.mu.Lock()
	s.abortLocked()
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	s.cancel = cancel
	s.state = StateSpeaking
	s.wg.Add(1)
	s.mu.Unlock()
	s.notify(StateSpeaking)

	go func() {
		defer s.wg.Done()
		defer cancel()
		err := s.synthesize(ctx, text)
		s.finish(gen, err)
	}()
}

func (s *Synchronizer) synthesize(ctx context.Context, text string) error {
	if s.cfg.Provider == nil {
		return errors.New("no tts provider configured")
	}
	stream, err := s.cfg.Provider.StartStream(ctx, s.cfg.Voice.VoiceID, s.cfg.Voice.ModelID, s.cfg.Voice.Settings)
	if err != nil {
		return fmt.Errorf("start tts stream: %w", err)
	}
	defer stream.Close()

	if err := stream.SendText(ctx, text, true); err != nil {
		return fmt.Errorf("send tts text: %w", err)
	}
	if err := stream.CloseInput(ctx); err != nil {
		return fmt.Errorf("close tts input: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-stream.Events():
			if !ok {
				return errStreamClosed
			}
			switch ev.Type {
			case voice.TTSEventAudio:
				if s.cfg.OnAudio != nil && ctx.Err() == nil {
					s.cfg.OnAudio(ev)
				}
			case voice.TTSEventFinal:
				return nil
			case voice.TTSEventError:
				return fmt.Errorf("tts error %s: %s", ev.Code, ev.Detail)
			}
		}
	}
}

func (s *Synchronizer) finish(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateSpeaking {
		s.mu.Unlock()
		return
	}
	s.cancel = nil
	s.state = StateListening
	s.mu.Unlock()

	if err != nil {
		s.cfg.Log.WithError(err).Warn("speech synthesis failed; continuing without audio")
		if s.cfg.OnSynthesisError != nil {
			s.cfg.OnSynthesisError(err)
		}
	}
	s.notify(StateListening)
}

// RecordingStopped moves to thinking while a transcription is pending.
func (s *Synchronizer) RecordingStopped() {
	s.transition(StateThinking, StateSpeaking, StateListening)
}

// TranscriptionResolved returns to listening after thinking.
func (s *Synchronizer) TranscriptionResolved() {
	s.transition(StateListening, StateThinking)
}

func (s *Synchronizer) transition(to State, from ...State) {
	s.mu.Lock()
	allowed := false
	for _, f := range from {
		if s.state == f {
			allowed = true
			break
		}
	}
	if !allowed {
		s.mu.Unlock()
		return
	}
	if s.state == StateSpeaking {
		s.abortLocked()
		s.gen++
	}
	s.state = to
	s.mu.Unlock()
	s.notify(to)
}

// Cancel aborts in-flight synthesis. A speaking avatar falls back to listening.
func (s *Synchronizer) Cancel() {
	s.mu.Lock()
	s.abortLocked()
	s.gen++
	changed := s.state == StateSpeaking
	if changed {
		s.state = StateListening
	}
	s.mu.Unlock()
	if changed {
		s.notify(StateListening)
	}
}

// Idle aborts synthesis and shows no active question.
func (s *Synchronizer) Idle() {
	s.mu.Lock()
	s.abortLocked()
	s.gen++
	changed := s.state != StateIdle
	s.state = StateIdle
	s.mu.Unlock()
	if changed {
		s.notify(StateIdle)
	}
}

// Wait blocks until every synthesis goroutine has returned.
func (s *Synchronizer) Wait() {
	s.wg.Wait()
}

func (s *Synchronizer) abortLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Synchronizer) notify(st State) {
	if s.cfg.OnState != nil {
		s.cfg.OnState(st)
	}
}
