package interview

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/proctor/internal/audio"
	"github.com/ent0n29/proctor/internal/backend"
	"github.com/ent0n29/proctor/internal/domain"
	"github.com/ent0n29/proctor/internal/media"
	"github.com/ent0n29/proctor/internal/voice"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	fn    func()
	done  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and fires every due timer in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.done && !t.at.After(c.now) {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

type fakeStream struct {
	frames chan []byte
	once   sync.Once
	stops  atomic.Int32
}

func (s *fakeStream) Frames() <-chan []byte { return s.frames }

func (s *fakeStream) Stop() error {
	s.stops.Add(1)
	s.once.Do(func() { close(s.frames) })
	return nil
}

type fakeDevice struct {
	mu      sync.Mutex
	deny    map[media.Kind]bool
	streams map[media.Kind]*fakeStream
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{deny: map[media.Kind]bool{}, streams: map[media.Kind]*fakeStream{}}
}

func (d *fakeDevice) Open(_ context.Context, kind media.Kind) (media.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deny[kind] {
		return nil, fmt.Errorf("%s blocked: %w", kind, media.ErrPermissionDenied)
	}
	s := &fakeStream{frames: make(chan []byte)}
	d.streams[kind] = s
	return s, nil
}

func (d *fakeDevice) setDeny(kind media.Kind, deny bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deny[kind] = deny
}

func (d *fakeDevice) stream(kind media.Kind) *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[kind]
}

func (d *fakeDevice) stops(kind media.Kind) int {
	s := d.stream(kind)
	if s == nil {
		return 0
	}
	return int(s.stops.Load())
}

type fakeBackend struct {
	mu          sync.Mutex
	validity    backend.Validity
	session     domain.Session
	questions   []domain.Question
	submitErr   error
	submitGate  chan struct{}
	completeErr error
	transcript  string

	generated   []backend.GenerateRequest
	submissions []backend.AnswerSubmission
	completions []backend.Completion
	reports     []domain.SecurityEvent
}

func newFakeBackend(remaining int, qs []domain.Question) *fakeBackend {
	return &fakeBackend{
		validity: backend.Validity{Valid: true, RemainingSeconds: remaining, Status: "scheduled"},
		session: domain.Session{
			ID:            "sess-1",
			InterviewType: "technical",
			Difficulty:    domain.DifficultyMedium,
			TotalSeconds:  remaining,
		},
		questions: qs,
	}
}

func (b *fakeBackend) ValidateSession(context.Context, string) (backend.Validity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.validity, nil
}

func (b *fakeBackend) GetSession(context.Context, string) (domain.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session, nil
}

func (b *fakeBackend) GenerateQuestions(_ context.Context, req backend.GenerateRequest) ([]domain.Question, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generated = append(b.generated, req)
	return append([]domain.Question(nil), b.questions...), nil
}

func (b *fakeBackend) SubmitAnswer(ctx context.Context, sub backend.AnswerSubmission) error {
	b.mu.Lock()
	gate := b.submitGate
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitErr != nil {
		return b.submitErr
	}
	b.submissions = append(b.submissions, sub)
	return nil
}

func (b *fakeBackend) Transcribe(_ context.Context, a audio.Artifact) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(a.Data) == 0 {
		return "", errors.New("empty artifact")
	}
	return b.transcript, nil
}

func (b *fakeBackend) ReportSecurityEvent(_ context.Context, _ string, ev domain.SecurityEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reports = append(b.reports, ev)
	return nil
}

func (b *fakeBackend) CompleteInterview(_ context.Context, c backend.Completion) (domain.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completions = append(b.completions, c)
	if b.completeErr != nil {
		return domain.Session{}, b.completeErr
	}
	final := b.session
	final.Status = c.Status
	final.TerminationReason = c.Reason
	return final, nil
}

func (b *fakeBackend) set(fn func(b *fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *fakeBackend) submitted() []backend.AnswerSubmission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.AnswerSubmission(nil), b.submissions...)
}

func (b *fakeBackend) completed() []backend.Completion {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.Completion(nil), b.completions...)
}

type recordingListener struct {
	mu       sync.Mutex
	notices  []Notice
	outcomes []Outcome
}

func (l *recordingListener) StateChanged(Snapshot) {}

func (l *recordingListener) Notice(n Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
}

func (l *recordingListener) AvatarAudio(voice.TTSEvent) {}

func (l *recordingListener) Finished(o Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, o)
}

func (l *recordingListener) noticed(code string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range l.notices {
		if n.Code == code {
			return true
		}
	}
	return false
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
