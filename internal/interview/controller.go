// Package interview runs one proctored interview attempt: phases, timers,
// answer submission and finalization, coordinating media capture, recording,
// integrity monitoring and the interviewer avatar.
package interview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/proctor/internal/avatar"
	"github.com/ent0n29/proctor/internal/backend"
	"github.com/ent0n29/proctor/internal/budget"
	"github.com/ent0n29/proctor/internal/domain"
	"github.com/ent0n29/proctor/internal/followup"
	"github.com/ent0n29/proctor/internal/integrity"
	"github.com/ent0n29/proctor/internal/media"
	"github.com/ent0n29/proctor/internal/recorder"
	"github.com/ent0n29/proctor/internal/voice"
	"github.com/sirupsen/logrus"
)

const eventBuffer = 256

type Config struct {
	AttemptID string
	SessionID string

	Backend   backend.Backend
	Device    media.Device
	Signals   integrity.SignalSource
	TTS       voice.TTSProvider
	Voice     voice.Voice
	FollowUps followup.Store

	Clock    Clock
	Log      *logrus.Entry
	Listener Listener
	Observer Observer

	VideoPolicy VideoPolicy
	// QuestionCapSeconds bounds every question budget; 0 uses budget.DefaultCapSeconds.
	QuestionCapSeconds int
	SampleRate         int

	PermissionTimeout    time.Duration
	SynthesisTimeout     time.Duration
	TranscriptionTimeout time.Duration
	RequestTimeout       time.Duration

	OnComplete func(final domain.Session)
	OnExit     func()
}

func (cfg *Config) setDefaults() {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Listener == nil {
		cfg.Listener = nopListener{}
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.VideoPolicy == "" {
		cfg.VideoPolicy = VideoOptional
	}
	if cfg.FollowUps == nil {
		cfg.FollowUps = followup.NewInMemoryStore()
	}
	if cfg.PermissionTimeout <= 0 {
		cfg.PermissionTimeout = time.Minute
	}
	if cfg.SynthesisTimeout <= 0 {
		cfg.SynthesisTimeout = 30 * time.Second
	}
	if cfg.TranscriptionTimeout <= 0 {
		cfg.TranscriptionTimeout = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
}

type opResult struct {
	text string
	err  error
}

// Controller owns every piece of mutable attempt state. All mutation happens
// on the loop goroutine; other goroutines hand work to it through post.
type Controller struct {
	cfg      Config
	log      *logrus.Entry
	clock    Clock
	listener Listener
	observer Observer

	media   *media.Manager
	rec     *recorder.Recorder
	avatar  *avatar.Synchronizer
	monitor *integrity.Monitor

	ctx    context.Context
	cancel context.CancelFunc

	events    chan func()
	done      chan struct{}
	closed    chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once

	// Loop-owned state below.
	session   domain.Session
	questions []domain.Question
	budgets   []int
	current   int
	responses []domain.Response
	draft     string
	warnings  []string

	interviewStarted time.Time
	questionStarted  time.Time
	sessionDeadline  time.Time

	sessionTimer  Timer
	questionTimer Timer
	sessionGen    uint64
	questionGen   uint64

	acquiring  bool
	starting   bool
	submitting bool

	pendingQuestionExpiry bool
	pendingSessionExpiry  bool

	finalizing bool
	finished   bool
	completion backend.Completion
	outcome    *Outcome
	exitCalled bool
}

// New validates the session and starts the controller in the welcome phase.
// An invalid session returns a *ValidityError and no controller.
func New(ctx context.Context, cfg Config) (*Controller, error) {
	if cfg.Backend == nil {
		return nil, errors.New("interview: backend is required")
	}
	if cfg.Device == nil {
		return nil, errors.New("interview: media device is required")
	}
	if strings.TrimSpace(cfg.SessionID) == "" {
		return nil, errors.New("interview: session id is required")
	}
	cfg.setDefaults()

	validity, err := validate(ctx, cfg.Backend, cfg.SessionID, cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	info, err := cfg.Backend.GetSession(reqCtx, cfg.SessionID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", cfg.SessionID, err)
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:      cfg,
		log:      cfg.Log.WithFields(logrus.Fields{"attempt_id": cfg.AttemptID, "session_id": cfg.SessionID}),
		clock:    cfg.Clock,
		listener: cfg.Listener,
		observer: cfg.Observer,
		ctx:      loopCtx,
		cancel:   loopCancel,
		events:   make(chan func(), eventBuffer),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
		current:  -1,
		session: domain.Session{
			ID:               cfg.SessionID,
			InterviewType:    info.InterviewType,
			Difficulty:       info.Difficulty,
			TotalSeconds:     info.TotalSeconds,
			RemainingSeconds: validity.RemainingSeconds,
			Phase:            domain.PhaseWelcome,
			Status:           domain.StatusActive,
		},
	}
	if c.session.TotalSeconds <= 0 {
		c.session.TotalSeconds = validity.RemainingSeconds
	}

	c.media = media.NewManager(cfg.Device)
	c.rec = recorder.New(cfg.Backend, cfg.SampleRate)
	c.avatar = avatar.New(avatar.Config{
		Provider: cfg.TTS,
		Voice:    cfg.Voice,
		Timeout:  cfg.SynthesisTimeout,
		Log:      c.log,
		OnAudio:  c.listener.AvatarAudio,
		OnState:  func(avatar.State) { go c.post(c.publish) },
		OnSynthesisError: func(err error) {
			c.listener.Notice(Notice{Level: NoticeInfo, Code: "speech_unavailable", Message: "The question could not be read aloud. Please read it on screen.", Dismissible: true})
		},
	})
	c.monitor = integrity.NewMonitor(integrity.Config{
		SessionID:     cfg.SessionID,
		Reporter:      cfg.Backend,
		ReportTimeout: cfg.RequestTimeout,
		Now:           c.clock.Now,
		Log:           c.log,
		OnEvent:       func(ev domain.SecurityEvent) { c.observer.Violation(ev.Category) },
		OnWarning:     c.onIntegrityWarning,
		// Posting from a fresh goroutine keeps the monitor handler from ever
		// waiting on the loop, which may itself be stopping the monitor.
		OnTerminate: func(reason string) { go c.post(func() { c.terminate(reason) }) },
	})

	go c.loop()
	c.observer.PhaseChanged("", domain.PhaseWelcome)
	c.post(c.publish)
	return c, nil
}

func validate(ctx context.Context, b backend.Backend, sessionID string, timeout time.Duration) (backend.Validity, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	v, err := b.ValidateSession(reqCtx, sessionID)
	if err != nil {
		return backend.Validity{}, fmt.Errorf("validate session %s: %w", sessionID, err)
	}
	if !v.Valid {
		return v, &ValidityError{SessionID: sessionID, Reason: v.Reason}
	}
	if v.RemainingSeconds <= 0 {
		return v, &ValidityError{SessionID: sessionID, Reason: "Interview session has expired"}
	}
	return v, nil
}

func (c *Controller) ID() string        { return c.cfg.AttemptID }
func (c *Controller) SessionID() string { return c.cfg.SessionID }

// Done is closed once the attempt has ended and its devices are released.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) loop() {
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-c.closed:
			return
		}
	}
}

// post hands fn to the loop. It returns false once the loop has stopped.
func (c *Controller) post(fn func()) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.events <- fn:
		return true
	case <-c.closed:
		return false
	}
}

// run executes fn on the loop and waits for its error.
func (c *Controller) run(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	if !c.post(func() { reply <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await executes fn on the loop. fn either fails immediately or returns a
// channel that the loop resolves when the asynchronous work settles.
func (c *Controller) await(ctx context.Context, fn func() (<-chan opResult, error)) (string, error) {
	type started struct {
		pending <-chan opResult
		err     error
	}
	reply := make(chan started, 1)
	if !c.post(func() {
		p, err := fn()
		reply <- started{pending: p, err: err}
	}) {
		return "", ErrClosed
	}
	var s started
	select {
	case s = <-reply:
	case <-c.closed:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if s.err != nil || s.pending == nil {
		return "", s.err
	}
	select {
	case r := <-s.pending:
		return r.text, r.err
	case <-c.closed:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func resolved(text string, err error) chan opResult {
	ch := make(chan opResult, 1)
	ch <- opResult{text: text, err: err}
	return ch
}

func (c *Controller) setPhase(to domain.Phase) {
	from := c.session.Phase
	if from == to {
		return
	}
	c.session.Phase = to
	c.observer.PhaseChanged(from, to)
	c.log.WithFields(logrus.Fields{"from": from, "to": to}).Info("phase changed")
}

// Setup moves from welcome to the device check.
func (c *Controller) Setup(ctx context.Context) error {
	return c.run(ctx, func() error {
		switch c.session.Phase {
		case domain.PhaseSetup:
			return nil
		case domain.PhaseWelcome:
			c.setPhase(domain.PhaseSetup)
			c.publish()
			return nil
		}
		return fmt.Errorf("setup from %s: %w", c.session.Phase, ErrInvalidTransition)
	})
}

// Back returns from setup to welcome. It is refused once the interview started.
func (c *Controller) Back(ctx context.Context) error {
	return c.run(ctx, func() error {
		if c.session.Phase != domain.PhaseSetup || c.starting {
			return fmt.Errorf("back from %s: %w", c.session.Phase, ErrInvalidTransition)
		}
		c.setPhase(domain.PhaseWelcome)
		c.publish()
		return nil
	})
}

// AcquireMedia requests microphone and camera access. Denials come back as
// *media.PermissionError values; the call can be repeated.
func (c *Controller) AcquireMedia(ctx context.Context) error {
	_, err := c.await(ctx, func() (<-chan opResult, error) {
		if c.session.Phase != domain.PhaseSetup {
			return nil, fmt.Errorf("acquire media in %s: %w", c.session.Phase, ErrInvalidTransition)
		}
		if c.acquiring || c.starting {
			return nil, ErrBusy
		}
		c.acquiring = true
		pending := make(chan opResult, 1)
		go func() {
			actx, cancel := context.WithTimeout(c.ctx, c.cfg.PermissionTimeout)
			err := c.media.Acquire(actx, media.KindAudio, media.KindVideo)
			cancel()
			if !c.post(func() { c.onMediaAcquired(err, pending) }) {
				pending <- opResult{err: ErrClosed}
			}
		}()
		return pending, nil
	})
	return err
}

func (c *Controller) onMediaAcquired(err error, pending chan<- opResult) {
	c.acquiring = false
	if c.finalizing || c.finished {
		// The attempt ended while the prompt was open.
		c.media.Release()
		pending <- opResult{err: ErrClosed}
		return
	}
	if err != nil {
		c.log.WithError(err).Warn("media acquisition incomplete")
		var permErr *media.PermissionError
		if errors.As(err, &permErr) {
			c.listener.Notice(Notice{
				Level:       NoticeWarning,
				Code:        "permission_" + string(permErr.Permission),
				Message:     permissionMessage(c.media),
				Dismissible: true,
			})
		}
	}
	if err != nil && c.cfg.VideoPolicy == VideoOptional && c.media.Permission(media.KindAudio) == media.PermissionGranted {
		// Audio alone is enough to start; the camera denial stays a notice.
		err = nil
	}
	c.publish()
	pending <- opResult{err: err}
}

func permissionMessage(m *media.Manager) string {
	if m.Permission(media.KindAudio) != media.PermissionGranted {
		return "Microphone access is required. Allow access in your browser and try again."
	}
	return "Camera access was not granted. You can retry, or continue without video if allowed."
}

// Start enters the interview: it checks devices, refreshes session validity,
// fetches questions and starts the timers.
func (c *Controller) Start(ctx context.Context) error {
	_, err := c.await(ctx, func() (<-chan opResult, error) {
		if c.session.Phase != domain.PhaseSetup {
			return nil, fmt.Errorf("start from %s: %w", c.session.Phase, ErrInvalidTransition)
		}
		if c.starting || c.acquiring {
			return nil, ErrBusy
		}
		if p := c.media.Permission(media.KindAudio); p != media.PermissionGranted {
			return nil, &MediaRequiredError{Kind: media.KindAudio, Permission: p}
		}
		if p := c.media.Permission(media.KindVideo); p != media.PermissionGranted {
			if c.cfg.VideoPolicy == VideoRequired {
				return nil, &MediaRequiredError{Kind: media.KindVideo, Permission: p}
			}
			c.warn("Camera unavailable: the interview continues with audio only.")
		}

		c.starting = true
		pending := make(chan opResult, 1)
		go func() {
			validity, questions, err := c.prepare()
			if !c.post(func() { c.onPrepared(validity, questions, err, pending) }) {
				pending <- opResult{err: ErrClosed}
			}
		}()
		return pending, nil
	})
	return err
}

// prepare runs off the loop; it only reads fields fixed at construction.
func (c *Controller) prepare() (backend.Validity, []domain.Question, error) {
	validity, err := validate(c.ctx, c.cfg.Backend, c.cfg.SessionID, c.cfg.RequestTimeout)
	if err != nil {
		return validity, nil, err
	}
	reqCtx, cancel := context.WithTimeout(c.ctx, c.cfg.RequestTimeout)
	defer cancel()
	questions, err := c.cfg.Backend.GenerateQuestions(reqCtx, backend.GenerateRequest{
		SessionID:        c.cfg.SessionID,
		RemainingSeconds: validity.RemainingSeconds,
		InterviewType:    c.session.InterviewType,
		Difficulty:       c.session.Difficulty,
		Count:            budget.QuestionCount(validity.RemainingSeconds, c.session.Difficulty),
	})
	if err != nil {
		return validity, nil, fmt.Errorf("generate questions: %w", err)
	}
	if len(questions) == 0 {
		return validity, nil, backend.ErrNoQuestions
	}
	return validity, questions, nil
}

func (c *Controller) onPrepared(validity backend.Validity, questions []domain.Question, err error, pending chan<- opResult) {
	c.starting = false
	if c.finalizing || c.finished {
		pending <- opResult{err: ErrClosed}
		return
	}
	var vErr *ValidityError
	if errors.As(err, &vErr) {
		c.log.WithField("reason", vErr.Reason).Warn("session no longer valid")
		c.listener.Notice(Notice{Level: NoticeCritical, Code: "session_invalid", Message: vErr.Reason})
		c.exitBeforeInterview(vErr.Reason, err)
		pending <- opResult{err: err}
		return
	}
	if err != nil {
		c.log.WithError(err).Warn("could not start interview")
		c.listener.Notice(Notice{Level: NoticeWarning, Code: "start_failed", Message: "Could not load the interview questions. Please try again.", Dismissible: true})
		c.publish()
		pending <- opResult{err: err}
		return
	}
	c.enterInterview(validity.RemainingSeconds, questions)
	pending <- opResult{}
}

func (c *Controller) enterInterview(remaining int, questions []domain.Question) {
	now := c.clock.Now()
	c.questions = append([]domain.Question(nil), questions...)
	c.budgets = budget.Allocate(remaining, c.questions, c.cfg.QuestionCapSeconds)
	c.responses = make([]domain.Response, 0, len(c.questions))
	c.session.RemainingSeconds = remaining
	c.interviewStarted = now
	c.sessionDeadline = now.Add(time.Duration(remaining) * time.Second)
	c.setPhase(domain.PhaseInterview)

	c.sessionGen++
	gen := c.sessionGen
	c.sessionTimer = c.clock.AfterFunc(time.Duration(remaining)*time.Second, func() {
		c.post(func() { c.onSessionExpired(gen) })
	})

	if c.cfg.Signals != nil {
		if err := c.monitor.Start(c.ctx, c.cfg.Signals); err != nil {
			c.log.WithError(err).Error("integrity monitor did not start")
		}
	}
	c.log.WithFields(logrus.Fields{"questions": len(c.questions), "remaining_seconds": remaining, "budgets": c.budgets}).Info("interview started")
	c.startQuestion(0)
}

func (c *Controller) startQuestion(i int) {
	if c.questionTimer != nil {
		c.questionTimer.Stop()
		c.questionTimer = nil
	}
	c.rec.Cancel()

	now := c.clock.Now()
	q := c.questions[i]
	c.current = i
	c.draft = ""
	c.questionStarted = now
	c.pendingQuestionExpiry = false
	c.responses = append(c.responses, domain.Response{QuestionID: q.ID, StartedAt: now})

	c.questionGen++
	gen := c.questionGen
	if limit := c.budgets[i]; limit > 0 {
		c.questionTimer = c.clock.AfterFunc(time.Duration(limit)*time.Second, func() {
			c.post(func() { c.onQuestionExpired(gen) })
		})
	}
	c.avatar.Speak(q.Prompt)
	c.publish()
}

// UpdateDraft replaces the typed answer for the current question.
func (c *Controller) UpdateDraft(ctx context.Context, text string) error {
	return c.run(ctx, func() error {
		if c.session.Phase != domain.PhaseInterview || c.finalizing {
			return ErrNotInInterview
		}
		c.draft = text
		c.responses[c.current].Answer = text
		return nil
	})
}

// RecordStart begins recording a spoken answer. It is a no-op while recording.
func (c *Controller) RecordStart(ctx context.Context) error {
	return c.run(ctx, func() error {
		if c.session.Phase != domain.PhaseInterview || c.finalizing {
			return ErrNotInInterview
		}
		if err := c.rec.Start(c.media.Handle(media.KindAudio)); err != nil {
			if errors.Is(err, recorder.ErrProcessing) {
				return fmt.Errorf("%w: %w", ErrBusy, err)
			}
			return err
		}
		c.publish()
		return nil
	})
}

// RecordStop ends the recording and merges its transcription into the draft.
// It returns the transcribed text. Stopping while idle is a no-op.
func (c *Controller) RecordStop(ctx context.Context) (string, error) {
	return c.await(ctx, func() (<-chan opResult, error) {
		if c.session.Phase != domain.PhaseInterview || c.finalizing {
			return nil, ErrNotInInterview
		}
		if c.rec.State() != recorder.StateRecording {
			return resolved("", nil), nil
		}
		c.avatar.RecordingStopped()
		gen := c.questionGen
		pending := make(chan opResult, 1)
		go func() {
			tctx, cancel := context.WithTimeout(c.ctx, c.cfg.TranscriptionTimeout)
			began := time.Now()
			tr, err := c.rec.Stop(tctx)
			cancel()
			c.observer.Transcription(time.Since(began), err)
			if !c.post(func() { c.onTranscribed(gen, tr, err, pending) }) {
				pending <- opResult{err: ErrClosed}
			}
		}()
		c.publish()
		return pending, nil
	})
}

func (c *Controller) onTranscribed(gen uint64, tr recorder.Transcript, err error, pending chan<- opResult) {
	if gen != c.questionGen || c.finalizing || c.finished {
		pending <- opResult{err: ErrNotInInterview}
		return
	}
	c.avatar.TranscriptionResolved()
	if err != nil {
		c.log.WithError(err).Warn("transcription failed; draft unchanged")
		c.listener.Notice(Notice{Level: NoticeWarning, Code: "transcription_failed", Message: "We could not transcribe your recording. You can type your answer instead.", Dismissible: true})
		c.publish()
		pending <- opResult{err: err}
		return
	}
	if !tr.Empty() {
		c.draft = recorder.MergeDraft(c.draft, tr.Text)
		c.responses[c.current].Answer = c.draft
		c.responses[c.current].AudioRef = tr.ArtifactID
	}
	c.publish()
	pending <- opResult{text: tr.Text}
}

// Exit leaves the attempt. During the interview this terminates it; before,
// it releases devices and hands control back without a completion call.
func (c *Controller) Exit(ctx context.Context) error {
	return c.run(ctx, func() error {
		c.exit("Candidate exited the interview")
		return nil
	})
}

// Abort ends the attempt on behalf of the server. A finished attempt stops
// its loop.
func (c *Controller) Abort(reason string) {
	c.post(func() {
		if c.finished {
			if !c.finalizing {
				c.close()
			}
			return
		}
		c.exit(reason)
	})
}

func (c *Controller) exit(reason string) {
	if c.finished || c.finalizing {
		return
	}
	switch c.session.Phase {
	case domain.PhaseWelcome, domain.PhaseSetup:
		c.exitBeforeInterview(reason, nil)
	case domain.PhaseInterview:
		c.finalize(domain.StatusTerminated, reason)
	}
}

func (c *Controller) terminate(reason string) {
	if c.session.Phase != domain.PhaseInterview || c.finalizing || c.finished {
		return
	}
	c.finalize(domain.StatusTerminated, reason)
}

func (c *Controller) warn(msg string) {
	for _, w := range c.warnings {
		if w == msg {
			return
		}
	}
	c.warnings = append(c.warnings, msg)
	c.log.Warn(msg)
	c.listener.Notice(Notice{Level: NoticeWarning, Code: "warning", Message: msg, Dismissible: true})
}

func (c *Controller) onIntegrityWarning(w integrity.Warning) {
	msg := fmt.Sprintf("Integrity warning: %s detected.", strings.ReplaceAll(string(w.Event.Category), "_", " "))
	if w.Limited {
		msg += fmt.Sprintf(" %d more will end the interview.", w.Remaining)
	}
	c.listener.Notice(Notice{Level: NoticeWarning, Code: string(w.Event.Category), Message: msg, Dismissible: true})
	go c.post(c.publish)
}

// Snapshot returns the current presentation view.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.run(ctx, func() error {
		snap = c.snapshot()
		return nil
	})
	return snap, err
}

// Outcome returns how the attempt ended, or false while it is still running.
func (c *Controller) Outcome(ctx context.Context) (Outcome, bool, error) {
	var (
		out Outcome
		ok  bool
	)
	err := c.run(ctx, func() error {
		if c.outcome != nil {
			out, ok = *c.outcome, true
		}
		return nil
	})
	return out, ok, err
}

// ProvideDevicePermission is a convenience for transports that learn about
// permission answers out of band; it is a no-op for non-remote devices.
func (c *Controller) ProvideDevicePermission(kind media.Kind, perm media.Permission) error {
	rd, ok := c.cfg.Device.(*media.RemoteDevice)
	if !ok {
		return nil
	}
	return rd.Answer(kind, perm)
}

func (c *Controller) publish() {
	c.listener.StateChanged(c.snapshot())
}

func (c *Controller) snapshot() Snapshot {
	now := c.clock.Now()
	s := Snapshot{
		AttemptID:     c.cfg.AttemptID,
		Session:       c.session,
		Phase:         c.session.Phase,
		QuestionIndex: c.current,
		QuestionCount: len(c.questions),
		Draft:         c.draft,
		Submitting:    c.submitting,
		Recorder:      c.rec.State(),
		Avatar:        c.avatar.State(),
		Permissions: map[media.Kind]media.Permission{
			media.KindAudio: c.media.Permission(media.KindAudio),
			media.KindVideo: c.media.Permission(media.KindVideo),
		},
		Violations: c.monitor.Counters(),
		Warnings:   append([]string(nil), c.warnings...),
		Finished:   c.finished,
	}
	for _, r := range c.responses {
		if r.IsAnswered {
			s.AnsweredCount++
		}
	}
	if c.session.Phase == domain.PhaseInterview && !c.finalizing {
		s.SessionLeft = secondsUntil(now, c.sessionDeadline)
		s.Session.RemainingSeconds = s.SessionLeft
		if c.current >= 0 && c.current < len(c.questions) {
			q := c.questions[c.current]
			s.Question = &q
			s.QuestionLimit = c.budgets[c.current]
			if s.QuestionLimit > 0 {
				s.QuestionLeft = secondsUntil(now, c.questionStarted.Add(time.Duration(s.QuestionLimit)*time.Second))
			}
		}
	}
	return s
}

func secondsUntil(now, deadline time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

func elapsedSeconds(from, to time.Time) int {
	if from.IsZero() || !to.After(from) {
		return 0
	}
	return int(to.Sub(from) / time.Second)
}
