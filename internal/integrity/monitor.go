package integrity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ent0n29/proctor/internal/domain"
	"github.com/sirupsen/logrus"
)

// Thresholds are fixed policy. Categories absent here are reported only.
var Thresholds = map[domain.Category]int{
	domain.CategoryTabSwitch:  3,
	domain.CategoryWindowBlur: 5,
	domain.CategoryDevtools:   1,
}

var ErrAlreadyRunning = errors.New("integrity monitor already running")

// Reporter forwards events to the backend. Failures are logged and dropped.
type Reporter interface {
	ReportSecurityEvent(ctx context.Context, sessionID string, event domain.SecurityEvent) error
}

// Warning describes a below-threshold violation.
type Warning struct {
	Event     domain.SecurityEvent
	Count     int
	Remaining int
	Limited   bool
}

type Config struct {
	SessionID     string
	Reporter      Reporter
	ReportTimeout time.Duration
	Now           func() time.Time
	Log           *logrus.Entry
	// OnWarning runs for every violation that does not trip a threshold.
	OnWarning func(Warning)
	// OnTerminate runs at most once, on the goroutine that recorded the tripping event.
	OnTerminate func(reason string)
	// OnEvent observes every recorded event; used for metrics.
	OnEvent func(domain.SecurityEvent)
}

// Monitor counts violations for one attempt and trips termination once.
type Monitor struct {
	cfg Config

	mu       sync.Mutex
	counters map[domain.Category]int
	events   []domain.SecurityEvent
	tripped  bool

	source  SignalSource
	stop    chan struct{}
	done    chan struct{}
	reports sync.WaitGroup
}

func NewMonitor(cfg Config) *Monitor {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = 5 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Monitor{cfg: cfg, counters: make(map[domain.Category]int)}
}

// Start subscribes to src and handles its signals on a dedicated goroutine.
func (m *Monitor) Start(ctx context.Context, src SignalSource) error {
	m.mu.Lock()
	if m.source != nil {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	signals, err := src.Start(ctx)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("start signal source: %w", err)
	}
	m.source = src
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				m.HandleSignal(sig)
			}
		}
	}()
	return nil
}

// Stop unsubscribes the source and waits for the handler goroutine. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	src, stop, done := m.source, m.stop, m.done
	m.source, m.stop, m.done = nil, nil, nil
	m.mu.Unlock()
	if src == nil {
		return
	}
	src.Stop()
	close(stop)
	<-done
}

// Running reports whether a source is subscribed.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source != nil
}

// HandleSignal classifies sig and records it when it is a violation.
func (m *Monitor) HandleSignal(sig Signal) {
	category, ok := Classify(sig)
	if !ok {
		return
	}
	at := sig.At
	if at.IsZero() {
		at = m.cfg.Now()
	}
	m.Record(domain.SecurityEvent{Category: category, Timestamp: at, Detail: describe(sig)})
}

// Record appends ev, bumps its counter, reports it and trips termination when
// the count reaches the category threshold. Termination fires at most once.
func (m *Monitor) Record(ev domain.SecurityEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.cfg.Now()
	}

	m.mu.Lock()
	m.events = append(m.events, ev)
	m.counters[ev.Category]++
	count := m.counters[ev.Category]
	limit, limited := Thresholds[ev.Category]
	trip := limited && count >= limit && !m.tripped
	if trip {
		m.tripped = true
	}
	alreadyTripped := m.tripped && !trip
	m.mu.Unlock()

	m.report(ev)
	if m.cfg.OnEvent != nil {
		m.cfg.OnEvent(ev)
	}

	log := m.cfg.Log.WithFields(logrus.Fields{"category": ev.Category, "count": count})
	switch {
	case trip:
		log.Warn("integrity threshold reached")
		if m.cfg.OnTerminate != nil {
			m.cfg.OnTerminate(Reason(ev.Category, count))
		}
	case alreadyTripped:
		log.Debug("violation after termination")
	default:
		log.Info("integrity violation recorded")
		if m.cfg.OnWarning != nil {
			w := Warning{Event: ev, Count: count, Limited: limited}
			if limited {
				w.Remaining = limit - count
			}
			m.cfg.OnWarning(w)
		}
	}
}

func (m *Monitor) report(ev domain.SecurityEvent) {
	if m.cfg.Reporter == nil {
		return
	}
	m.reports.Add(1)
	go func() {
		defer m.reports.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ReportTimeout)
		defer cancel()
		if err := m.cfg.Reporter.ReportSecurityEvent(ctx, m.cfg.SessionID, ev); err != nil {
			m.cfg.Log.WithError(err).WithField("category", ev.Category).Warn("security event report dropped")
		}
	}()
}

// WaitReports blocks until in-flight backend reports have returned.
func (m *Monitor) WaitReports() {
	m.reports.Wait()
}

// Counters returns a copy of the per-category counts.
func (m *Monitor) Counters() map[domain.Category]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.Category]int, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}

// Events returns a copy of the append-only event log.
func (m *Monitor) Events() []domain.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SecurityEvent(nil), m.events...)
}

func (m *Monitor) Tripped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tripped
}

// Reason renders the termination notice shown to the candidate.
func Reason(category domain.Category, count int) string {
	switch category {
	case domain.CategoryTabSwitch:
		return fmt.Sprintf("Interview terminated: switched tabs %d times", count)
	case domain.CategoryWindowBlur:
		return fmt.Sprintf("Interview terminated: left the interview window %d times", count)
	case domain.CategoryDevtools:
		return "Interview terminated: developer tools shortcut detected"
	}
	return fmt.Sprintf("Interview terminated: %s limit reached", category)
}
