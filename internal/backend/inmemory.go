package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/proctor/internal/audio"
	"github.com/ent0n29/proctor/internal/budget"
	"github.com/ent0n29/proctor/internal/domain"
)

const maxRecordedViolations = 10

// SessionRecord is a scheduled interview held by InMemory.
type SessionRecord struct {
	ID            string
	InterviewType string
	Difficulty    domain.Difficulty
	ScheduledAt   time.Time
	Duration      time.Duration
	// Status is one of scheduled, in_progress, completed, terminated.
	Status string
}

type memorySession struct {
	rec        SessionRecord
	questions  []domain.Question
	answers    map[string]AnswerSubmission
	events     []domain.SecurityEvent
	completion *Completion
}

// InMemory is a development and test Backend. Validation follows the portal's
// rules: schedule window, terminal status and the violation ceiling.
type InMemory struct {
	now        func() time.Time
	transcript func(audio.Artifact) (string, error)

	mu       sync.Mutex
	sessions map[string]*memorySession
}

func NewInMemory(now func() time.Time) *InMemory {
	if now == nil {
		now = time.Now
	}
	return &InMemory{
		now:      now,
		sessions: make(map[string]*memorySession),
		transcript: func(a audio.Artifact) (string, error) {
			return fmt.Sprintf("transcribed %s of audio", a.Duration.Round(time.Second)), nil
		},
	}
}

// SetTranscriber replaces the canned transcription.
func (m *InMemory) SetTranscriber(fn func(audio.Artifact) (string, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcript = fn
}

func (m *InMemory) Seed(rec SessionRecord) {
	if rec.Status == "" {
		rec.Status = "scheduled"
	}
	if rec.InterviewType == "" {
		rec.InterviewType = "technical"
	}
	if rec.Difficulty == "" {
		rec.Difficulty = domain.DifficultyMedium
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[rec.ID] = &memorySession{rec: rec, answers: make(map[string]AnswerSubmission)}
}

func (m *InMemory) get(id string) (*memorySession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return s, nil
}

func (m *InMemory) ValidateSession(_ context.Context, sessionID string) (Validity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(sessionID)
	if err != nil {
		return Validity{}, err
	}
	now := m.now()
	end := s.rec.ScheduledAt.Add(s.rec.Duration)
	switch {
	case s.rec.ScheduledAt.After(now):
		return Validity{Reason: "Interview has not started yet"}, nil
	case now.After(end):
		return Validity{Reason: "Interview session has expired"}, nil
	case s.rec.Status == "completed":
		return Validity{Reason: "Interview is already completed"}, nil
	case s.rec.Status == "terminated":
		return Validity{Reason: "Interview was terminated due to security violations"}, nil
	case len(s.events) >= maxRecordedViolations:
		return Validity{Reason: "Too many security violations"}, nil
	}
	return Validity{
		Valid:            true,
		RemainingSeconds: int(end.Sub(now) / time.Second),
		Status:           s.rec.Status,
	}, nil
}

func (m *InMemory) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	return s.view(), nil
}

func (s *memorySession) view() domain.Session {
	out := domain.Session{
		ID:            s.rec.ID,
		InterviewType: s.rec.InterviewType,
		Difficulty:    s.rec.Difficulty,
		TotalSeconds:  int(s.rec.Duration / time.Second),
		Status:        domain.StatusActive,
		Phase:         domain.PhaseWelcome,
	}
	switch s.rec.Status {
	case "completed":
		out.Status, out.Phase = domain.StatusCompleted, domain.PhaseComplete
	case "terminated":
		out.Status, out.Phase = domain.StatusTerminated, domain.PhaseTerminated
	}
	if s.completion != nil {
		out.TerminationReason = s.completion.Reason
	}
	return out
}

// GenerateQuestions returns the existing set when one was already issued.
func (m *InMemory) GenerateQuestions(_ context.Context, req GenerateRequest) ([]domain.Question, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(req.SessionID)
	if err != nil {
		return nil, err
	}
	switch s.rec.Status {
	case "completed", "terminated":
		return nil, &APIError{Op: "generate-questions", Status: 400, Message: "Cannot generate questions for " + s.rec.Status + " interview"}
	}
	if len(s.questions) > 0 {
		return append([]domain.Question(nil), s.questions...), nil
	}

	difficulty := req.Difficulty
	if difficulty == "" {
		difficulty = s.rec.Difficulty
	}
	count := req.Count
	if count <= 0 {
		count = budget.QuestionCount(req.RemainingSeconds, difficulty)
	}
	kind := req.InterviewType
	if kind == "" {
		kind = s.rec.InterviewType
	}
	bank := questionBank[strings.ToLower(kind)]
	if len(bank) == 0 {
		bank = questionBank["technical"]
		kind = "technical"
	}
	for i := 0; i < count; i++ {
		s.questions = append(s.questions, domain.Question{
			ID:         fmt.Sprintf("%s-q%d", s.rec.ID, i+1),
			Prompt:     bank[i%len(bank)],
			Difficulty: difficulty,
			Position:   i + 1,
			Category:   kind,
		})
	}
	s.rec.Status = "in_progress"
	return append([]domain.Question(nil), s.questions...), nil
}

func (m *InMemory) SubmitAnswer(_ context.Context, sub AnswerSubmission) error {
	if err := Validate(sub); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(sub.SessionID)
	if err != nil {
		return err
	}
	if s.rec.Status != "in_progress" {
		return &APIError{Op: "submit-answer", Status: 400, Message: ErrNotInProgress.Error()}
	}
	known := false
	for _, q := range s.questions {
		if q.ID == sub.QuestionID {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("question %q: %w", sub.QuestionID, ErrNotFound)
	}
	s.answers[sub.QuestionID] = sub
	return nil
}

func (m *InMemory) Transcribe(_ context.Context, artifact audio.Artifact) (string, error) {
	if len(artifact.Data) == 0 {
		return "", &APIError{Op: "transcribe", Status: 400, Message: "No audio file provided"}
	}
	m.mu.Lock()
	fn := m.transcript
	m.mu.Unlock()
	return fn(artifact)
}

func (m *InMemory) ReportSecurityEvent(_ context.Context, sessionID string, event domain.SecurityEvent) error {
	if event.Category == "" {
		return &APIError{Op: "report-security-event", Status: 400, Message: "event_type is required"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	s.events = append(s.events, event)
	return nil
}

func (m *InMemory) CompleteInterview(_ context.Context, c Completion) (domain.Session, error) {
	if err := Validate(c); err != nil {
		return domain.Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(c.SessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if s.rec.Status != "in_progress" {
		return domain.Session{}, &APIError{Op: "complete-interview", Status: 400, Message: ErrNotInProgress.Error()}
	}
	s.rec.Status = string(c.Status)
	comp := c
	s.completion = &comp
	return s.view(), nil
}

// Answers returns what was submitted for a session, keyed by question id.
func (m *InMemory) Answers(sessionID string) map[string]AnswerSubmission {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make(map[string]AnswerSubmission, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

// Completion returns the stored completion payload, if any.
func (m *InMemory) Completion(sessionID string) (Completion, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.completion == nil {
		return Completion{}, false
	}
	return *s.completion, true
}

var questionBank = map[string][]string{
	"technical": {
		"Explain the difference between synchronous and asynchronous programming.",
		"How would you optimize a slow database query?",
		"Describe the SOLID principles in software development.",
		"What is the difference between REST and GraphQL?",
		"How do you handle errors in your applications?",
		"Explain the concept of microservices architecture.",
		"What are design patterns? Give examples.",
		"How do you ensure code quality in your projects?",
	},
	"communication": {
		"Tell me about a challenging project you worked on.",
		"How do you handle conflicts in a team?",
		"Describe your approach to learning new technologies.",
		"How do you explain technical concepts to non-technical stakeholders?",
		"Tell me about a time you had to meet a tight deadline.",
		"How do you prioritize tasks when everything seems urgent?",
	},
	"behavioral": {
		"Tell me about a time you showed leadership.",
		"Describe a situation where you had to learn something quickly.",
		"How do you handle stress and pressure?",
		"Tell me about a mistake you made and how you handled it.",
		"Describe a time you worked with a difficult team member.",
		"How do you stay motivated during challenging projects?",
	},
}
