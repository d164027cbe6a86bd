// Package backend defines the portal operations an interview attempt consumes
// and provides an HTTP client and an in-memory implementation of them.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/proctor/internal/audio"
	"github.com/ent0n29/proctor/internal/domain"
	"github.com/ent0n29/proctor/internal/reliability"
)

var (
	ErrNotFound      = errors.New("interview session not found")
	ErrNotInProgress = errors.New("interview is not in progress")
	ErrNoQuestions   = errors.New("backend returned no questions")
)

// Validity is the answer to validate-session.
type Validity struct {
	Valid            bool   `json:"valid"`
	Reason           string `json:"reason,omitempty"`
	RemainingSeconds int    `json:"remaining_time"`
	Status           string `json:"status,omitempty"`
}

type GenerateRequest struct {
	SessionID        string            `json:"session_id" validate:"required"`
	RemainingSeconds int               `json:"remaining_time" validate:"gt=0"`
	InterviewType    string            `json:"interview_type"`
	Difficulty       domain.Difficulty `json:"difficulty_level" validate:"omitempty,oneof=easy medium hard"`
	Count            int               `json:"question_count" validate:"gte=0"`
}

type AnswerSubmission struct {
	SessionID        string `json:"-" validate:"required"`
	QuestionID       string `json:"question_id" validate:"required"`
	Answer           string `json:"answer_text" validate:"notblank"`
	TimeSpentSeconds int    `json:"time_taken" validate:"gte=0"`
	AudioRef         string `json:"audio_ref,omitempty"`
	AutoSubmitted    bool   `json:"auto_submitted,omitempty"`
}

// Completion is the payload of complete-interview.
type Completion struct {
	SessionID      string                  `json:"-" validate:"required"`
	Status         domain.Status           `json:"status" validate:"oneof=completed terminated"`
	Reason         string                  `json:"termination_reason,omitempty"`
	ElapsedSeconds int                     `json:"actual_duration" validate:"gte=0"`
	Responses      []domain.Response       `json:"responses"`
	Violations     []domain.SecurityEvent  `json:"security_events"`
	Counters       map[domain.Category]int `json:"violation_counts"`
	CompletedAt    time.Time               `json:"completed_at"`
}

// Backend is the portal collaborator. Implementations must be safe for
// concurrent use.
type Backend interface {
	ValidateSession(ctx context.Context, sessionID string) (Validity, error)
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	GenerateQuestions(ctx context.Context, req GenerateRequest) ([]domain.Question, error)
	SubmitAnswer(ctx context.Context, sub AnswerSubmission) error
	Transcribe(ctx context.Context, artifact audio.Artifact) (string, error)
	ReportSecurityEvent(ctx context.Context, sessionID string, event domain.SecurityEvent) error
	CompleteInterview(ctx context.Context, c Completion) (domain.Session, error)
}

// APIError is a non-2xx answer from the portal.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
}

func (e *APIError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.Status)
}
