package domain

import "time"

// Phase is the top-level stage of one interview attempt.
type Phase string

const (
	PhaseWelcome    Phase = "welcome"
	PhaseSetup      Phase = "setup"
	PhaseInterview  Phase = "interview"
	PhaseComplete   Phase = "complete"
	PhaseTerminated Phase = "terminated"
)

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseTerminated
}

type Status string

const (
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusTerminated Status = "terminated"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Session is the controller-owned view of the interview session being attempted.
type Session struct {
	ID                string     `json:"session_id"`
	InterviewType     string     `json:"interview_type"`
	Difficulty        Difficulty `json:"difficulty"`
	TotalSeconds      int        `json:"total_seconds"`
	RemainingSeconds  int        `json:"remaining_seconds"`
	Phase             Phase      `json:"phase"`
	Status            Status     `json:"status"`
	TerminationReason string     `json:"termination_reason,omitempty"`
}

// Question is issued by the backend and never mutated by the controller.
type Question struct {
	ID               string     `json:"id" validate:"required"`
	Prompt           string     `json:"question_text" validate:"required"`
	Difficulty       Difficulty `json:"difficulty_level" validate:"omitempty,oneof=easy medium hard"`
	Position         int        `json:"question_order" validate:"gte=0"`
	TimeLimitSeconds int        `json:"time_limit,omitempty" validate:"gte=0"`
	Category         string     `json:"category,omitempty"`
}

// Response is the answer record for one question. It is created when the
// question starts and sealed on submission or expiry.
type Response struct {
	QuestionID       string    `json:"question_id"`
	Answer           string    `json:"answer_text"`
	AudioRef         string    `json:"audio_ref,omitempty"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at,omitempty"`
	IsAnswered       bool      `json:"is_answered"`
	AutoSubmitted    bool      `json:"auto_submitted,omitempty"`
	Sealed           bool      `json:"sealed"`
	// Synced is false when the answer was sealed locally but the backend never acknowledged it.
	Synced bool `json:"synced"`
}
