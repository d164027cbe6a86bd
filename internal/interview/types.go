package interview

import (
	"time"

	"github.com/ent0n29/proctor/internal/avatar"
	"github.com/ent0n29/proctor/internal/domain"
	"github.com/ent0n29/proctor/internal/media"
	"github.com/ent0n29/proctor/internal/recorder"
	"github.com/ent0n29/proctor/internal/voice"
)

// VideoPolicy decides whether a missing camera blocks the interview.
type VideoPolicy string

const (
	VideoOptional VideoPolicy = "optional"
	VideoRequired VideoPolicy = "required"
)

type NoticeLevel string

const (
	NoticeInfo     NoticeLevel = "info"
	NoticeWarning  NoticeLevel = "warning"
	NoticeCritical NoticeLevel = "critical"
)

// Notice is a user-facing message. Critical notices cannot be dismissed.
type Notice struct {
	Level       NoticeLevel `json:"level"`
	Code        string      `json:"code"`
	Message     string      `json:"message"`
	Dismissible bool        `json:"dismissible"`
}

// Snapshot is the presentation view of an attempt.
type Snapshot struct {
	AttemptID     string                          `json:"attempt_id"`
	Session       domain.Session                  `json:"session"`
	Phase         domain.Phase                    `json:"phase"`
	QuestionIndex int                             `json:"question_index"`
	QuestionCount int                             `json:"question_count"`
	Question      *domain.Question                `json:"question,omitempty"`
	QuestionLimit int                             `json:"question_limit_seconds"`
	QuestionLeft  int                             `json:"question_remaining_seconds"`
	SessionLeft   int                             `json:"session_remaining_seconds"`
	Draft         string                          `json:"draft"`
	Submitting    bool                            `json:"submitting"`
	Recorder      recorder.State                  `json:"recorder"`
	Avatar        avatar.State                    `json:"avatar"`
	Permissions   map[media.Kind]media.Permission `json:"permissions"`
	Violations    map[domain.Category]int         `json:"violations"`
	AnsweredCount int                             `json:"answered_count"`
	Warnings      []string                        `json:"warnings,omitempty"`
	Finished      bool                            `json:"finished"`
}

// Outcome reports how an attempt ended.
type Outcome struct {
	AttemptID      string                 `json:"attempt_id"`
	Phase          domain.Phase           `json:"phase"`
	Session        domain.Session         `json:"session"`
	Reason         string                 `json:"reason,omitempty"`
	Responses      []domain.Response      `json:"responses"`
	Violations     []domain.SecurityEvent `json:"violations"`
	ElapsedSeconds int                    `json:"elapsed_seconds"`
	// Completed is true once the backend acknowledged completion.
	Completed  bool   `json:"completed"`
	Error      string `json:"error,omitempty"`
	Retryable  bool   `json:"retryable"`
	FollowUpID string `json:"follow_up_id,omitempty"`
	Err        error  `json:"-"`
}

// Listener receives presentation updates. Methods may be called from several
// goroutines and must not block.
type Listener interface {
	StateChanged(Snapshot)
	Notice(Notice)
	AvatarAudio(voice.TTSEvent)
	Finished(Outcome)
}

// Observer receives operational measurements.
// Implementations must be safe for concurrent use.
type Observer interface {
	PhaseChanged(from, to domain.Phase)
	Violation(category domain.Category)
	Submission(result string, latency time.Duration)
	Transcription(latency time.Duration, err error)
	Finalized(status domain.Status, latency time.Duration, err error)
}

type nopListener struct{}

func (nopListener) StateChanged(Snapshot)      {}
func (nopListener) Notice(Notice)              {}
func (nopListener) AvatarAudio(voice.TTSEvent) {}
func (nopListener) Finished(Outcome)           {}

type nopObserver struct{}

func (nopObserver) PhaseChanged(domain.Phase, domain.Phase)       {}
func (nopObserver) Violation(domain.Category)                     {}
func (nopObserver) Submission(string, time.Duration)              {}
func (nopObserver) Transcription(time.Duration, error)            {}
func (nopObserver) Finalized(domain.Status, time.Duration, error) {}
