package interview

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/proctor/internal/backend"
	"github.com/ent0n29/proctor/internal/domain"
	"github.com/ent0n29/proctor/internal/recorder"
	"github.com/sirupsen/logrus"
)

const reasonTimeUp = "Time is up"

// Submit sends the current draft as the answer to the current question. On
// success the next question starts, or the interview completes after the last
// one. A failed submission keeps the draft and the question timer running.
func (c *Controller) Submit(ctx context.Context) error {
	_, err := c.await(ctx, func() (<-chan opResult, error) {
		if c.session.Phase != domain.PhaseInterview || c.finished {
			return nil, ErrNotInInterview
		}
		if c.submitting {
			return nil, ErrSubmissionInFlight
		}
		if strings.TrimSpace(c.draft) == "" {
			return nil, ErrEmptyAnswer
		}
		pending := make(chan opResult, 1)
		c.beginSubmit(c.draft, false, pending)
		return pending, nil
	})
	return err
}

// beginSubmit starts the backend call for the current question. pending is nil
// for auto-submissions nobody waits on.
func (c *Controller) beginSubmit(answer string, auto bool, pending chan<- opResult) {
	if c.rec.State() == recorder.StateRecording {
		c.rec.Cancel()
	}
	idx := c.current
	resp := c.responses[idx]
	sub := backend.AnswerSubmission{
		SessionID:        c.cfg.SessionID,
		QuestionID:       resp.QuestionID,
		Answer:           answer,
		TimeSpentSeconds: elapsedSeconds(c.questionStarted, c.clock.Now()),
		AudioRef:         resp.AudioRef,
		AutoSubmitted:    auto,
	}
	c.submitting = true
	c.log.WithFields(logrus.Fields{"question_id": sub.QuestionID, "auto": auto}).Debug("submitting answer")

	go func() {
		reqCtx, cancel := context.WithTimeout(c.ctx, c.cfg.RequestTimeout)
		began := time.Now()
		err := c.cfg.Backend.SubmitAnswer(reqCtx, sub)
		cancel()
		c.observer.Submission(submissionResult(auto, err), time.Since(began))
		if !c.post(func() { c.onSubmitted(idx, sub, err, pending) }) && pending != nil {
			pending <- opResult{err: ErrClosed}
		}
	}()
	c.publish()
}

func (c *Controller) onSubmitted(idx int, sub backend.AnswerSubmission, err error, pending chan<- opResult) {
	c.submitting = false
	reply := func(err error) {
		if pending != nil {
			pending <- opResult{err: err}
		}
	}
	if c.finished {
		// Terminated while the request was in flight; the draft was sealed then.
		if err == nil && idx < len(c.responses) {
			c.responses[idx].Synced = true
			c.markCompletionSynced(idx)
		}
		reply(err)
		return
	}

	if err != nil {
		c.log.WithError(err).WithField("question_id", sub.QuestionID).Warn("answer submission failed")
		if sub.AutoSubmitted {
			c.seal(idx, sub.Answer, true, true, false)
			c.listener.Notice(Notice{Level: NoticeWarning, Code: "answer_saved_locally", Message: "Your answer could not be sent and was saved to be delivered with the interview results.", Dismissible: true})
			c.advance()
			reply(err)
			return
		}
		c.listener.Notice(Notice{Level: NoticeWarning, Code: "submit_failed", Message: "Your answer could not be submitted. Please try again.", Dismissible: true})
		switch {
		case c.pendingSessionExpiry:
			c.finalize(domain.StatusCompleted, reasonTimeUp)
		case c.pendingQuestionExpiry:
			c.pendingQuestionExpiry = false
			c.expireQuestion()
		default:
			c.publish()
		}
		reply(fmt.Errorf("submit answer: %w", err))
		return
	}

	c.seal(idx, sub.Answer, sub.AutoSubmitted, true, true)
	c.advance()
	reply(nil)
}

// markCompletionSynced records a late acknowledgement in the completion
// payload so a retried completion and the outcome agree with the backend.
// The slice is replaced, not edited, since earlier copies are still in use.
func (c *Controller) markCompletionSynced(idx int) {
	if idx >= len(c.completion.Responses) || c.completion.Responses[idx].Synced {
		return
	}
	responses := append([]domain.Response(nil), c.completion.Responses...)
	responses[idx].Synced = true
	c.completion.Responses = responses
	if c.outcome != nil {
		c.outcome.Responses = responses
	}
}

func submissionResult(auto bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case auto:
		return "auto"
	}
	return "ok"
}

// seal freezes the response at idx. Sealed responses are never modified again.
func (c *Controller) seal(idx int, answer string, auto, answered, synced bool) {
	r := &c.responses[idx]
	if r.Sealed {
		return
	}
	now := c.clock.Now()
	r.Answer = answer
	r.EndedAt = now
	r.TimeSpentSeconds = elapsedSeconds(r.StartedAt, now)
	r.IsAnswered = answered
	r.AutoSubmitted = auto
	r.Sealed = true
	r.Synced = synced
}

// advance moves past a sealed question.
func (c *Controller) advance() {
	switch {
	case c.pendingSessionExpiry:
		c.finalize(domain.StatusCompleted, reasonTimeUp)
	case c.current+1 < len(c.questions):
		c.startQuestion(c.current + 1)
	default:
		c.finalize(domain.StatusCompleted, "")
	}
}

func (c *Controller) onQuestionExpired(gen uint64) {
	if gen != c.questionGen || c.session.Phase != domain.PhaseInterview || c.finished {
		return
	}
	c.questionTimer = nil
	if c.submitting {
		c.pendingQuestionExpiry = true
		return
	}
	c.expireQuestion()
}

// expireQuestion submits a non-empty draft as-is, or seals the question
// unanswered and moves on.
func (c *Controller) expireQuestion() {
	c.log.WithField("question_id", c.responses[c.current].QuestionID).Info("question time expired")
	if strings.TrimSpace(c.draft) != "" {
		c.beginSubmit(c.draft, true, nil)
		return
	}
	c.seal(c.current, "", false, false, true)
	c.advance()
}

func (c *Controller) onSessionExpired(gen uint64) {
	if gen != c.sessionGen || c.session.Phase != domain.PhaseInterview || c.finished {
		return
	}
	c.sessionTimer = nil
	c.listener.Notice(Notice{Level: NoticeCritical, Code: "time_up", Message: "Time is up. Submitting what you have."})
	if c.submitting {
		c.pendingSessionExpiry = true
		return
	}
	c.finalize(domain.StatusCompleted, reasonTimeUp)
}

