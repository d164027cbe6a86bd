package interview

import (
	"context"
	"strings"
	"time"

	"github.com/ent0n29/proctor/internal/backend"
	"github.com/ent0n29/proctor/internal/domain"
	"github.com/ent0n29/proctor/internal/followup"
	"github.com/ent0n29/proctor/internal/reliability"
)

// finalize ends the interview exactly once: it tears down every resource,
// seals the current draft and sends the completion to the backend.
func (c *Controller) finalize(status domain.Status, reason string) {
	if c.finished {
		return
	}
	c.finished = true
	c.finalizing = true
	now := c.clock.Now()

	c.teardown()

	if c.current >= 0 && c.current < len(c.responses) && !c.responses[c.current].Sealed {
		answered := strings.TrimSpace(c.draft) != ""
		c.seal(c.current, c.draft, false, answered, !answered)
	}

	if status == domain.StatusTerminated {
		c.setPhase(domain.PhaseTerminated)
	} else {
		c.setPhase(domain.PhaseComplete)
	}
	c.session.Status = status
	c.session.TerminationReason = reason
	c.session.RemainingSeconds = secondsUntil(now, c.sessionDeadline)

	c.completion = backend.Completion{
		SessionID:      c.cfg.SessionID,
		Status:         status,
		Reason:         reason,
		ElapsedSeconds: elapsedSeconds(c.interviewStarted, now),
		Responses:      append([]domain.Response(nil), c.responses...),
		Violations:     c.monitor.Events(),
		Counters:       c.monitor.Counters(),
		CompletedAt:    now.UTC(),
	}

	c.log.WithField("status", status).WithField("reason", reason).Info("finalizing interview")
	switch {
	case status == domain.StatusTerminated:
		c.listener.Notice(Notice{Level: NoticeCritical, Code: "terminated", Message: reason})
	case reason == "":
		c.listener.Notice(Notice{Level: NoticeInfo, Code: "completed", Message: "Interview complete. Thank you!", Dismissible: true})
	}
	c.publish()
	c.sendCompletion(nil)
}

// teardown stops timers and releases every device. Safe to call more than once.
func (c *Controller) teardown() {
	if c.sessionTimer != nil {
		c.sessionTimer.Stop()
		c.sessionTimer = nil
	}
	if c.questionTimer != nil {
		c.questionTimer.Stop()
		c.questionTimer = nil
	}
	c.sessionGen++
	c.questionGen++
	c.pendingQuestionExpiry = false
	c.pendingSessionExpiry = false

	c.monitor.Stop()
	c.rec.Cancel()
	c.avatar.Idle()
	c.media.Release()
}

func (c *Controller) sendCompletion(pending chan<- opResult) {
	payload := c.completion
	attemptID := c.cfg.AttemptID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		defer cancel()
		began := time.Now()
		final, err := c.cfg.Backend.CompleteInterview(ctx, payload)
		c.observer.Finalized(payload.Status, time.Since(began), err)

		var (
			record  followup.Record
			saveErr error
		)
		if err != nil {
			record, saveErr = c.cfg.FollowUps.Save(ctx, followup.Record{
				AttemptID:  attemptID,
				SessionID:  payload.SessionID,
				Completion: payload,
				LastError:  err.Error(),
			})
		}
		if !c.post(func() { c.onCompleted(final, err, record, saveErr, pending) }) && pending != nil {
			pending <- opResult{err: ErrClosed}
		}
	}()
}

func (c *Controller) onCompleted(final domain.Session, err error, record followup.Record, saveErr error, pending chan<- opResult) {
	c.finalizing = false
	first := c.outcome == nil
	status := c.session.Status

	out := Outcome{
		AttemptID:      c.cfg.AttemptID,
		Phase:          c.session.Phase,
		Reason:         c.session.TerminationReason,
		Responses:      c.completion.Responses,
		Violations:     c.completion.Violations,
		ElapsedSeconds: c.completion.ElapsedSeconds,
	}
	if err == nil {
		if final.ID != "" {
			final.Phase = c.session.Phase
			c.session = final
		}
		out.Completed = true
		if !first && c.outcome.FollowUpID != "" {
			c.resolveFollowUp(c.outcome.FollowUpID)
		}
		c.log.Info("interview completion acknowledged")
	} else {
		out.Err = err
		out.Error = err.Error()
		out.Retryable = reliability.IsRetryableError(err)
		if saveErr != nil {
			c.log.WithError(saveErr).Error("could not store completion follow-up")
		} else {
			out.FollowUpID = record.ID
		}
		c.log.WithError(err).WithField("follow_up_id", out.FollowUpID).Error("interview completion failed")
		c.listener.Notice(Notice{Level: NoticeWarning, Code: "completion_failed", Message: "Your interview ended but the results could not be delivered yet. They have been saved and will be retried."})
	}
	out.Session = c.session
	c.outcome = &out

	c.listener.Finished(out)
	c.publish()

	if err == nil && status == domain.StatusCompleted && c.cfg.OnComplete != nil {
		c.cfg.OnComplete(c.session)
	}
	if first {
		if status == domain.StatusTerminated {
			c.callExit()
		}
		c.doneOnce.Do(func() { close(c.done) })
	}
	if pending != nil {
		pending <- opResult{err: err}
	}
}

func (c *Controller) resolveFollowUp(id string) {
	store := c.cfg.FollowUps
	log := c.log.WithField("follow_up_id", id)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		defer cancel()
		if err := store.Resolve(ctx, id); err != nil {
			log.WithError(err).Warn("could not resolve follow-up")
		}
	}()
}

// RetryCompletion resends a completion that the backend did not acknowledge.
func (c *Controller) RetryCompletion(ctx context.Context) error {
	_, err := c.await(ctx, func() (<-chan opResult, error) {
		if c.finalizing {
			return nil, ErrBusy
		}
		if c.outcome == nil || c.outcome.Completed || !c.session.Phase.Terminal() {
			return nil, ErrNothingToRetry
		}
		c.finalizing = true
		pending := make(chan opResult, 1)
		c.sendCompletion(pending)
		return pending, nil
	})
	return err
}

// exitBeforeInterview releases devices and hands control back without
// telling the backend anything: the interview never started.
func (c *Controller) exitBeforeInterview(reason string, cause error) {
	if c.finished {
		return
	}
	c.finished = true
	c.teardown()
	c.log.WithField("reason", reason).Info("left before the interview started")

	out := Outcome{
		AttemptID: c.cfg.AttemptID,
		Phase:     c.session.Phase,
		Session:   c.session,
		Reason:    reason,
		Err:       cause,
	}
	if cause != nil {
		out.Error = cause.Error()
	}
	c.outcome = &out
	c.listener.Finished(out)
	c.publish()
	c.callExit()
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Controller) callExit() {
	if c.exitCalled || c.cfg.OnExit == nil {
		return
	}
	c.exitCalled = true
	c.cfg.OnExit()
}

// close stops the loop. Only a finished controller is closed.
func (c *Controller) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.closed)
	})
}
