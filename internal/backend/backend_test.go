package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/proctor/internal/audio"
	"github.com/ent0n29/proctor/internal/domain"
)

func newTestClient(t *testing.T, h http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, Token: "tok", Timeout: 2 * time.Second, Attempts: 3})
	if err != nil {
		t.Fatalf("NewHTTPClient() error = %v", err)
	}
	return c
}

func TestHTTPValidateSessionRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/interviews/42/validate/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"valid":true,"remaining_time":1800,"status":"scheduled"}`)
	}))

	v, err := c.ValidateSession(context.Background(), "42")
	if err != nil {
		t.Fatalf("ValidateSession() error = %v", err)
	}
	if !v.Valid || v.RemainingSeconds != 1800 {
		t.Fatalf("ValidateSession() = %+v", v)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestHTTPSubmitAnswerSurfacesAPIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["answer_text"] != "use a map" || body["question_id"] != "q1" {
			t.Errorf("body = %v", body)
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"error":"Failed to submit answer. Please try again."}`)
	}))

	err := c.SubmitAnswer(context.Background(), AnswerSubmission{SessionID: "s", QuestionID: "q1", Answer: "use a map", TimeSpentSeconds: 12})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("SubmitAnswer() error = %v, want *APIError", err)
	}
	if !apiErr.Retryable() || apiErr.Message != "Failed to submit answer. Please try again." {
		t.Fatalf("APIError = %+v", apiErr)
	}
}

func TestHTTPSubmitAnswerRejectsBlankLocally(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Errorf("blank answer reached the server")
	}))
	err := c.SubmitAnswer(context.Background(), AnswerSubmission{SessionID: "s", QuestionID: "q1", Answer: "   "})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("SubmitAnswer() error = %v, want *ValidationError", err)
	}
	if _, ok := verr.Fields["answer_text"]; !ok {
		t.Fatalf("fields = %v, want answer_text", verr.Fields)
	}
}

func TestHTTPGenerateQuestionsValidatesPayload(t *testing.T) {
	body := `{"questions":[
		{"id":1,"question_text":"Explain goroutines.","difficulty_level":"easy","question_order":1},
		{"id":"2","question_text":"Design a rate limiter.","difficulty_level":"hard","question_order":2,"time_limit":300}
	]}`
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/interviews/generate_dynamic_questions/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = io.WriteString(w, body)
	}))
	qs, err := c.GenerateQuestions(context.Background(), GenerateRequest{SessionID: "s", RemainingSeconds: 1800})
	if err != nil {
		t.Fatalf("GenerateQuestions() error = %v", err)
	}
	if len(qs) != 2 || qs[0].ID != "1" || qs[1].TimeLimitSeconds != 300 || qs[1].Difficulty != domain.DifficultyHard {
		t.Fatalf("GenerateQuestions() = %+v", qs)
	}

	bad := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"questions":[{"id":1,"question_text":"x","difficulty_level":"extreme"}]}`)
	}))
	if _, err := bad.GenerateQuestions(context.Background(), GenerateRequest{SessionID: "s", RemainingSeconds: 60}); err == nil {
		t.Fatalf("GenerateQuestions() accepted an unknown difficulty")
	}
}

func TestHTTPTranscribeUploadsMultipart(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("FormFile() error = %v", err)
			return
		}
		raw, _ := io.ReadAll(f)
		if !strings.HasPrefix(string(raw), "RIFF") {
			t.Errorf("upload is not a wav file")
		}
		_, _ = io.WriteString(w, `{"text":"a hash map","confidence":0.95}`)
	}))
	art, err := audio.Assemble("art-1", [][]byte{{1, 0, 2, 0}}, 16000)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	text, err := c.Transcribe(context.Background(), art)
	if err != nil || text != "a hash map" {
		t.Fatalf("Transcribe() = %q, %v", text, err)
	}
}

func TestHTTPNotFound(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	if _, err := c.GetSession(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSession() error = %v, want ErrNotFound", err)
	}
}

func TestInMemoryValidationReasons(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m := NewInMemory(func() time.Time { return now })
	m.Seed(SessionRecord{ID: "future", ScheduledAt: now.Add(time.Hour), Duration: time.Hour})
	m.Seed(SessionRecord{ID: "past", ScheduledAt: now.Add(-2 * time.Hour), Duration: time.Hour})
	m.Seed(SessionRecord{ID: "done", ScheduledAt: now, Duration: time.Hour, Status: "completed"})
	m.Seed(SessionRecord{ID: "live", ScheduledAt: now.Add(-10 * time.Minute), Duration: 40 * time.Minute})

	tests := []struct {
		id     string
		valid  bool
		reason string
	}{
		{"future", false, "Interview has not started yet"},
		{"past", false, "Interview session has expired"},
		{"done", false, "Interview is already completed"},
		{"live", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			v, err := m.ValidateSession(context.Background(), tt.id)
			if err != nil {
				t.Fatalf("ValidateSession() error = %v", err)
			}
			if v.Valid != tt.valid || v.Reason != tt.reason {
				t.Fatalf("ValidateSession() = %+v", v)
			}
		})
	}
	v, _ := m.ValidateSession(context.Background(), "live")
	if v.RemainingSeconds != 1800 {
		t.Fatalf("remaining = %d, want 1800", v.RemainingSeconds)
	}
	if _, err := m.ValidateSession(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ValidateSession(unknown) error = %v", err)
	}
}

func TestInMemoryLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m := NewInMemory(func() time.Time { return now })
	m.Seed(SessionRecord{ID: "s1", ScheduledAt: now, Duration: time.Hour, Difficulty: domain.DifficultyEasy})
	ctx := context.Background()

	if err := m.SubmitAnswer(ctx, AnswerSubmission{SessionID: "s1", QuestionID: "s1-q1", Answer: "x"}); err == nil {
		t.Fatalf("SubmitAnswer() before questions should fail")
	}
	qs, err := m.GenerateQuestions(ctx, GenerateRequest{SessionID: "s1", RemainingSeconds: 3600})
	if err != nil {
		t.Fatalf("GenerateQuestions() error = %v", err)
	}
	if len(qs) != 8 {
		t.Fatalf("questions = %d, want 8 for an easy hour", len(qs))
	}
	again, _ := m.GenerateQuestions(ctx, GenerateRequest{SessionID: "s1", RemainingSeconds: 100})
	if len(again) != len(qs) || again[0].ID != qs[0].ID {
		t.Fatalf("GenerateQuestions() is not idempotent")
	}
	if err := ValidateQuestions(qs); err != nil {
		t.Fatalf("generated questions invalid: %v", err)
	}

	if err := m.SubmitAnswer(ctx, AnswerSubmission{SessionID: "s1", QuestionID: qs[0].ID, Answer: "x", TimeSpentSeconds: 5}); err != nil {
		t.Fatalf("SubmitAnswer() error = %v", err)
	}
	if err := m.ReportSecurityEvent(ctx, "s1", domain.SecurityEvent{Category: domain.CategoryTabSwitch, Timestamp: now}); err != nil {
		t.Fatalf("ReportSecurityEvent() error = %v", err)
	}

	final, err := m.CompleteInterview(ctx, Completion{SessionID: "s1", Status: domain.StatusTerminated, Reason: "tabs"})
	if err != nil {
		t.Fatalf("CompleteInterview() error = %v", err)
	}
	if final.Status != domain.StatusTerminated || final.TerminationReason != "tabs" {
		t.Fatalf("final = %+v", final)
	}
	if _, err := m.CompleteInterview(ctx, Completion{SessionID: "s1", Status: domain.StatusCompleted}); err == nil {
		t.Fatalf("second CompleteInterview() should fail")
	}
	v, _ := m.ValidateSession(ctx, "s1")
	if v.Valid || v.Reason != "Interview was terminated due to security violations" {
		t.Fatalf("ValidateSession() after termination = %+v", v)
	}
	if len(m.Answers("s1")) != 1 {
		t.Fatalf("answers = %v", m.Answers("s1"))
	}
}
