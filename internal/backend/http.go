package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/proctor/internal/audio"
	"github.com/ent0n29/proctor/internal/domain"
	"github.com/ent0n29/proctor/internal/reliability"
)

const maxErrorBody = 4 << 10

type HTTPConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Attempts bounds retries of idempotent reads.
	Attempts int
}

// HTTPClient talks to the portal REST API.
type HTTPClient struct {
	baseURL  string
	token    string
	attempts int
	client   *http.Client
}

func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("backend base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	return &HTTPClient{
		baseURL:  base,
		token:    cfg.Token,
		attempts: cfg.Attempts,
		client:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func sessionPath(sessionID, action string) string {
	p := "/api/interviews/" + url.PathEscape(sessionID) + "/"
	if action != "" {
		p += action + "/"
	}
	return p
}

func (c *HTTPClient) ValidateSession(ctx context.Context, sessionID string) (Validity, error) {
	var out Validity
	err := c.retry(ctx, func(ctx context.Context) error {
		return c.doJSON(ctx, "validate-session", http.MethodGet, sessionPath(sessionID, "validate"), nil, &out)
	})
	return out, err
}

// flexID accepts both numeric and string identifiers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type questionDTO struct {
	ID         flexID            `json:"id"`
	Text       string            `json:"question_text"`
	Difficulty domain.Difficulty `json:"difficulty_level"`
	Order      int               `json:"question_order"`
	TimeLimit  int               `json:"time_limit"`
	Category   string            `json:"category"`
}

func (d questionDTO) toDomain() domain.Question {
	return domain.Question{
		ID:               string(d.ID),
		Prompt:           d.Text,
		Difficulty:       d.Difficulty,
		Position:         d.Order,
		TimeLimitSeconds: d.TimeLimit,
		Category:         d.Category,
	}
}

type sessionDTO struct {
	ID              flexID            `json:"id"`
	InterviewType   string            `json:"interview_type"`
	Difficulty      domain.Difficulty `json:"difficulty_level"`
	DurationMinutes int               `json:"duration_minutes"`
	Status          string            `json:"status"`
	Reason          string            `json:"termination_reason"`
}

func (d sessionDTO) toDomain(fallbackID string) domain.Session {
	id := string(d.ID)
	if id == "" {
		id = fallbackID
	}
	s := domain.Session{
		ID:                id,
		InterviewType:     d.InterviewType,
		Difficulty:        d.Difficulty,
		TotalSeconds:      d.DurationMinutes * 60,
		TerminationReason: d.Reason,
		Status:            domain.StatusActive,
	}
	switch d.Status {
	case "completed":
		s.Status = domain.StatusCompleted
		s.Phase = domain.PhaseComplete
	case "terminated", "cancelled":
		s.Status = domain.StatusTerminated
		s.Phase = domain.PhaseTerminated
	}
	return s
}

func (c *HTTPClient) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	var dto sessionDTO
	err := c.retry(ctx, func(ctx context.Context) error {
		return c.doJSON(ctx, "get-session", http.MethodGet, sessionPath(sessionID, ""), nil, &dto)
	})
	if err != nil {
		return domain.Session{}, err
	}
	return dto.toDomain(sessionID), nil
}

func (c *HTTPClient) GenerateQuestions(ctx context.Context, req GenerateRequest) ([]domain.Question, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	var out struct {
		Questions []questionDTO `json:"questions"`
	}
	// Generation is idempotent on the portal: existing questions are returned.
	err := c.retry(ctx, func(ctx context.Context) error {
		return c.doJSON(ctx, "generate-questions", http.MethodPost, "/api/interviews/generate_dynamic_questions/", req, &out)
	})
	if err != nil {
		return nil, err
	}
	qs := make([]domain.Question, 0, len(out.Questions))
	for _, q := range out.Questions {
		qs = append(qs, q.toDomain())
	}
	if err := ValidateQuestions(qs); err != nil {
		return nil, fmt.Errorf("generate-questions: %w", err)
	}
	return qs, nil
}

func (c *HTTPClient) SubmitAnswer(ctx context.Context, sub AnswerSubmission) error {
	if err := Validate(sub); err != nil {
		return err
	}
	return c.doJSON(ctx, "submit-answer", http.MethodPost, sessionPath(sub.SessionID, "submit_answer"), sub, nil)
}

func (c *HTTPClient) Transcribe(ctx context.Context, artifact audio.Artifact) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", artifact.ID+".wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(artifact.Data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/interviews/transcribe_audio/", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		Text string `json:"text"`
	}
	if err := c.do(req, "transcribe", &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

func (c *HTTPClient) ReportSecurityEvent(ctx context.Context, sessionID string, event domain.SecurityEvent) error {
	payload := map[string]any{
		"event_type": event.Category,
		"event_data": map[string]any{
			"detail":    event.Detail,
			"timestamp": event.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	}
	return c.doJSON(ctx, "report-security-event", http.MethodPost, sessionPath(sessionID, "security_event"), payload, nil)
}

func (c *HTTPClient) CompleteInterview(ctx context.Context, comp Completion) (domain.Session, error) {
	if err := Validate(comp); err != nil {
		return domain.Session{}, err
	}
	var dto sessionDTO
	if err := c.doJSON(ctx, "complete-interview", http.MethodPost, sessionPath(comp.SessionID, "complete_interview"), comp, &dto); err != nil {
		return domain.Session{}, err
	}
	s := dto.toDomain(comp.SessionID)
	if dto.Status == "" {
		s.Status = comp.Status
	}
	if s.TerminationReason == "" {
		s.TerminationReason = comp.Reason
	}
	return s, nil
}

func (c *HTTPClient) retry(ctx context.Context, fn func(context.Context) error) error {
	return reliability.Do(ctx, c.attempts, 200*time.Millisecond, 2*time.Second, fn)
}

func (c *HTTPClient) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, op, out)
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *HTTPClient) do(req *http.Request, op string, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Op: op, Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// errorMessage extracts the portal's {"error": "..."} message when present.
func errorMessage(raw []byte) string {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Detail != "" {
			return body.Detail
		}
	}
	return strings.TrimSpace(string(raw))
}
