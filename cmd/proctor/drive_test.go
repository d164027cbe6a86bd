package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/proctor/internal/backend"
	"github.com/ent0n29/proctor/internal/config"
	"github.com/ent0n29/proctor/internal/domain"
	"github.com/ent0n29/proctor/internal/httpapi"
	"github.com/ent0n29/proctor/internal/registry"
	"github.com/ent0n29/proctor/internal/voice"
)

func newDriveServer(t *testing.T) (*httptest.Server, *backend.InMemory) {
	t.Helper()
	mem := backend.NewInMemory(nil)
	mem.Seed(backend.SessionRecord{ID: "s-1", ScheduledAt: time.Now().Add(-time.Minute), Duration: 30 * time.Minute})

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	reg := registry.New(registry.Config{})
	srv := httpapi.New(httpapi.Deps{
		Config:   config.Config{BackendMode: "memory", VoiceProvider: "mock"},
		Registry: reg,
		Backend:  mem,
		TTS:      voice.NewMockProvider(),
		Log:      logrus.NewEntry(logger),
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return ts, mem
}

func TestDriveAnswersEveryQuestion(t *testing.T) {
	ts, mem := newDriveServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	report, err := drive(ctx, driveOptions{
		baseURL:     ts.URL,
		sessionID:   "s-1",
		chunkMS:     40,
		realtime:    4,
		stepTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("drive() error = %v", err)
	}
	if report.Phase != domain.PhaseComplete || !report.Completed {
		t.Fatalf("outcome = %s completed=%t, want complete and completed", report.Phase, report.Completed)
	}
	if report.Questions < 3 || report.Answered != report.Questions {
		t.Fatalf("answered %d of %d questions", report.Answered, report.Questions)
	}
	if len(report.SubmitLatency) != report.Answered {
		t.Fatalf("submit latencies = %d, want %d", len(report.SubmitLatency), report.Answered)
	}
	if got := len(mem.Answers("s-1")); got != report.Questions {
		t.Fatalf("stored answers = %d, want %d", got, report.Questions)
	}
}

func TestDriveSpeaksAndExitsEarly(t *testing.T) {
	ts, mem := newDriveServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var out bytes.Buffer
	report, err := drive(ctx, driveOptions{
		baseURL:     ts.URL,
		sessionID:   "s-1",
		speak:       true,
		exitAfter:   1,
		chunkMS:     40,
		realtime:    8,
		stepTimeout: 10 * time.Second,
		out:         &out,
	})
	if err != nil {
		t.Fatalf("drive() error = %v\n%s", err, out.String())
	}
	if report.Phase != domain.PhaseTerminated {
		t.Fatalf("outcome phase = %s, want terminated", report.Phase)
	}
	if report.Answered != 1 || len(report.SpeechLatency) != 1 {
		t.Fatalf("answered = %d speech = %d, want 1 and 1", report.Answered, len(report.SpeechLatency))
	}
	if _, ok := mem.Completion("s-1"); !ok {
		t.Fatalf("terminated attempt was not reported to the backend")
	}
}

func TestDriveRejectsUnknownSession(t *testing.T) {
	ts, _ := newDriveServer(t)

	_, err := drive(context.Background(), driveOptions{
		baseURL:     ts.URL,
		sessionID:   "missing",
		chunkMS:     40,
		realtime:    1,
		stepTimeout: 2 * time.Second,
	})
	if err == nil || !strings.Contains(err.Error(), "create attempt") {
		t.Fatalf("drive() error = %v, want create attempt failure", err)
	}
}

func TestNormalizeDriveOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    driveOptions
		wantErr bool
	}{
		{name: "defaults", opts: driveOptions{baseURL: "http://x/", sessionID: "s", chunkMS: 40, realtime: 1}},
		{name: "missing base", opts: driveOptions{sessionID: "s", chunkMS: 40, realtime: 1}, wantErr: true},
		{name: "missing session", opts: driveOptions{baseURL: "http://x", chunkMS: 40, realtime: 1}, wantErr: true},
		{name: "tiny chunk", opts: driveOptions{baseURL: "http://x", sessionID: "s", chunkMS: 5, realtime: 1}, wantErr: true},
		{name: "zero realtime", opts: driveOptions{baseURL: "http://x", sessionID: "s", chunkMS: 40}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			err := normalizeDriveOptions(&opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeDriveOptions() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if opts.baseURL != "http://x" {
				t.Fatalf("baseURL = %q, want trailing slash trimmed", opts.baseURL)
			}
			if len(opts.answers) != len(defaultAnswers) || opts.stepTimeout != time.Second || opts.out == nil {
				t.Fatalf("defaults not applied: %+v", opts)
			}
		})
	}
}

func TestWSURLFor(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{base: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080/v1/attempts/ws?attempt_id=a-1"},
		{base: "https://proctor.example.com/api", want: "wss://proctor.example.com/api/v1/attempts/ws?attempt_id=a-1"},
		{base: "ftp://host", wantErr: true},
		{base: "http://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := wsURLFor(tt.base, "/v1/attempts/ws?attempt_id=a-1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("wsURLFor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("wsURLFor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToneChunks(t *testing.T) {
	chunks := toneChunks(100*time.Millisecond, 40, 16000)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 1280 || len(chunks[2]) != 640 {
		t.Fatalf("chunk sizes = %d/%d, want 1280/640", len(chunks[0]), len(chunks[2]))
	}
	var peak int16
	for i := 0; i+1 < len(chunks[0]); i += 2 {
		if v := int16(binary.LittleEndian.Uint16(chunks[0][i:])); v > peak {
			peak = v
		}
	}
	if peak < 7000 {
		t.Fatalf("peak = %d, want an audible tone", peak)
	}
}
