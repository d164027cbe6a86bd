package main

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/proctor/internal/audio"
	"github.com/ent0n29/proctor/internal/domain"
	"github.com/ent0n29/proctor/internal/interview"
	"github.com/ent0n29/proctor/internal/protocol"
)

// driveOptions configure a scripted candidate that runs one attempt end to end.
type driveOptions struct {
	baseURL     string
	sessionID   string
	answers     []string
	speak       bool
	grantVideo  bool
	exitAfter   int
	chunkMS     int
	realtime    float64
	stepTimeout time.Duration
	out         io.Writer
}

type driveReport struct {
	AttemptID     string
	Questions     int
	Answered      int
	Phase         domain.Phase
	Completed     bool
	Reason        string
	SubmitLatency []time.Duration
	SpeechLatency []time.Duration
}

var defaultAnswers = []string{
	"I would start with a hash map keyed by id and measure before optimizing.",
	"Keep the interface small and return errors explicitly.",
	"I would add an index and check the query plan.",
}

func newDriveCmd() *cobra.Command {
	opts := driveOptions{}
	var answersRaw string
	cmd := &cobra.Command{
		Use:   "drive <session-id>",
		Short: "Run a scripted candidate against a running server",
		Long: `Create an attempt for the session, grant devices, answer every question
and print the outcome with per-step latencies. Useful as a smoke test of a
deployment; against a real portal it consumes the session.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.sessionID = args[0]
			opts.out = cmd.OutOrStdout()
			if strings.TrimSpace(answersRaw) != "" {
				for _, part := range strings.Split(answersRaw, "|") {
					if a := strings.TrimSpace(part); a != "" {
						opts.answers = append(opts.answers, a)
					}
				}
			}
			report, err := drive(cmd.Context(), opts)
			if err != nil {
				return err
			}
			printReport(opts.out, report)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "proctor base URL")
	cmd.Flags().StringVar(&answersRaw, "answers", "", "answers separated by '|' (optional)")
	cmd.Flags().BoolVar(&opts.speak, "speak", false, "record a synthetic tone before each typed answer")
	cmd.Flags().BoolVar(&opts.grantVideo, "grant-video", false, "grant the camera as well as the microphone")
	cmd.Flags().IntVar(&opts.exitAfter, "exit-after", 0, "exit the interview after this many answers (0 answers all)")
	cmd.Flags().IntVar(&opts.chunkMS, "chunk-ms", 40, "audio chunk size in milliseconds")
	cmd.Flags().Float64Var(&opts.realtime, "realtime", 2.0, "chunk pacing multiplier (1.0=realtime, 2.0=2x)")
	cmd.Flags().DurationVar(&opts.stepTimeout, "step-timeout", 30*time.Second, "timeout for each step")
	return cmd
}

type wsEnvelope struct {
	Type    protocol.MessageType `json:"type"`
	Kind    string               `json:"kind,omitempty"`
	Code    string               `json:"code,omitempty"`
	Source  string               `json:"source,omitempty"`
	Detail  string               `json:"detail,omitempty"`
	Message string               `json:"message,omitempty"`
	State   *interview.Snapshot  `json:"state,omitempty"`
	Outcome *interview.Outcome   `json:"outcome,omitempty"`
}

type createAttemptResponse struct {
	AttemptID string `json:"attempt_id"`
	WSPath    string `json:"ws_path"`
}

type driver struct {
	opts      driveOptions
	attemptID string
	conn      *websocket.Conn
	inbound   chan wsEnvelope
	readErr   chan error
	done      chan struct{}
	state     interview.Snapshot
}

func drive(ctx context.Context, opts driveOptions) (driveReport, error) {
	if err := normalizeDriveOptions(&opts); err != nil {
		return driveReport{}, err
	}

	created, err := createAttempt(ctx, opts)
	if err != nil {
		return driveReport{}, fmt.Errorf("create attempt: %w", err)
	}
	wsURL, err := wsURLFor(opts.baseURL, created.WSPath)
	if err != nil {
		return driveReport{}, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return driveReport{}, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	d := &driver{
		opts:      opts,
		attemptID: created.AttemptID,
		conn:      conn,
		inbound:   make(chan wsEnvelope, 256),
		readErr:   make(chan error, 1),
		done:      make(chan struct{}),
	}
	defer close(d.done)
	go d.readLoop()
	return d.run(ctx)
}

func normalizeDriveOptions(opts *driveOptions) error {
	opts.baseURL = strings.TrimRight(strings.TrimSpace(opts.baseURL), "/")
	if opts.baseURL == "" {
		return errors.New("base-url is required")
	}
	if strings.TrimSpace(opts.sessionID) == "" {
		return errors.New("session id is required")
	}
	if opts.chunkMS < 10 || opts.chunkMS > 2000 {
		return errors.New("chunk-ms must be in [10,2000]")
	}
	if opts.realtime <= 0 {
		return errors.New("realtime must be > 0")
	}
	if opts.stepTimeout < time.Second {
		opts.stepTimeout = time.Second
	}
	if len(opts.answers) == 0 {
		opts.answers = append([]string(nil), defaultAnswers...)
	}
	if opts.out == nil {
		opts.out = io.Discard
	}
	return nil
}

func (d *driver) run(ctx context.Context) (driveReport, error) {
	report := driveReport{AttemptID: d.attemptID}
	isPhase := func(p domain.Phase) func(wsEnvelope) bool {
		return func(env wsEnvelope) bool { return env.State != nil && env.State.Phase == p }
	}

	d.control(protocol.ActionSetup)
	if _, err := d.await(ctx, "setup", isPhase(domain.PhaseSetup)); err != nil {
		return report, err
	}

	d.control(protocol.ActionAcquireMedia)
	if _, err := d.await(ctx, "devices", func(env wsEnvelope) bool {
		return env.State != nil && env.State.Permissions["audio"] == "granted" &&
			(env.State.Permissions["video"] == "granted" || env.State.Permissions["video"] == "denied")
	}); err != nil {
		return report, err
	}

	d.control(protocol.ActionStart)
	if _, err := d.await(ctx, "first question", func(env wsEnvelope) bool {
		return env.State != nil && env.State.Phase == domain.PhaseInterview && env.State.Question != nil
	}); err != nil {
		return report, err
	}
	report.Questions = d.state.QuestionCount
	d.logf("attempt=%s questions=%d", d.attemptID, report.Questions)

	for i := 0; d.state.Phase == domain.PhaseInterview && !d.state.Finished; i++ {
		if d.opts.exitAfter > 0 && report.Answered >= d.opts.exitAfter {
			d.control(protocol.ActionExit)
			break
		}
		idx := d.state.QuestionIndex
		if q := d.state.Question; q != nil {
			d.logf("question %d/%d: %s", idx+1, d.state.QuestionCount, q.Prompt)
		}

		if d.opts.speak {
			took, err := d.speak(ctx)
			if err != nil {
				return report, fmt.Errorf("question %d speech: %w", idx+1, err)
			}
			report.SpeechLatency = append(report.SpeechLatency, took)
		}

		d.send(map[string]any{"type": protocol.TypeClientDraft, "attempt_id": d.attemptID, "text": d.answerFor(i)})
		began := time.Now()
		d.control(protocol.ActionSubmit)
		if _, err := d.await(ctx, "submission", func(env wsEnvelope) bool {
			s := env.State
			return s != nil && !s.Submitting && (s.QuestionIndex > idx || s.Phase != domain.PhaseInterview || s.Finished)
		}); err != nil {
			return report, fmt.Errorf("question %d: %w", idx+1, err)
		}
		report.SubmitLatency = append(report.SubmitLatency, time.Since(began))
		report.Answered++
	}

	env, err := d.await(ctx, "outcome", func(env wsEnvelope) bool {
		return env.Type == protocol.TypeSessionOutcome && env.Outcome != nil
	})
	if err != nil {
		return report, err
	}
	report.Phase = env.Outcome.Phase
	report.Completed = env.Outcome.Completed
	report.Reason = env.Outcome.Reason
	return report, nil
}

// speak records a synthetic tone and waits for its transcription.
func (d *driver) speak(ctx context.Context) (time.Duration, error) {
	d.control(protocol.ActionRecordStart)
	if _, err := d.await(ctx, "recording", func(env wsEnvelope) bool {
		return env.State != nil && env.State.Recorder == "recording"
	}); err != nil {
		return 0, err
	}

	pace := time.Duration(float64(d.opts.chunkMS)/d.opts.realtime) * time.Millisecond
	for seq, chunk := range toneChunks(600*time.Millisecond, d.opts.chunkMS, audio.DefaultSampleRate) {
		d.send(map[string]any{
			"type":         protocol.TypeClientAudioChunk,
			"attempt_id":   d.attemptID,
			"kind":         "audio",
			"seq":          seq,
			"pcm16_base64": base64.StdEncoding.EncodeToString(chunk),
			"sample_rate":  audio.DefaultSampleRate,
			"ts_ms":        time.Now().UnixMilli(),
		})
		time.Sleep(pace)
	}
	// Let the last frames reach the recorder before stopping.
	time.Sleep(pace)

	began := time.Now()
	d.control(protocol.ActionRecordStop)
	if _, err := d.await(ctx, "transcription", func(env wsEnvelope) bool {
		return env.State != nil && env.State.Recorder == "idle" && env.State.Draft != ""
	}); err != nil {
		return 0, err
	}
	return time.Since(began), nil
}

func (d *driver) answerFor(i int) string {
	return d.opts.answers[i%len(d.opts.answers)]
}

func (d *driver) control(action string) {
	d.send(map[string]any{"type": protocol.TypeClientControl, "attempt_id": d.attemptID, "action": action})
}

func (d *driver) send(msg map[string]any) {
	_ = d.conn.SetWriteDeadline(time.Now().Add(d.opts.stepTimeout))
	if err := d.conn.WriteJSON(msg); err != nil {
		d.logf("write %v: %v", msg["type"], err)
	}
}

// await consumes messages until match accepts one. Permission prompts are
// answered on the way; error events fail the step.
func (d *driver) await(ctx context.Context, step string, match func(wsEnvelope) bool) (wsEnvelope, error) {
	timer := time.NewTimer(d.opts.stepTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return wsEnvelope{}, ctx.Err()
		case <-timer.C:
			return wsEnvelope{}, fmt.Errorf("timed out waiting for %s", step)
		case err := <-d.readErr:
			return wsEnvelope{}, fmt.Errorf("waiting for %s: ws read: %w", step, err)
		case env := <-d.inbound:
			switch env.Type {
			case protocol.TypePermissionRequest:
				state := "granted"
				if env.Kind == "video" && !d.opts.grantVideo {
					state = "denied"
				}
				d.send(map[string]any{"type": protocol.TypeClientPermission, "attempt_id": d.attemptID, "kind": env.Kind, "state": state})
			case protocol.TypeErrorEvent:
				return env, fmt.Errorf("waiting for %s: %s from %s: %s", step, env.Code, env.Source, env.Detail)
			case protocol.TypeNotice:
				d.logf("notice %s: %s", env.Code, env.Message)
			case protocol.TypeStateSnapshot:
				if env.State != nil {
					d.state = *env.State
				}
			}
			if match(env) {
				return env, nil
			}
		}
	}
}

func (d *driver) readLoop() {
	for {
		_, data, err := d.conn.ReadMessage()
		if err != nil {
			select {
			case d.readErr <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type == protocol.TypeAvatarAudio {
			continue
		}
		select {
		case d.inbound <- env:
		case <-d.done:
			return
		}
	}
}

func (d *driver) logf(format string, args ...any) {
	fmt.Fprintf(d.opts.out, "drive: "+format+"\n", args...)
}

func createAttempt(ctx context.Context, opts driveOptions) (createAttemptResponse, error) {
	endpoint := opts.baseURL + "/v1/interviews/" + url.PathEscape(opts.sessionID) + "/attempts"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return createAttemptResponse{}, err
	}
	client := &http.Client{Timeout: opts.stepTimeout}
	res, err := client.Do(req)
	if err != nil {
		return createAttemptResponse{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return createAttemptResponse{}, err
	}
	if res.StatusCode != http.StatusCreated {
		return createAttemptResponse{}, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var out createAttemptResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return createAttemptResponse{}, err
	}
	if out.AttemptID == "" || out.WSPath == "" {
		return createAttemptResponse{}, errors.New("missing attempt_id or ws_path in response")
	}
	return out, nil
}

func wsURLFor(baseURL, wsPath string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("base-url host is required")
	}
	ref, err := url.Parse(wsPath)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + ref.Path
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}

// toneChunks renders a 440Hz PCM16LE mono tone split into chunkMS pieces.
func toneChunks(length time.Duration, chunkMS, sampleRate int) [][]byte {
	samples := int(length.Seconds() * float64(sampleRate))
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	step := sampleRate * chunkMS / 1000 * 2
	var out [][]byte
	for start := 0; start < len(pcm); start += step {
		end := start + step
		if end > len(pcm) {
			end = len(pcm)
		}
		out = append(out, pcm[start:end])
	}
	return out
}

func printReport(w io.Writer, r driveReport) {
	fmt.Fprintf(w, "attempt    %s\n", r.AttemptID)
	fmt.Fprintf(w, "outcome    %s (completed=%t)\n", r.Phase, r.Completed)
	if r.Reason != "" {
		fmt.Fprintf(w, "reason     %s\n", r.Reason)
	}
	fmt.Fprintf(w, "answered   %d/%d\n", r.Answered, r.Questions)
	for i, d := range r.SubmitLatency {
		fmt.Fprintf(w, "submit %-3d %s\n", i+1, d.Round(time.Millisecond))
	}
	for i, d := range r.SpeechLatency {
		fmt.Fprintf(w, "speech %-3d %s\n", i+1, d.Round(time.Millisecond))
	}
}
