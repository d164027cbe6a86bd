package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientControl    MessageType = "client_control"
	TypeClientDraft      MessageType = "client_draft"
	TypeClientPermission MessageType = "client_permission"
	TypeClientSignal     MessageType = "client_signal"

	TypeStateSnapshot     MessageType = "state_snapshot"
	TypeAvatarAudio       MessageType = "avatar_audio_chunk"
	TypePermissionRequest MessageType = "permission_request"
	TypeNotice            MessageType = "notice"
	TypeErrorEvent        MessageType = "error_event"
	TypeSessionOutcome    MessageType = "session_outcome"
)

// Control actions accepted in client_control.
const (
	ActionSetup           = "setup"
	ActionBack            = "back"
	ActionAcquireMedia    = "acquire_media"
	ActionStart           = "start"
	ActionSubmit          = "submit"
	ActionRecordStart     = "record_start"
	ActionRecordStop      = "record_stop"
	ActionExit            = "exit"
	ActionRetryCompletion = "retry_completion"
)

var actions = map[string]struct{}{
	ActionSetup:           {},
	ActionBack:            {},
	ActionAcquireMedia:    {},
	ActionStart:           {},
	ActionSubmit:          {},
	ActionRecordStart:     {},
	ActionRecordStop:      {},
	ActionExit:            {},
	ActionRetryCompletion: {},
}

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrUnknownAction   = errors.New("unknown control action")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientAudioChunk carries captured media. Kind defaults to audio.
type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	AttemptID   string      `json:"attempt_id"`
	Kind        string      `json:"kind,omitempty"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	AttemptID string      `json:"attempt_id"`
	Action    string      `json:"action"`
}

type ClientDraft struct {
	Type      MessageType `json:"type"`
	AttemptID string      `json:"attempt_id"`
	Text      string      `json:"text"`
}

// ClientPermission answers a permission_request: state is granted or denied.
type ClientPermission struct {
	Type      MessageType `json:"type"`
	AttemptID string      `json:"attempt_id"`
	Kind      string      `json:"kind"`
	State     string      `json:"state"`
}

// ClientSignal is a raw browser observation: visibility, focus, clipboard,
// context menu or key presses.
type ClientSignal struct {
	Type      MessageType `json:"type"`
	AttemptID string      `json:"attempt_id"`
	Signal    string      `json:"signal"`
	Key       string      `json:"key,omitempty"`
	Ctrl      bool        `json:"ctrl,omitempty"`
	Shift     bool        `json:"shift,omitempty"`
	Meta      bool        `json:"meta,omitempty"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

type StateSnapshot struct {
	Type      MessageType `json:"type"`
	AttemptID string      `json:"attempt_id"`
	State     any         `json:"state"`
}

type AvatarAudioChunk struct {
	Type        MessageType `json:"type"`
	AttemptID   string      `json:"attempt_id"`
	Seq         int         `json:"seq"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
}

type PermissionRequest struct {
	Type      MessageType `json:"type"`
	AttemptID string      `json:"attempt_id"`
	Kind      string      `json:"kind"`
}

type Notice struct {
	Type        MessageType `json:"type"`
	AttemptID   string      `json:"attempt_id"`
	Level       string      `json:"level"`
	Code        string      `json:"code"`
	Message     string      `json:"message"`
	Dismissible bool        `json:"dismissible"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	AttemptID string      `json:"attempt_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

type SessionOutcome struct {
	Type      MessageType `json:"type"`
	AttemptID string      `json:"attempt_id"`
	Outcome   any         `json:"outcome"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.AttemptID == "" || msg.PCM16Base64 == "" {
			return nil, errors.New("invalid client_audio_chunk")
		}
		if msg.Kind == "" {
			msg.Kind = "audio"
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.AttemptID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		if _, ok := actions[msg.Action]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action)
		}
		return msg, nil
	case TypeClientDraft:
		var msg ClientDraft
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.AttemptID == "" {
			return nil, errors.New("invalid client_draft")
		}
		return msg, nil
	case TypeClientPermission:
		var msg ClientPermission
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.AttemptID == "" || msg.Kind == "" || (msg.State != "granted" && msg.State != "denied") {
			return nil, errors.New("invalid client_permission")
		}
		return msg, nil
	case TypeClientSignal:
		var msg ClientSignal
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.AttemptID == "" || msg.Signal == "" {
			return nil, errors.New("invalid client_signal")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
