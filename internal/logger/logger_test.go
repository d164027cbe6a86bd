package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestInitParsesLevelAndFallsBack(t *testing.T) {
	Init("debug", "json", "discard")
	if got := Get().GetLevel(); got != logrus.DebugLevel {
		t.Fatalf("level = %v, want debug", got)
	}
	if _, ok := Get().Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("formatter = %T, want *logrus.JSONFormatter", Get().Formatter)
	}

	Init("nonsense", "", "discard")
	if got := Get().GetLevel(); got != logrus.InfoLevel {
		t.Fatalf("fallback level = %v, want info", got)
	}
	if _, ok := Get().Formatter.(*logrus.TextFormatter); !ok {
		t.Fatalf("fallback formatter = %T, want *logrus.TextFormatter", Get().Formatter)
	}
}

func TestWithFieldsUsesGlobalLogger(t *testing.T) {
	Init("warn", "text", "discard")
	entry := WithFields(logrus.Fields{"attempt_id": "a-1", "session_id": "s-1"})
	if entry.Logger != Get() {
		t.Fatalf("entry logger is not the global logger")
	}
	if entry.Data["attempt_id"] != "a-1" || entry.Data["session_id"] != "s-1" {
		t.Fatalf("entry fields = %+v", entry.Data)
	}
}
