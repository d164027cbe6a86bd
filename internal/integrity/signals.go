package integrity

import (
	"context"
	"strings"
	"time"

	"github.com/ent0n29/proctor/internal/domain"
)

// SignalKind names a raw client observation before classification.
type SignalKind string

const (
	SignalVisibilityHidden SignalKind = "visibility_hidden"
	SignalWindowBlur       SignalKind = "window_blur"
	SignalCopy             SignalKind = "copy"
	SignalPaste            SignalKind = "paste"
	SignalContextMenu      SignalKind = "context_menu"
	SignalKeyDown          SignalKind = "keydown"
)

type Signal struct {
	Kind   SignalKind
	Key    string
	Ctrl   bool
	Shift  bool
	Meta   bool
	At     time.Time
	Detail string
}

// SignalSource delivers client signals between Start and Stop. Stop must
// unsubscribe every listener and close the channel returned by Start.
type SignalSource interface {
	Start(ctx context.Context) (<-chan Signal, error)
	Stop()
}

// Classify maps a raw signal to a violation category. Signals that are not
// violations, such as ordinary typing, report false.
func Classify(sig Signal) (domain.Category, bool) {
	switch sig.Kind {
	case SignalVisibilityHidden:
		return domain.CategoryTabSwitch, true
	case SignalWindowBlur:
		return domain.CategoryWindowBlur, true
	case SignalCopy:
		return domain.CategoryCopy, true
	case SignalPaste:
		return domain.CategoryPaste, true
	case SignalContextMenu:
		return domain.CategoryRightClick, true
	case SignalKeyDown:
		return classifyKey(sig)
	}
	return "", false
}

func classifyKey(sig Signal) (domain.Category, bool) {
	key := strings.ToUpper(strings.TrimSpace(sig.Key))
	if key == "F12" {
		return domain.CategoryDevtools, true
	}
	mod := sig.Ctrl || sig.Meta
	if !mod {
		return "", false
	}
	if sig.Shift {
		switch key {
		case "I", "J", "C":
			return domain.CategoryDevtools, true
		}
	}
	switch key {
	case "U":
		return domain.CategoryDevtools, true
	case "C":
		return domain.CategoryCopy, true
	case "V":
		return domain.CategoryPaste, true
	}
	return "", false
}

func describe(sig Signal) string {
	if sig.Detail != "" {
		return sig.Detail
	}
	if sig.Kind != SignalKeyDown {
		return string(sig.Kind)
	}
	var parts []string
	if sig.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if sig.Meta {
		parts = append(parts, "Cmd")
	}
	if sig.Shift {
		parts = append(parts, "Shift")
	}
	parts = append(parts, strings.ToUpper(sig.Key))
	return "key " + strings.Join(parts, "+")
}
