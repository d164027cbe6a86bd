package domain

import "time"

// Category identifies a kind of integrity violation.
type Category string

const (
	CategoryTabSwitch  Category = "tab_switch"
	CategoryWindowBlur Category = "window_blur"
	CategoryCopy       Category = "copy_attempt"
	CategoryPaste      Category = "paste_attempt"
	CategoryRightClick Category = "right_click"
	CategoryDevtools   Category = "devtools_attempt"
)

// Categories lists every category in reporting order.
var Categories = []Category{
	CategoryTabSwitch,
	CategoryWindowBlur,
	CategoryCopy,
	CategoryPaste,
	CategoryRightClick,
	CategoryDevtools,
}

// SecurityEvent is one entry of the append-only violation log.
type SecurityEvent struct {
	Category  Category  `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}
