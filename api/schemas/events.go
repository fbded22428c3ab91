package schemas

import "time"

// ActionEvent is one action-completed notification from a live session's
// event bus. Engines post one event per executed action; recorders and log
// followers consume them. The kind-specific fields mirror RecordedAction.
type ActionEvent struct {
	ID        string     `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	Kind      ActionKind `json:"kind"`

	// Node is the element the action acted on, nil for element-less kinds.
	Node *NodeHandle `json:"node,omitempty"`

	URL    string `json:"url,omitempty"`
	NewTab bool   `json:"new_tab,omitempty"`

	Text        string `json:"text,omitempty"`
	IsSensitive bool   `json:"is_sensitive,omitempty"`
	Clear       bool   `json:"clear,omitempty"`

	Direction string `json:"direction,omitempty"`
	Amount    int    `json:"amount,omitempty"`

	Keys string `json:"keys,omitempty"`

	// Seconds is the requested wait; MaxSeconds is the engine's advertised
	// clamp for it. Recorders persist min(Seconds, MaxSeconds).
	Seconds    float64 `json:"seconds,omitempty"`
	MaxSeconds float64 `json:"max_seconds,omitempty"`

	FilePath string `json:"file_path,omitempty"`
	Option   string `json:"option,omitempty"`
}

// WaitSeconds returns the wait duration to persist for a wait event,
// clamping the request to the engine's advertised maximum when one is set.
func (e *ActionEvent) WaitSeconds() float64 {
	if e.MaxSeconds > 0 && e.Seconds > e.MaxSeconds {
		return e.MaxSeconds
	}
	return e.Seconds
}
