package schemas

import "time"

// RedactedText is the marker persisted in place of sensitive text. The real
// value must be supplied through the replay options at execution time.
const RedactedText = "[SENSITIVE]"

// ActionKind identifies one kind of recorded browser action.
type ActionKind string

const (
	ActionNavigate       ActionKind = "navigate"
	ActionClick          ActionKind = "click"
	ActionTypeText       ActionKind = "type"
	ActionScroll         ActionKind = "scroll"
	ActionSendKeys       ActionKind = "send_keys"
	ActionGoBack         ActionKind = "go_back"
	ActionGoForward      ActionKind = "go_forward"
	ActionRefresh        ActionKind = "refresh"
	ActionWait           ActionKind = "wait"
	ActionUploadFile     ActionKind = "upload_file"
	ActionSelectDropdown ActionKind = "select_dropdown"
)

// AllActionKinds lists every recordable action kind, in declaration order.
// Recorders subscribe to each of these.
var AllActionKinds = []ActionKind{
	ActionNavigate,
	ActionClick,
	ActionTypeText,
	ActionScroll,
	ActionSendKeys,
	ActionGoBack,
	ActionGoForward,
	ActionRefresh,
	ActionWait,
	ActionUploadFile,
	ActionSelectDropdown,
}

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionNavigate, ActionClick, ActionTypeText, ActionScroll,
		ActionSendKeys, ActionGoBack, ActionGoForward, ActionRefresh,
		ActionWait, ActionUploadFile, ActionSelectDropdown:
		return true
	}
	return false
}

// RequiresElement reports whether an action of this kind cannot be dispatched
// without a resolved target element. Scroll is deliberately absent: a scroll
// whose element cannot be re-identified degrades to a viewport scroll.
func (k ActionKind) RequiresElement() bool {
	switch k {
	case ActionClick, ActionTypeText, ActionUploadFile, ActionSelectDropdown:
		return true
	}
	return false
}

// -- Element Fingerprint --

// ElementFingerprint is the durable, multi-signal identity of one DOM element
// captured at recording time. Any subset of signals may be populated; an
// empty fingerprint is valid only for actions that target no element.
type ElementFingerprint struct {
	// Primary signals, derived by the automation engine.
	CSSSelector   string `json:"css_selector,omitempty"`
	XPath         string `json:"xpath,omitempty"`
	StableHash    uint64 `json:"stable_hash,omitempty"`
	BackendNodeID int64  `json:"backend_node_id,omitempty"`

	// Secondary attributes.
	ID          string `json:"id,omitempty"`
	DataTestID  string `json:"data_testid,omitempty"`
	AriaLabel   string `json:"aria_label,omitempty"`
	Name        string `json:"name,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Href        string `json:"href,omitempty"`
	Role        string `json:"role,omitempty"`

	// Structural data.
	TagName     string   `json:"tag_name,omitempty"`
	TextContent string   `json:"text_content,omitempty"`
	Classes     []string `json:"classes,omitempty"`

	// Geometric fallback: absolute bounding box at capture time. Pointers so
	// an absent box is distinguishable from one at the origin.
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`

	// RecordedIndex is the element's index in the engine's selector map at
	// capture time. Debug metadata only, never trusted for matching.
	RecordedIndex *int `json:"recorded_index,omitempty"`
}

// IsEmpty reports whether no identification signal at all was captured.
func (f *ElementFingerprint) IsEmpty() bool {
	if f == nil {
		return true
	}
	return f.CSSSelector == "" && f.XPath == "" && f.StableHash == 0 &&
		f.ID == "" && f.DataTestID == "" && f.AriaLabel == "" &&
		f.Name == "" && f.Placeholder == "" && f.Href == "" &&
		f.TagName == "" && f.TextContent == "" && f.X == nil
}

// HasBox reports whether a bounding box was captured.
func (f *ElementFingerprint) HasBox() bool {
	return f != nil && f.X != nil && f.Y != nil
}

// Center returns the capture-time center point of the element's bounding box.
// Missing width/height count as zero, so a point capture still yields itself.
func (f *ElementFingerprint) Center() (x, y float64) {
	if !f.HasBox() {
		return 0, 0
	}
	x = *f.X
	y = *f.Y
	if f.Width != nil {
		x += *f.Width / 2
	}
	if f.Height != nil {
		y += *f.Height / 2
	}
	return x, y
}

// -- Recorded Action & Session --

// RecordedAction is one executed browser action together with everything
// needed to re-execute it: the kind, an optional target fingerprint, and the
// kind-specific parameters.
type RecordedAction struct {
	Type       ActionKind          `json:"action_type"`
	Timestamp  time.Time           `json:"timestamp"`
	StepNumber int                 `json:"step_number"`
	Element    *ElementFingerprint `json:"element"`

	URL             string  `json:"url,omitempty"`
	Text            string  `json:"text,omitempty"`
	IsSensitive     bool    `json:"is_sensitive"`
	ClearBeforeType bool    `json:"clear_before_type"`
	Direction       string  `json:"direction,omitempty"`
	ScrollAmount    int     `json:"scroll_amount,omitempty"`
	Keys            string  `json:"keys,omitempty"`
	WaitSeconds     float64 `json:"wait_seconds,omitempty"`
	FilePath        string  `json:"file_path,omitempty"`
	DropdownOption  string  `json:"dropdown_option,omitempty"`
	NewTab          bool    `json:"new_tab"`
}

// RecordedSession is the persisted unit: an ordered action log plus the
// metadata needed to replay it against a fresh page load. Once persisted it
// is read-only; concurrent replays may share one loaded instance.
type RecordedSession struct {
	SessionID     string           `json:"session_id"`
	Task          string           `json:"task"`
	InitialURL    string           `json:"initial_url"`
	RecordedAt    time.Time        `json:"recorded_at"`
	EngineVersion string           `json:"engine_version"`
	Actions       []RecordedAction `json:"actions"`
}

// -- Replay Result --

// RunState tracks the lifecycle of one replay run.
type RunState string

const (
	RunNotStarted   RunState = "not_started"
	RunRunning      RunState = "running"
	RunCompleted    RunState = "completed"
	RunStoppedEarly RunState = "stopped_early"
)

// ReplayResult summarizes one replay run. Success is true only when every
// action in the session succeeded; partial success always surfaces the exact
// failed steps and their errors.
type ReplayResult struct {
	Success          bool     `json:"success"`
	State            RunState `json:"state"`
	ActionsTotal     int      `json:"actions_total"`
	ActionsSucceeded int      `json:"actions_succeeded"`
	ActionsFailed    int      `json:"actions_failed"`
	FailedSteps      []int    `json:"failed_steps,omitempty"`
	Errors           []string `json:"errors,omitempty"`
	DurationSeconds  float64  `json:"duration_seconds"`
}
