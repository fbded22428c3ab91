package schemas

import "context"

// -- Live Session Interfaces --

// DOMInspector exposes the engine's addressable-node snapshot. Strategies
// that scan live elements (id, stable hash, attributes) and the replayer's
// forced refresh both go through it.
type DOMInspector interface {
	// RefreshDOM discards any cached snapshot and rebuilds the
	// addressable-node index from the live document.
	RefreshDOM(ctx context.Context) error
	// AddressableNodes returns the current index of interactable elements.
	// The map is a snapshot; callers must not mutate it.
	AddressableNodes(ctx context.Context) (map[int]*NodeHandle, error)
	// NodeByID returns the addressable node whose id attribute equals id,
	// or nil when no such node exists.
	NodeByID(ctx context.Context, id string) (*NodeHandle, error)
	// NodeAtPoint returns the node currently rendered at the given absolute
	// coordinate, or nil. Sessions without geometry return
	// ErrPointLookupUnavailable.
	NodeAtPoint(ctx context.Context, x, y float64) (*NodeHandle, error)
	// StableHash computes the structural hash of a node with the same
	// algorithm used at capture time.
	StableHash(node *NodeHandle) uint64
}

// RemoteQuerier exposes the engine's raw document-query primitives. The
// matcher composes them: document root, then a scoped selector or search
// query, then resolution to the stable backend identifier.
type RemoteQuerier interface {
	// DocumentRoot returns the protocol identifier of the document root.
	DocumentRoot(ctx context.Context) (NodeID, error)
	// QuerySelector evaluates a CSS selector under root. A zero NodeID
	// means no match.
	QuerySelector(ctx context.Context, root NodeID, selector string) (NodeID, error)
	// PerformSearch starts a remote XPath search over the whole document and
	// returns a handle carrying the result count.
	PerformSearch(ctx context.Context, query string) (SearchHandle, error)
	// SearchResults pages results [from, to) out of an open search.
	SearchResults(ctx context.Context, search SearchHandle, from, to int) ([]NodeID, error)
	// DiscardSearch releases an open search. Safe to call after failures.
	DiscardSearch(ctx context.Context, search SearchHandle) error
	// ResolveBackendID maps a snapshot-scoped NodeID to the engine's stable
	// backend identifier.
	ResolveBackendID(ctx context.Context, id NodeID) (BackendID, error)
}

// ActionDispatcher accepts one request per action kind. Element-targeted
// commands take the resolved live node; a nil node on Scroll means the
// viewport.
type ActionDispatcher interface {
	Navigate(ctx context.Context, url string, newTab bool) error
	Click(ctx context.Context, node *NodeHandle) error
	TypeText(ctx context.Context, node *NodeHandle, text string, clear bool) error
	Scroll(ctx context.Context, node *NodeHandle, direction string, amount int) error
	SendKeys(ctx context.Context, keys string) error
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error
	Reload(ctx context.Context) error
	Wait(ctx context.Context, seconds float64) error
	UploadFile(ctx context.Context, node *NodeHandle, path string) error
	SelectOption(ctx context.Context, node *NodeHandle, option string) error
}

// EventSource delivers one ActionEvent per executed action. Subscribe
// returns a receive channel limited to the requested kinds and an
// unsubscribe closure; after unsubscribe the channel is closed.
type EventSource interface {
	Subscribe(kinds ...ActionKind) (<-chan ActionEvent, func())
}

// LiveSession is the full collaborator contract an automation engine
// provides to the recorder, matcher and replayer. One live session is owned
// by at most one Recorder or Replayer at a time.
type LiveSession interface {
	DOMInspector
	RemoteQuerier
	ActionDispatcher
	EventSource

	// Version identifies the underlying engine build, recorded into every
	// session captured against it.
	Version() string
	// Close releases the session. Cleanup failures are logged by callers,
	// never escalated over a completed result.
	Close(ctx context.Context) error
}

// -- Store Interface --

// Archive is a persistent store for recorded sessions and replay outcomes.
// The file store covers the common case; the Postgres archive implements the
// same contract for shared history.
type Archive interface {
	// SaveSession persists a frozen recording, replacing any prior version.
	SaveSession(ctx context.Context, session *RecordedSession) error
	// LoadSession retrieves a recording by id.
	LoadSession(ctx context.Context, sessionID string) (*RecordedSession, error)
	// ListSessions returns summaries of the stored recordings, newest first.
	ListSessions(ctx context.Context) ([]SessionSummary, error)
	// SaveRun records the outcome of one replay of a stored session.
	SaveRun(ctx context.Context, sessionID string, result *ReplayResult) error
}

// SessionSummary is one row of an Archive listing.
type SessionSummary struct {
	SessionID     string `json:"session_id"`
	Task          string `json:"task"`
	InitialURL    string `json:"initial_url"`
	RecordedAt    string `json:"recorded_at"`
	EngineVersion string `json:"engine_version"`
	ActionCount   int    `json:"action_count"`
}
