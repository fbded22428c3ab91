// internal/browser/static/engine.go
package static

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/reprise/api/schemas"
	"github.com/xkilldash9x/reprise/internal/browser/bus"
	"github.com/xkilldash9x/reprise/internal/fingerprint"
)

// engineVersion tags recordings captured against the snapshot engine.
const engineVersion = "reprise-snapshot/1.0"

// interactiveTags are element kinds indexed as addressable without further
// evidence of interactivity.
var interactiveTags = map[string]bool{
	"a":        true,
	"button":   true,
	"input":    true,
	"select":   true,
	"textarea": true,
}

// Session is a read-only LiveSession over a parsed HTML document. Queries and
// matching behave exactly as against a live browser; dispatch validates its
// arguments, posts the action event and mutates nothing. Used for offline
// fingerprint inspection, dry-run replays and hermetic tests.
type Session struct {
	id     string
	logger *zap.Logger
	bus    *bus.Bus

	mu        sync.RWMutex
	doc       *html.Node
	nodes     map[int]*schemas.NodeHandle
	idByNode  map[*html.Node]schemas.NodeID
	nodeByNID map[schemas.NodeID]*html.Node
	byBackend map[schemas.BackendID]*schemas.NodeHandle
	searches  map[string][]schemas.NodeID
	rootID    schemas.NodeID
}

var _ schemas.LiveSession = (*Session)(nil)

// New parses the document from r and builds the addressable-node index.
func New(r io.Reader, logger *zap.Logger) (*Session, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	s := &Session{
		id:       uuid.New().String(),
		logger:   logger.Named("snapshot"),
		bus:      bus.New(logger, 16),
		doc:      doc,
		searches: make(map[string][]schemas.NodeID),
	}
	s.rebuild()
	return s, nil
}

// NewFromFile parses the document at path.
func NewFromFile(path string, logger *zap.Logger) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot %s: %w", path, err)
	}
	defer f.Close()
	return New(f, logger)
}

// rebuild walks the document in order, assigning every element a NodeID and
// indexing the interactive ones as addressable. Caller holds no lock; rebuild
// swaps whole maps so concurrent readers keep a consistent old snapshot.
func (s *Session) rebuild() {
	nodes := make(map[int]*schemas.NodeHandle)
	idByNode := make(map[*html.Node]schemas.NodeID)
	nodeByNID := make(map[schemas.NodeID]*html.Node)
	byBackend := make(map[schemas.BackendID]*schemas.NodeHandle)

	var next schemas.NodeID = 1
	var index int

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.DocumentNode || n.Type == html.ElementNode {
			id := next
			next++
			idByNode[n] = id
			nodeByNID[id] = n

			if n.Type == html.ElementNode && isInteractive(n) {
				index++
				attrs := attributeMap(n)
				handle := &schemas.NodeHandle{
					Index:     index,
					BackendID: schemas.BackendID(id),
					Tag:       strings.ToLower(n.Data),
					Attrs:     attrs,
					Text:      collapsedText(n),
					CSS:       cssPath(n),
					XPath:     xpathFor(n),
				}
				nodes[index] = handle
				byBackend[handle.BackendID] = handle
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(s.doc)

	s.mu.Lock()
	s.nodes = nodes
	s.idByNode = idByNode
	s.nodeByNID = nodeByNID
	s.byBackend = byBackend
	s.rootID = idByNode[s.doc]
	s.mu.Unlock()
}

// isInteractive mirrors the CDP engine's addressability filter.
func isInteractive(n *html.Node) bool {
	attrs := attributeMap(n)
	if _, disabled := attrs["disabled"]; disabled {
		return false
	}
	if interactiveTags[strings.ToLower(n.Data)] {
		return true
	}
	if attrs["role"] != "" || attrs["onclick"] != "" {
		return true
	}
	_, hasTabIndex := attrs["tabindex"]
	return hasTabIndex
}

// -- DOMInspector --

func (s *Session) RefreshDOM(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// The document never changes; rebuilding keeps refresh semantics honest
	// (stale handles from a previous snapshot are replaced).
	s.rebuild()
	return nil
}

func (s *Session) AddressableNodes(ctx context.Context) (map[int]*schemas.NodeHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodes, nil
}

func (s *Session) NodeByID(ctx context.Context, id string) (*schemas.NodeHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Scan in document order so a duplicated id always resolves to the same
	// (first) element.
	indices := make([]int, 0, len(s.nodes))
	for index := range s.nodes {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	for _, index := range indices {
		if handle := s.nodes[index]; handle.Attr("id") == id {
			return handle, nil
		}
	}
	return nil, nil
}

func (s *Session) NodeAtPoint(ctx context.Context, x, y float64) (*schemas.NodeHandle, error) {
	// A parsed document has no rendered geometry.
	return nil, schemas.ErrPointLookupUnavailable
}

func (s *Session) StableHash(node *schemas.NodeHandle) uint64 {
	return fingerprint.Hash(node)
}

// -- RemoteQuerier --

func (s *Session) DocumentRoot(ctx context.Context) (schemas.NodeID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rootID, nil
}

func (s *Session) QuerySelector(ctx context.Context, root schemas.NodeID, selector string) (schemas.NodeID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	rootNode, ok := s.nodeByNID[root]
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("unknown root node id %d", root)
	}

	sel := goquery.NewDocumentFromNode(rootNode).Find(selector)
	if sel.Length() == 0 {
		return 0, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idByNode[sel.Get(0)]
	if !ok {
		return 0, nil
	}
	return id, nil
}

func (s *Session) PerformSearch(ctx context.Context, query string) (schemas.SearchHandle, error) {
	if err := ctx.Err(); err != nil {
		return schemas.SearchHandle{}, err
	}

	s.mu.RLock()
	doc := s.doc
	s.mu.RUnlock()

	found, err := htmlquery.QueryAll(doc, query)
	if err != nil {
		return schemas.SearchHandle{}, fmt.Errorf("xpath query failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []schemas.NodeID
	for _, n := range found {
		if id, ok := s.idByNode[n]; ok {
			ids = append(ids, id)
		}
	}

	handle := schemas.SearchHandle{ID: uuid.New().String(), Count: len(ids)}
	s.searches[handle.ID] = ids
	return handle, nil
}

func (s *Session) SearchResults(ctx context.Context, search schemas.SearchHandle, from, to int) ([]schemas.NodeID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, ok := s.searches[search.ID]
	if !ok {
		return nil, fmt.Errorf("unknown search %s", search.ID)
	}
	if from < 0 || to > len(ids) || from >= to {
		return nil, fmt.Errorf("search result range [%d, %d) out of bounds (count %d)", from, to, len(ids))
	}

	out := make([]schemas.NodeID, to-from)
	copy(out, ids[from:to])
	return out, nil
}

func (s *Session) DiscardSearch(ctx context.Context, search schemas.SearchHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.searches, search.ID)
	return nil
}

func (s *Session) ResolveBackendID(ctx context.Context, id schemas.NodeID) (schemas.BackendID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.nodeByNID[id]; !ok {
		return 0, fmt.Errorf("unknown node id %d", id)
	}
	// The snapshot never reloads; node ids double as backend ids.
	return schemas.BackendID(id), nil
}

// -- ActionDispatcher --
//
// Dispatch validates, posts the action event, and leaves the document alone.
// An attached recorder observes exactly the event an executed action would
// have produced.

func (s *Session) Navigate(ctx context.Context, url string, newTab bool) error {
	if url == "" {
		return fmt.Errorf("navigate requires a url")
	}
	return s.post(ctx, schemas.ActionEvent{Kind: schemas.ActionNavigate, URL: url, NewTab: newTab})
}

func (s *Session) Click(ctx context.Context, node *schemas.NodeHandle) error {
	if err := s.requireNode("click", node); err != nil {
		return err
	}
	return s.post(ctx, schemas.ActionEvent{Kind: schemas.ActionClick, Node: node})
}

func (s *Session) TypeText(ctx context.Context, node *schemas.NodeHandle, text string, clear bool) error {
	if err := s.requireNode("type", node); err != nil {
		return err
	}
	return s.post(ctx, schemas.ActionEvent{Kind: schemas.ActionTypeText, Node: node, Text: text, Clear: clear})
}

func (s *Session) Scroll(ctx context.Context, node *schemas.NodeHandle, direction string, amount int) error {
	switch direction {
	case "", "up", "down", "top", "bottom":
	default:
		return fmt.Errorf("invalid scroll direction: %s", direction)
	}
	return s.post(ctx, schemas.ActionEvent{Kind: schemas.ActionScroll, Node: node, Direction: direction, Amount: amount})
}

func (s *Session) SendKeys(ctx context.Context, keys string) error {
	if keys == "" {
		return fmt.Errorf("send_keys requires a key sequence")
	}
	return s.post(ctx, schemas.ActionEvent{Kind: schemas.ActionSendKeys, Keys: keys})
}

func (s *Session) GoBack(ctx context.Context) error {
	return s.post(ctx, schemas.ActionEvent{Kind: schemas.ActionGoBack})
}

func (s *Session) GoForward(ctx context.Context) error {
	return s.post(ctx, schemas.ActionEvent{Kind: schemas.ActionGoForward})
}

func (s *Session) Reload(ctx context.Context) error {
	return s.post(ctx, schemas.ActionEvent{Kind: schemas.ActionRefresh})
}

func (s *Session) Wait(ctx context.Context, seconds float64) error {
	if seconds < 0 {
		return fmt.Errorf("wait duration must be non-negative, got %g", seconds)
	}
	return s.post(ctx, schemas.ActionEvent{Kind: schemas.ActionWait, Seconds: seconds})
}

func (s *Session) UploadFile(ctx context.Context, node *schemas.NodeHandle, path string) error {
	if err := s.requireNode("upload_file", node); err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("upload_file requires a file path")
	}
	return s.post(ctx, schemas.ActionEvent{Kind: schemas.ActionUploadFile, Node: node, FilePath: path})
}

func (s *Session) SelectOption(ctx context.Context, node *schemas.NodeHandle, option string) error {
	if err := s.requireNode("select_dropdown", node); err != nil {
		return err
	}
	if option == "" {
		return fmt.Errorf("select_dropdown requires an option")
	}
	return s.post(ctx, schemas.ActionEvent{Kind: schemas.ActionSelectDropdown, Node: node, Option: option})
}

func (s *Session) requireNode(op string, node *schemas.NodeHandle) error {
	if node == nil {
		return fmt.Errorf("%s requires a target node", op)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.byBackend[node.BackendID]; !ok {
		return fmt.Errorf("%s target (backend id %d) is not addressable", op, node.BackendID)
	}
	return nil
}

func (s *Session) post(ctx context.Context, ev schemas.ActionEvent) error {
	if err := s.bus.Post(ctx, ev); err != nil {
		s.logger.Debug("Failed to post action event.",
			zap.String("kind", string(ev.Kind)), zap.Error(err))
		return err
	}
	return nil
}

// -- EventSource / lifecycle --

func (s *Session) Subscribe(kinds ...schemas.ActionKind) (<-chan schemas.ActionEvent, func()) {
	return s.bus.Subscribe(kinds...)
}

func (s *Session) Version() string { return engineVersion }

func (s *Session) Close(ctx context.Context) error {
	s.bus.Shutdown()
	return nil
}
