package replay

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/reprise/api/schemas"
)

// Strategy names, reported alongside every successful match.
const (
	StrategyID          = "id"
	StrategyCSS         = "css_selector"
	StrategyStableHash  = "stable_hash"
	StrategyXPath       = "xpath"
	StrategyAttributes  = "attributes"
	StrategyCoordinates = "coordinates"
)

// Matcher re-identifies a recorded element on the live page by cascading
// through signals from most to least reliable. A strategy that errors is
// skipped, not fatal; only a failure of the session itself aborts the
// cascade.
type Matcher struct {
	session schemas.LiveSession
	logger  *zap.Logger
}

func NewMatcher(session schemas.LiveSession, logger *zap.Logger) *Matcher {
	return &Matcher{
		session: session,
		logger:  logger.Named("matcher"),
	}
}

// Locate runs the strategy cascade and returns the first live node any
// strategy produces, together with the strategy's name. ErrNoMatch means the
// whole cascade came up empty.
func (m *Matcher) Locate(ctx context.Context, fp *schemas.ElementFingerprint) (*schemas.NodeHandle, string, error) {
	if fp.IsEmpty() {
		return nil, "", ErrNoFingerprint
	}

	strategies := []struct {
		name string
		fn   func(context.Context, *schemas.ElementFingerprint) (*schemas.NodeHandle, error)
	}{
		{StrategyID, m.byID},
		{StrategyCSS, m.byCSSSelector},
		{StrategyStableHash, m.byStableHash},
		{StrategyXPath, m.byXPath},
		{StrategyAttributes, m.byAttributes},
		{StrategyCoordinates, m.byCoordinates},
	}

	for _, strategy := range strategies {
		node, err := strategy.fn(ctx, fp)
		if err != nil {
			if schemas.IsSessionError(err) {
				return nil, "", err
			}
			// A single strategy failing is routine; log and fall through.
			m.logger.Debug("Match strategy failed, trying next.",
				zap.String("strategy", strategy.name), zap.Error(err))
			continue
		}
		if node != nil {
			m.logger.Debug("Element matched.",
				zap.String("strategy", strategy.name),
				zap.String("tag", node.Tag))
			return node, strategy.name, nil
		}
	}

	return nil, "", ErrNoMatch
}

// byID looks the recorded id attribute up in the addressable-node index.
func (m *Matcher) byID(ctx context.Context, fp *schemas.ElementFingerprint) (*schemas.NodeHandle, error) {
	if fp.ID == "" {
		return nil, nil
	}
	return m.session.NodeByID(ctx, fp.ID)
}

// byCSSSelector evaluates the recorded selector against the live document
// and resolves the hit to its backend identity.
func (m *Matcher) byCSSSelector(ctx context.Context, fp *schemas.ElementFingerprint) (*schemas.NodeHandle, error) {
	if fp.CSSSelector == "" {
		return nil, nil
	}

	root, err := m.session.DocumentRoot(ctx)
	if err != nil {
		return nil, err
	}
	id, err := m.session.QuerySelector(ctx, root, fp.CSSSelector)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, nil
	}
	return m.resolveHandle(ctx, id, fp)
}

// byStableHash scans the addressable nodes for one whose structural hash
// matches the recorded value. Survives selector churn as long as tag, id and
// the stable attributes are intact.
func (m *Matcher) byStableHash(ctx context.Context, fp *schemas.ElementFingerprint) (*schemas.NodeHandle, error) {
	if fp.StableHash == 0 {
		return nil, nil
	}

	nodes, err := m.session.AddressableNodes(ctx)
	if err != nil {
		return nil, err
	}
	for _, index := range documentOrder(nodes) {
		node := nodes[index]
		if m.session.StableHash(node) == fp.StableHash {
			return node, nil
		}
	}
	return nil, nil
}

// byXPath runs the recorded XPath as a remote document search.
func (m *Matcher) byXPath(ctx context.Context, fp *schemas.ElementFingerprint) (*schemas.NodeHandle, error) {
	if fp.XPath == "" {
		return nil, nil
	}

	search, err := m.session.PerformSearch(ctx, fp.XPath)
	if err != nil {
		return nil, err
	}
	// Discard even when paging fails; leaked searches pin nodes engine-side.
	defer func() {
		if err := m.session.DiscardSearch(ctx, search); err != nil {
			m.logger.Debug("Failed to discard search.", zap.Error(err))
		}
	}()

	if search.Count < 1 {
		return nil, nil
	}
	ids, err := m.session.SearchResults(ctx, search, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 || ids[0] == 0 {
		return nil, nil
	}
	return m.resolveHandle(ctx, ids[0], fp)
}

// byAttributes scans the addressable nodes for secondary-signal agreement,
// checking the stronger signals before the weaker ones.
func (m *Matcher) byAttributes(ctx context.Context, fp *schemas.ElementFingerprint) (*schemas.NodeHandle, error) {
	nodes, err := m.session.AddressableNodes(ctx)
	if err != nil {
		return nil, err
	}

	checks := []func(n *schemas.NodeHandle) bool{
		func(n *schemas.NodeHandle) bool {
			return fp.DataTestID != "" && n.Attr("data-testid") == fp.DataTestID
		},
		func(n *schemas.NodeHandle) bool {
			return fp.AriaLabel != "" && n.Attr("aria-label") == fp.AriaLabel
		},
		func(n *schemas.NodeHandle) bool {
			return fp.Name != "" && n.Attr("name") == fp.Name && sameTag(n, fp)
		},
		func(n *schemas.NodeHandle) bool {
			return fp.Placeholder != "" && n.Attr("placeholder") == fp.Placeholder
		},
		func(n *schemas.NodeHandle) bool {
			return fp.Href != "" && n.Tag == "a" && n.Attr("href") == fp.Href
		},
		func(n *schemas.NodeHandle) bool {
			return fp.TextContent != "" && sameTag(n, fp) &&
				strings.Contains(strings.ToLower(n.AccessibleName()), strings.ToLower(fp.TextContent))
		},
	}

	indices := documentOrder(nodes)
	for _, check := range checks {
		for _, index := range indices {
			if node := nodes[index]; check(node) {
				return node, nil
			}
		}
	}
	return nil, nil
}

// documentOrder returns the addressable indices sorted ascending. Scans that
// can satisfy more than one node must walk them in document order so repeated
// matching against an unchanged page resolves the same element every time.
func documentOrder(nodes map[int]*schemas.NodeHandle) []int {
	indices := make([]int, 0, len(nodes))
	for index := range nodes {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	return indices
}

// byCoordinates is the last resort: whatever now renders at the recorded
// center point, accepted only when its tag agrees with the recording.
func (m *Matcher) byCoordinates(ctx context.Context, fp *schemas.ElementFingerprint) (*schemas.NodeHandle, error) {
	if !fp.HasBox() {
		return nil, nil
	}

	x, y := fp.Center()
	node, err := m.session.NodeAtPoint(ctx, x, y)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, nil
	}
	if !sameTag(node, fp) {
		m.logger.Debug("Coordinate hit rejected: tag mismatch.",
			zap.String("recorded", fp.TagName), zap.String("found", node.Tag))
		return nil, nil
	}
	return node, nil
}

// resolveHandle turns a snapshot-scoped node id into a dispatchable handle,
// preferring the richer entry from the addressable index when one exists.
func (m *Matcher) resolveHandle(ctx context.Context, id schemas.NodeID, fp *schemas.ElementFingerprint) (*schemas.NodeHandle, error) {
	backendID, err := m.session.ResolveBackendID(ctx, id)
	if err != nil {
		return nil, err
	}
	if backendID == 0 {
		return nil, fmt.Errorf("node %d resolved to a zero backend id", id)
	}

	nodes, err := m.session.AddressableNodes(ctx)
	if err != nil {
		return nil, err
	}
	for _, node := range nodes {
		if node.BackendID == backendID {
			return node, nil
		}
	}

	// Not in the addressable index (e.g. matched a non-interactive wrapper);
	// a minimal handle is still dispatchable.
	return &schemas.NodeHandle{
		BackendID: backendID,
		Tag:       fp.TagName,
	}, nil
}

func sameTag(n *schemas.NodeHandle, fp *schemas.ElementFingerprint) bool {
	if fp.TagName == "" || n.Tag == "" {
		return true
	}
	return strings.EqualFold(n.Tag, fp.TagName)
}
