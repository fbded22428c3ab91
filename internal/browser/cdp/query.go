// internal/browser/cdp/query.go
package cdp

import (
	"context"

	cdpproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/reprise/api/schemas"
)

// DocumentRoot returns the protocol id of the current document root.
func (s *Session) DocumentRoot(ctx context.Context) (schemas.NodeID, error) {
	var root *cdpproto.Node
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		root, err = dom.GetDocument().WithDepth(0).Do(ctx)
		return err
	}))
	if err != nil {
		return 0, s.wrapErr("get document root", err)
	}
	return schemas.NodeID(root.NodeID), nil
}

// QuerySelector evaluates a CSS selector scoped under root. A zero NodeID
// means no match; the protocol reports that as a zero id, not an error.
func (s *Session) QuerySelector(ctx context.Context, root schemas.NodeID, selector string) (schemas.NodeID, error) {
	var found cdpproto.NodeID
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		found, err = dom.QuerySelector(cdpproto.NodeID(root), selector).Do(ctx)
		return err
	}))
	if err != nil {
		return 0, s.wrapErr("query selector", err)
	}
	return schemas.NodeID(found), nil
}

// PerformSearch starts a remote XPath (or text) search over the document.
// The returned handle must be discarded with DiscardSearch.
func (s *Session) PerformSearch(ctx context.Context, query string) (schemas.SearchHandle, error) {
	var searchID string
	var count int64
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		searchID, count, err = dom.PerformSearch(query).
			WithIncludeUserAgentShadowDOM(false).
			Do(ctx)
		return err
	}))
	if err != nil {
		return schemas.SearchHandle{}, s.wrapErr("perform search", err)
	}
	return schemas.SearchHandle{ID: searchID, Count: int(count)}, nil
}

// SearchResults pages results [from, to) out of an open search.
func (s *Session) SearchResults(ctx context.Context, search schemas.SearchHandle, from, to int) ([]schemas.NodeID, error) {
	var found []cdpproto.NodeID
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		found, err = dom.GetSearchResults(search.ID, int64(from), int64(to)).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, s.wrapErr("get search results", err)
	}

	ids := make([]schemas.NodeID, len(found))
	for i, id := range found {
		ids[i] = schemas.NodeID(id)
	}
	return ids, nil
}

// DiscardSearch releases an open search. Safe to call after failures.
func (s *Session) DiscardSearch(ctx context.Context, search schemas.SearchHandle) error {
	if search.ID == "" {
		return nil
	}
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return dom.DiscardSearchResults(search.ID).Do(ctx)
	}))
	return s.wrapErr("discard search", err)
}

// ResolveBackendID maps a snapshot-scoped node id to the engine's stable
// backend identifier.
func (s *Session) ResolveBackendID(ctx context.Context, id schemas.NodeID) (schemas.BackendID, error) {
	var described *cdpproto.Node
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		described, err = dom.DescribeNode().WithNodeID(cdpproto.NodeID(id)).Do(ctx)
		return err
	}))
	if err != nil {
		return 0, s.wrapErr("describe node", err)
	}
	return schemas.BackendID(described.BackendNodeID), nil
}
