// internal/browser/cdp/dispatch.go
package cdp

import (
	"context"
	"fmt"
	"strings"
	"time"

	cdpproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reprise/api/schemas"
)

// namedKeys maps the action log's key names onto the raw key strings
// chromedp.KeyEvent understands.
var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
	"home":       kb.Home,
	"end":        kb.End,
}

// selectOptionJS drives a <select> the way a user would: pick the matching
// option and announce the change.
const selectOptionJS = `function(option) {
	for (const o of this.options) {
		if (o.value === option || o.label === option || o.text.trim() === option) {
			this.value = o.value;
			this.dispatchEvent(new Event('input', {bubbles: true}));
			this.dispatchEvent(new Event('change', {bubbles: true}));
			return true;
		}
	}
	return false;
}`

// Navigate loads the URL and waits for the configured quiet window. New-tab
// navigation is replayed in-place: the replay owns a single target.
func (s *Session) Navigate(ctx context.Context, url string, newTab bool) error {
	if url == "" {
		return fmt.Errorf("navigate requires a url")
	}
	s.logger.Debug("Navigating.", zap.String("url", url))

	opCtx, opCancel := CombineContext(s.ctx, ctx)
	defer opCancel()

	navTimeout := s.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 90 * time.Second
	}
	navCtx, navCancel := context.WithTimeout(opCtx, navTimeout)
	defer navCancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation timed out after %s: %w", navTimeout, err)
		}
		return s.wrapErr("navigate", err)
	}

	// Stabilize: give the page its quiet window before anything inspects it.
	quiet := s.cfg.StabilizationWait
	if quiet <= 0 {
		quiet = 1500 * time.Millisecond
	}
	if err := chromedp.Run(opCtx, chromedp.Sleep(quiet)); err != nil {
		s.logger.Warn("Page stabilization interrupted (non-critical).", zap.Error(err))
	}

	s.post(schemas.ActionEvent{Kind: schemas.ActionNavigate, URL: url, NewTab: newTab})
	return nil
}

// Click scrolls the element into view and dispatches a raw mouse press and
// release at its box-model center.
func (s *Session) Click(ctx context.Context, node *schemas.NodeHandle) error {
	if node == nil {
		return fmt.Errorf("click requires a target node")
	}

	backendID := cdpproto.BackendNodeID(node.BackendID)
	var box *schemas.BoundingBox

	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := dom.ScrollIntoViewIfNeeded().WithBackendNodeID(backendID).Do(ctx); err != nil {
			return fmt.Errorf("scroll into view: %w", err)
		}

		model, err := dom.GetBoxModel().WithBackendNodeID(backendID).Do(ctx)
		if err != nil {
			return fmt.Errorf("get box model: %w", err)
		}
		box = boxFromQuad(model.Content)
		x, y := box.Center()

		press := input.DispatchMouseEvent(input.MousePressed, x, y).
			WithButton(input.MouseButton("left")).
			WithClickCount(1)
		release := input.DispatchMouseEvent(input.MouseReleased, x, y).
			WithButton(input.MouseButton("left")).
			WithClickCount(1)

		if err := press.Do(ctx); err != nil {
			return fmt.Errorf("mouse press: %w", err)
		}
		return release.Do(ctx)
	}))
	if err != nil {
		return s.wrapErr("click", err)
	}

	s.post(schemas.ActionEvent{Kind: schemas.ActionClick, Node: withBox(node, box)})
	return nil
}

// TypeText focuses the element and inserts the text through the input
// domain, optionally clearing the current value first.
func (s *Session) TypeText(ctx context.Context, node *schemas.NodeHandle, text string, clear bool) error {
	if node == nil {
		return fmt.Errorf("type requires a target node")
	}

	backendID := cdpproto.BackendNodeID(node.BackendID)
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := dom.Focus().WithBackendNodeID(backendID).Do(ctx); err != nil {
			return fmt.Errorf("focus: %w", err)
		}

		if clear {
			obj, err := dom.ResolveNode().WithBackendNodeID(backendID).Do(ctx)
			if err != nil {
				return fmt.Errorf("resolve node for clear: %w", err)
			}
			clearParams := runtime.CallFunctionOn(`function() {
				this.value = '';
				this.dispatchEvent(new Event('input', {bubbles: true}));
			}`).WithObjectID(obj.ObjectID)
			if _, _, err := clearParams.Do(ctx); err != nil {
				return fmt.Errorf("clear value: %w", err)
			}
		}

		return input.InsertText(text).Do(ctx)
	}))
	if err != nil {
		return s.wrapErr("type", err)
	}

	s.post(schemas.ActionEvent{Kind: schemas.ActionTypeText, Node: node, Text: text, Clear: clear})
	return nil
}

// Scroll wheels over the element's center, or over the viewport when no node
// was resolved. top/bottom jump regardless of amount.
func (s *Session) Scroll(ctx context.Context, node *schemas.NodeHandle, direction string, amount int) error {
	if amount <= 0 {
		amount = 300
	}

	var err error
	switch direction {
	case "top":
		err = s.run(ctx, chromedp.Evaluate(`window.scrollTo({top: 0});`, nil))
	case "bottom":
		err = s.run(ctx, chromedp.Evaluate(`window.scrollTo({top: document.body.scrollHeight});`, nil))
	case "up", "down", "":
		delta := float64(amount)
		if direction == "up" {
			delta = -delta
		}
		if node != nil {
			err = s.wheelAt(ctx, node, delta)
		} else {
			err = s.run(ctx, chromedp.Evaluate(fmt.Sprintf(`window.scrollBy({top: %f});`, delta), nil))
		}
	default:
		return fmt.Errorf("invalid scroll direction: %s (supported: up, down, top, bottom)", direction)
	}
	if err != nil {
		return s.wrapErr("scroll", err)
	}

	s.post(schemas.ActionEvent{Kind: schemas.ActionScroll, Node: node, Direction: direction, Amount: amount})
	return nil
}

func (s *Session) wheelAt(ctx context.Context, node *schemas.NodeHandle, deltaY float64) error {
	backendID := cdpproto.BackendNodeID(node.BackendID)
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		model, err := dom.GetBoxModel().WithBackendNodeID(backendID).Do(ctx)
		if err != nil {
			return fmt.Errorf("get box model: %w", err)
		}
		x, y := boxFromQuad(model.Content).Center()
		return input.DispatchMouseEvent(input.MouseWheel, x, y).
			WithDeltaX(0).
			WithDeltaY(deltaY).
			Do(ctx)
	}))
}

// SendKeys dispatches a key sequence, translating named keys.
func (s *Session) SendKeys(ctx context.Context, keys string) error {
	if keys == "" {
		return fmt.Errorf("send_keys requires a key sequence")
	}

	raw := keys
	if mapped, ok := namedKeys[strings.ToLower(keys)]; ok {
		raw = mapped
	}

	if err := s.run(ctx, chromedp.KeyEvent(raw)); err != nil {
		return s.wrapErr("send keys", err)
	}

	s.post(schemas.ActionEvent{Kind: schemas.ActionSendKeys, Keys: keys})
	return nil
}

func (s *Session) GoBack(ctx context.Context) error {
	if err := s.run(ctx, chromedp.NavigateBack()); err != nil {
		return s.wrapErr("go back", err)
	}
	s.post(schemas.ActionEvent{Kind: schemas.ActionGoBack})
	return nil
}

func (s *Session) GoForward(ctx context.Context) error {
	if err := s.run(ctx, chromedp.NavigateForward()); err != nil {
		return s.wrapErr("go forward", err)
	}
	s.post(schemas.ActionEvent{Kind: schemas.ActionGoForward})
	return nil
}

func (s *Session) Reload(ctx context.Context) error {
	if err := s.run(ctx, chromedp.Reload()); err != nil {
		return s.wrapErr("reload", err)
	}
	s.post(schemas.ActionEvent{Kind: schemas.ActionRefresh})
	return nil
}

// Wait sleeps under the caller's context.
func (s *Session) Wait(ctx context.Context, seconds float64) error {
	if seconds < 0 {
		return fmt.Errorf("wait duration must be non-negative, got %g", seconds)
	}

	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return &schemas.SessionError{Op: "wait", Err: s.ctx.Err()}
	}

	s.post(schemas.ActionEvent{Kind: schemas.ActionWait, Seconds: seconds})
	return nil
}

// UploadFile attaches a local file to a file input.
func (s *Session) UploadFile(ctx context.Context, node *schemas.NodeHandle, path string) error {
	if node == nil {
		return fmt.Errorf("upload_file requires a target node")
	}
	if path == "" {
		return fmt.Errorf("upload_file requires a file path")
	}

	backendID := cdpproto.BackendNodeID(node.BackendID)
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return dom.SetFileInputFiles([]string{path}).WithBackendNodeID(backendID).Do(ctx)
	}))
	if err != nil {
		return s.wrapErr("upload file", err)
	}

	s.post(schemas.ActionEvent{Kind: schemas.ActionUploadFile, Node: node, FilePath: path})
	return nil
}

// SelectOption resolves the select element to a remote object and drives the
// option change through the page's own event machinery.
func (s *Session) SelectOption(ctx context.Context, node *schemas.NodeHandle, option string) error {
	if node == nil {
		return fmt.Errorf("select_dropdown requires a target node")
	}
	if option == "" {
		return fmt.Errorf("select_dropdown requires an option")
	}

	backendID := cdpproto.BackendNodeID(node.BackendID)
	var selected bool
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithBackendNodeID(backendID).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolve node: %w", err)
		}
		return chromedp.CallFunctionOn(selectOptionJS, &selected,
			func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
				return p.WithObjectID(obj.ObjectID)
			}, option).Do(ctx)
	}))
	if err != nil {
		return s.wrapErr("select option", err)
	}
	if !selected {
		return fmt.Errorf("select option: no option matching %q", option)
	}

	s.post(schemas.ActionEvent{Kind: schemas.ActionSelectDropdown, Node: node, Option: option})
	return nil
}

// boxFromQuad converts a CDP content quad into an axis-aligned box.
func boxFromQuad(quad dom.Quad) *schemas.BoundingBox {
	if len(quad) < 8 {
		return &schemas.BoundingBox{}
	}

	minX, maxX := quad[0], quad[0]
	minY, maxY := quad[1], quad[1]
	for i := 2; i+1 < len(quad); i += 2 {
		if quad[i] < minX {
			minX = quad[i]
		}
		if quad[i] > maxX {
			maxX = quad[i]
		}
		if quad[i+1] < minY {
			minY = quad[i+1]
		}
		if quad[i+1] > maxY {
			maxY = quad[i+1]
		}
	}
	return &schemas.BoundingBox{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// withBox returns a copy of the handle enriched with the measured box, so
// the recorder sees the geometry the action actually used.
func withBox(node *schemas.NodeHandle, box *schemas.BoundingBox) *schemas.NodeHandle {
	if box == nil {
		return node
	}
	enriched := *node
	enriched.Box = box
	return &enriched
}
