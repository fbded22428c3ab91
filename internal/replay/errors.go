// Package replay re-executes recorded sessions: it re-identifies each
// action's target element on the live page and dispatches the action through
// the session engine.
package replay

import "errors"

var (
	// ErrNoMatch means every matching strategy was exhausted without
	// re-identifying the recorded element.
	ErrNoMatch = errors.New("no element matched the recorded fingerprint")

	// ErrNoFingerprint means an element-requiring action was recorded without
	// any usable fingerprint signal.
	ErrNoFingerprint = errors.New("recorded action carries no element fingerprint")

	// ErrNoSubstitute means a sensitive value was redacted at recording time
	// and no substitute was supplied for replay.
	ErrNoSubstitute = errors.New("no substitute value supplied for sensitive input")
)
