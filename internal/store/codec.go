// Package store persists recorded sessions and replay outcomes, to local
// files by default and to Postgres when a shared archive is configured.
package store

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/reprise/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// encodeSession serializes a session, re-redacting sensitive text on the way
// out. Redaction is enforced at the storage boundary in both directions: no
// code path gets to persist or read back a live secret.
func encodeSession(w io.Writer, session *schemas.RecordedSession) error {
	clean := redacted(session)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(clean); err != nil {
		return fmt.Errorf("failed to encode session %s: %w", session.SessionID, err)
	}
	return nil
}

// decodeSession deserializes a session and re-applies redaction, in case the
// file was written by something sloppier than us.
func decodeSession(r io.Reader) (*schemas.RecordedSession, error) {
	var session schemas.RecordedSession
	if err := json.NewDecoder(r).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if session.SessionID == "" {
		return nil, fmt.Errorf("decoded session has no session_id")
	}
	for i := range session.Actions {
		if session.Actions[i].IsSensitive {
			session.Actions[i].Text = schemas.RedactedText
		}
	}
	return &session, nil
}

// redacted returns the session with sensitive text replaced, copying the
// action slice only when something actually needs scrubbing.
func redacted(session *schemas.RecordedSession) *schemas.RecordedSession {
	dirty := false
	for i := range session.Actions {
		if session.Actions[i].IsSensitive && session.Actions[i].Text != schemas.RedactedText {
			dirty = true
			break
		}
	}
	if !dirty {
		return session
	}

	clean := *session
	clean.Actions = make([]schemas.RecordedAction, len(session.Actions))
	copy(clean.Actions, session.Actions)
	for i := range clean.Actions {
		if clean.Actions[i].IsSensitive {
			clean.Actions[i].Text = schemas.RedactedText
		}
	}
	return &clean
}

// summarize reduces a session to its listing row.
func summarize(session *schemas.RecordedSession) schemas.SessionSummary {
	return schemas.SessionSummary{
		SessionID:     session.SessionID,
		Task:          session.Task,
		InitialURL:    session.InitialURL,
		RecordedAt:    session.RecordedAt.UTC().Format("2006-01-02T15:04:05Z"),
		EngineVersion: session.EngineVersion,
		ActionCount:   len(session.Actions),
	}
}
