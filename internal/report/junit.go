// Package report renders replay outcomes as JUnit XML so CI systems can
// surface failed steps natively.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/reprise/api/schemas"
)

// Entry is one replayed session with its outcome.
type Entry struct {
	Session *schemas.RecordedSession
	Result  *schemas.ReplayResult
	// Err is a run-level failure (launch error, dead session) that predates
	// or supersedes per-step accounting.
	Err error
}

// WriteJUnit renders the entries as a JUnit testsuites document: one
// testsuite per session, one testcase per recorded action.
func WriteJUnit(w io.Writer, entries []Entry) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	suites := doc.CreateElement("testsuites")
	suites.CreateAttr("name", "reprise replay")

	var totalTests, totalFailures int
	for _, entry := range entries {
		tests, failures := appendSuite(suites, entry)
		totalTests += tests
		totalFailures += failures
	}
	suites.CreateAttr("tests", strconv.Itoa(totalTests))
	suites.CreateAttr("failures", strconv.Itoa(totalFailures))

	doc.Indent(2)
	_, err := doc.WriteTo(w)
	return err
}

func appendSuite(suites *etree.Element, entry Entry) (tests, failures int) {
	session := entry.Session
	result := entry.Result

	suite := suites.CreateElement("testsuite")
	suite.CreateAttr("name", suiteName(session))
	suite.CreateAttr("timestamp", session.RecordedAt.Format("2006-01-02T15:04:05"))

	failedSteps := make(map[int]string)
	if result != nil {
		for i, step := range result.FailedSteps {
			msg := "step failed"
			if i < len(result.Errors) {
				msg = result.Errors[i]
			}
			failedSteps[step] = msg
		}
		suite.CreateAttr("time", fmt.Sprintf("%.3f", result.DurationSeconds))
	}

	for i, action := range session.Actions {
		step := action.StepNumber
		if step <= 0 {
			step = i + 1
		}

		tc := suite.CreateElement("testcase")
		tc.CreateAttr("name", caseName(step, &action))
		tc.CreateAttr("classname", session.SessionID)
		tests++

		if msg, failed := failedSteps[step]; failed {
			failure := tc.CreateElement("failure")
			failure.CreateAttr("message", msg)
			failure.SetText(msg)
			failures++
		} else if entry.Err != nil && result == nil {
			// The run never reached any step.
			errEl := tc.CreateElement("error")
			errEl.CreateAttr("message", entry.Err.Error())
			failures++
		}
	}

	// A run-level failure on a session with recorded per-step results still
	// deserves its own case so the suite is red.
	if entry.Err != nil && result != nil {
		tc := suite.CreateElement("testcase")
		tc.CreateAttr("name", "session")
		tc.CreateAttr("classname", session.SessionID)
		errEl := tc.CreateElement("error")
		errEl.CreateAttr("message", entry.Err.Error())
		tests++
		failures++
	}

	suite.CreateAttr("tests", strconv.Itoa(tests))
	suite.CreateAttr("failures", strconv.Itoa(failures))
	return tests, failures
}

func suiteName(session *schemas.RecordedSession) string {
	if session.Task != "" {
		return session.Task
	}
	return session.SessionID
}

func caseName(step int, action *schemas.RecordedAction) string {
	name := fmt.Sprintf("step %d: %s", step, action.Type)
	switch action.Type {
	case schemas.ActionNavigate:
		name += " " + action.URL
	case schemas.ActionTypeText:
		if action.Element != nil && action.Element.Name != "" {
			name += " into " + action.Element.Name
		}
	case schemas.ActionClick:
		if action.Element != nil && action.Element.TextContent != "" {
			name += " " + action.Element.TextContent
		}
	}
	return name
}
