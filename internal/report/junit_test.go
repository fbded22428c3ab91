package report_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/reprise/api/schemas"
	"github.com/xkilldash9x/reprise/internal/report"
)

func renderEntries(t *testing.T, entries []report.Entry) *etree.Document {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, report.WriteJUnit(&buf, entries))

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(buf.Bytes()))
	return doc
}

func testSession() *schemas.RecordedSession {
	return &schemas.RecordedSession{
		SessionID:  "sess-1",
		Task:       "log in",
		RecordedAt: time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC),
		Actions: []schemas.RecordedAction{
			{Type: schemas.ActionNavigate, StepNumber: 1, URL: "https://example.com"},
			{Type: schemas.ActionTypeText, StepNumber: 2,
				Element: &schemas.ElementFingerprint{Name: "email"}},
			{Type: schemas.ActionClick, StepNumber: 3,
				Element: &schemas.ElementFingerprint{TextContent: "Sign in"}},
		},
	}
}

func TestWriteJUnit_AllPassing(t *testing.T) {
	entry := report.Entry{
		Session: testSession(),
		Result: &schemas.ReplayResult{
			Success: true, State: schemas.RunCompleted,
			ActionsTotal: 3, ActionsSucceeded: 3,
			DurationSeconds: 1.25,
		},
	}
	doc := renderEntries(t, []report.Entry{entry})

	suites := doc.SelectElement("testsuites")
	require.NotNil(t, suites)
	assert.Equal(t, "reprise replay", suites.SelectAttrValue("name", ""))
	assert.Equal(t, "3", suites.SelectAttrValue("tests", ""))
	assert.Equal(t, "0", suites.SelectAttrValue("failures", ""))

	suite := suites.SelectElement("testsuite")
	require.NotNil(t, suite)
	assert.Equal(t, "log in", suite.SelectAttrValue("name", ""))
	assert.Equal(t, "2026-08-01T12:30:00", suite.SelectAttrValue("timestamp", ""))
	assert.Equal(t, "1.250", suite.SelectAttrValue("time", ""))

	cases := suite.SelectElements("testcase")
	require.Len(t, cases, 3)
	assert.Equal(t, "step 1: navigate https://example.com", cases[0].SelectAttrValue("name", ""))
	assert.Equal(t, "step 2: type into email", cases[1].SelectAttrValue("name", ""))
	assert.Equal(t, "step 3: click Sign in", cases[2].SelectAttrValue("name", ""))
	for _, tc := range cases {
		assert.Equal(t, "sess-1", tc.SelectAttrValue("classname", ""))
		assert.Nil(t, tc.SelectElement("failure"))
		assert.Nil(t, tc.SelectElement("error"))
	}
}

func TestWriteJUnit_FailedStep(t *testing.T) {
	entry := report.Entry{
		Session: testSession(),
		Result: &schemas.ReplayResult{
			State: schemas.RunCompleted,
			ActionsTotal: 3, ActionsSucceeded: 2, ActionsFailed: 1,
			FailedSteps: []int{2},
			Errors:      []string{"Step 2 (type): no element matched the recorded fingerprint"},
		},
	}
	doc := renderEntries(t, []report.Entry{entry})

	suites := doc.SelectElement("testsuites")
	require.NotNil(t, suites)
	assert.Equal(t, "1", suites.SelectAttrValue("failures", ""))

	suite := suites.SelectElement("testsuite")
	require.NotNil(t, suite)
	cases := suite.SelectElements("testcase")
	require.Len(t, cases, 3)

	assert.Nil(t, cases[0].SelectElement("failure"))
	failure := cases[1].SelectElement("failure")
	require.NotNil(t, failure)
	assert.Contains(t, failure.SelectAttrValue("message", ""), "Step 2 (type)")
	assert.Contains(t, failure.Text(), "no element matched")
	assert.Nil(t, cases[2].SelectElement("failure"))
}

func TestWriteJUnit_RunNeverStarted(t *testing.T) {
	entry := report.Entry{
		Session: testSession(),
		Err:     errors.New("failed to launch browser"),
	}
	doc := renderEntries(t, []report.Entry{entry})

	suites := doc.SelectElement("testsuites")
	require.NotNil(t, suites)
	assert.Equal(t, "3", suites.SelectAttrValue("failures", ""))

	for _, tc := range suites.SelectElement("testsuite").SelectElements("testcase") {
		errEl := tc.SelectElement("error")
		require.NotNil(t, errEl)
		assert.Equal(t, "failed to launch browser", errEl.SelectAttrValue("message", ""))
	}
}

func TestWriteJUnit_RunLevelErrorWithPartialResult(t *testing.T) {
	entry := report.Entry{
		Session: testSession(),
		Result: &schemas.ReplayResult{
			State: schemas.RunStoppedEarly,
			ActionsTotal: 3, ActionsSucceeded: 1, ActionsFailed: 1,
			FailedSteps: []int{2},
			Errors:      []string{"Step 2 (type): session failure during type: target closed"},
		},
		Err: errors.New("session failed at step 2"),
	}
	doc := renderEntries(t, []report.Entry{entry})

	suite := doc.SelectElement("testsuites").SelectElement("testsuite")
	require.NotNil(t, suite)
	cases := suite.SelectElements("testcase")
	require.Len(t, cases, 4, "the run-level error gets its own case")

	last := cases[3]
	assert.Equal(t, "session", last.SelectAttrValue("name", ""))
	errEl := last.SelectElement("error")
	require.NotNil(t, errEl)
	assert.Equal(t, "session failed at step 2", errEl.SelectAttrValue("message", ""))

	assert.Equal(t, "2", suite.SelectAttrValue("failures", ""))
	assert.Equal(t, "4", suite.SelectAttrValue("tests", ""))
}

func TestWriteJUnit_SuiteNameFallsBackToSessionID(t *testing.T) {
	session := testSession()
	session.Task = ""
	doc := renderEntries(t, []report.Entry{{Session: session, Result: &schemas.ReplayResult{}}})

	suite := doc.SelectElement("testsuites").SelectElement("testsuite")
	require.NotNil(t, suite)
	assert.Equal(t, "sess-1", suite.SelectAttrValue("name", ""))
}

func TestWriteJUnit_MultipleSessionsAggregate(t *testing.T) {
	good := report.Entry{Session: testSession(), Result: &schemas.ReplayResult{Success: true}}

	bad := report.Entry{
		Session: &schemas.RecordedSession{
			SessionID:  "sess-2",
			RecordedAt: time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC),
			Actions: []schemas.RecordedAction{
				{Type: schemas.ActionGoBack, StepNumber: 1},
			},
		},
		Result: &schemas.ReplayResult{
			FailedSteps: []int{1},
			Errors:      []string{"Step 1 (go_back): boom"},
		},
	}

	doc := renderEntries(t, []report.Entry{good, bad})
	suites := doc.SelectElement("testsuites")
	require.NotNil(t, suites)
	assert.Equal(t, "4", suites.SelectAttrValue("tests", ""))
	assert.Equal(t, "1", suites.SelectAttrValue("failures", ""))
	assert.Len(t, suites.SelectElements("testsuite"), 2)
}
