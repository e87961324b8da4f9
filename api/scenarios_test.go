/*
scenarios_test.go - Tests for demo scenarios

PURPOSE:
	Loads each scenario against a SQLite in-memory store and checks the
	resulting ledger state through the API:
	- Demo parents are registered once and reused
	- Entries land in the expected statuses
	- Payments, waivers and sweeps are reflected in the summary

These double as integration tests for the SQL store.
*/
package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pta-hub/dues-engine/auth"
	"github.com/pta-hub/dues-engine/generic"
	"github.com/pta-hub/dues-engine/notify"
	"github.com/pta-hub/dues-engine/store/sqldb"
)

func newSQLiteTestAPI(t *testing.T) *testAPI {
	t.Helper()
	db, err := sqldb.New(sqldb.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newTestAPIWith(t, db, db)
}

func summaryByStatus(t *testing.T, a *testAPI, kind generic.Kind) map[generic.Status]SummaryRowDTO {
	t.Helper()
	code, env := a.do("GET", "/api/ledger/summary?kind="+string(kind), a.adminTok, nil)
	require.Equal(t, http.StatusOK, code)
	out := map[generic.Status]SummaryRowDTO{}
	for _, row := range decodeData[[]SummaryRowDTO](t, env) {
		out[row.Status] = row
	}
	return out
}

func loadScenario(t *testing.T, a *testAPI, id string) {
	t.Helper()
	code, env := a.do("POST", "/api/scenarios/load", a.adminTok, map[string]string{"scenarioId": id})
	require.Equal(t, http.StatusOK, code, env.Message, env.Errors)
}

func TestScenarios_ListAndCurrent(t *testing.T) {
	a := newTestAPI(t)

	code, env := a.do("GET", "/api/scenarios", a.parentTok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeData[[]ScenarioDTO](t, env), 3)

	code, env = a.do("GET", "/api/scenarios/current", a.adminTok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "no scenario loaded", env.Message)

	code, _ = a.do("POST", "/api/scenarios/load", a.parentTok, map[string]string{"scenarioId": "term-levies"})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = a.do("POST", "/api/scenarios/load", a.adminTok, map[string]string{"scenarioId": "nope"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.fields(), "scenarioId")

	loadScenario(t, a, "term-levies")
	code, env = a.do("GET", "/api/scenarios/current", a.adminTok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "term-levies", decodeData[ScenarioDTO](t, env).ID)
}

func TestScenario_TermLevies(t *testing.T) {
	// GIVEN: An empty SQLite-backed ledger
	// WHEN: The term-levies scenario is loaded
	// THEN: Levies are paid, partial and pending; term fees are overdue

	a := newSQLiteTestAPI(t)
	loadScenario(t, a, "term-levies")

	rows := summaryByStatus(t, a, generic.KindContribution)
	assert.Equal(t, 1, rows[generic.StatusPaid].Count)
	assert.Equal(t, 1, rows[generic.StatusPartial].Count)
	assert.Equal(t, "90000", rows[generic.StatusPartial].Balance.String())
	assert.Equal(t, 1, rows[generic.StatusPending].Count)
	assert.Equal(t, "120000", rows[generic.StatusPending].Balance.String())
	assert.Equal(t, 3, rows[generic.StatusOverdue].Count)

	code, env := a.do("GET", "/api/contributions/stats", a.adminTok, nil)
	require.Equal(t, http.StatusOK, code)
	stats := decodeData[StatsDTO](t, env)
	assert.Equal(t, 6, stats.TotalCount)
	assert.Equal(t, "210000", stats.TotalPaid.String())
	assert.Equal(t, "360000", stats.TotalBalance.String())
	assert.Equal(t, 3, stats.OverdueCount)

	// A demo parent can log in and sees two entries of their own.
	code, env = a.do("POST", "/api/auth/login", "", map[string]string{"email": "peter.okello@example.org", "password": DemoPassword})
	require.Equal(t, http.StatusOK, code)
	peter := decodeData[AuthResponse](t, env)
	code, env = a.do("GET", "/api/contributions", peter.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, decodeData[PageDTO](t, env).Total)

	// Loading again reuses the demo accounts.
	loadScenario(t, a, "term-levies")
	code, env = a.do("GET", "/api/users?role=PARENT", a.adminTok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeData[[]auth.User](t, env), 5)
}

func TestScenario_MeetingAbsences(t *testing.T) {
	a := newSQLiteTestAPI(t)
	loadScenario(t, a, "meeting-absences")

	rows := summaryByStatus(t, a, generic.KindPenalty)
	assert.Equal(t, 1, rows[generic.StatusPartial].Count)
	assert.Equal(t, "5000", rows[generic.StatusPartial].AmountPaid.String())
	assert.Equal(t, 1, rows[generic.StatusWaived].Count)
	assert.True(t, rows[generic.StatusWaived].Balance.IsZero())
	assert.Equal(t, 1, rows[generic.StatusPending].Count)

	code, env := a.do("GET", "/api/penalties?meetingId=agm-2025", a.adminTok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, decodeData[PageDTO](t, env).Total)

	code, env = a.do("GET", "/api/audit?action=entry_waived", a.adminTok, nil)
	require.Equal(t, http.StatusOK, code)
	audit := decodeData[[]AuditEntryDTO](t, env)
	require.Len(t, audit, 1)
	assert.Equal(t, a.admin.ID, audit[0].ActorID)
}

func TestScenario_OverdueBacklog(t *testing.T) {
	// GIVEN: Three development fund contributions due 60, 30 and 5 days ago
	// WHEN: The scenario loads, paying part of the second and sweeping
	// THEN: The part-paid entry is flagged again and stays PARTIAL

	a := newSQLiteTestAPI(t)
	loadScenario(t, a, "overdue-backlog")

	rows := summaryByStatus(t, a, generic.KindContribution)
	assert.Equal(t, 2, rows[generic.StatusOverdue].Count)
	assert.Equal(t, 1, rows[generic.StatusPartial].Count)

	code, env := a.do("GET", "/api/contributions?overdue=true", a.adminTok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, decodeData[PageDTO](t, env).Total)

	a.dispatcher.Wait()
	assert.Contains(t, a.sender.kinds(), notify.KindOverdueReminder)
}
