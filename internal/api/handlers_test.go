package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/studylog/internal/auth"
	"example.com/studylog/internal/domain"
	"example.com/studylog/internal/events"
	"example.com/studylog/internal/persistence/memory"
	"example.com/studylog/internal/progress"
	"example.com/studylog/internal/realtime"
)

var testAuth = auth.Config{Secret: "test-secret", Issuer: "studylog-test"}

type testEnv struct {
	handler http.Handler
	repo    *memory.Repository
	hub     *realtime.Hub
}

func newTestEnv(t *testing.T, now time.Time, opts ...Option) *testEnv {
	t.Helper()
	repo := memory.NewRepository()
	hub := realtime.NewHub()
	t.Cleanup(hub.Close)
	repo.OnChange(func(eventType string, change events.StudySessionChanged) {
		hub.Publish(realtime.ChangeFromEvent(eventType, change))
	})

	service := domain.NewService(repo, progress.DefaultCatalog(), domain.WithClock(func() time.Time { return now }))
	h := NewHandler(service, append([]Option{WithHub(hub)}, opts...)...)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	mw := auth.NewMiddleware(testAuth, auth.SkipPaths("/healthz"))
	mw.QueryToken = func(r *http.Request) bool { return r.URL.Path == "/v1/reports/stream" }
	return &testEnv{handler: mw.Wrap(mux), repo: repo, hub: hub}
}

func token(t *testing.T, subject string, scopes ...string) string {
	t.Helper()
	if len(scopes) == 0 {
		scopes = []string{auth.ScopeSessionsRead, auth.ScopeSessionsWrite}
	}
	signed, err := auth.Issue(testAuth, subject, scopes, time.Hour)
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), dst), rr.Body.String())
}

func TestCreateSessionIdempotent(t *testing.T) {
	now := time.Date(2024, time.May, 2, 12, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	tok := token(t, "user-1")
	body := map[string]interface{}{
		"language_id":      "ja",
		"activity_id":      "reading",
		"duration_seconds": 1800,
	}

	first := env.do(t, http.MethodPost, "/v1/sessions", tok, body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	var created sessionResponse
	decodeBody(t, first, &created)
	require.Equal(t, "user-1", created.UserID)
	require.Equal(t, "2024-05-02", created.ActivityDate)
	require.Equal(t, "/v1/sessions/"+created.ID, first.Header().Get("Location"))

	replay := env.do(t, http.MethodPost, "/v1/sessions", tok, body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusOK, replay.Code)
	var replayed sessionResponse
	decodeBody(t, replay, &replayed)
	require.Equal(t, created.ID, replayed.ID)
}

func TestCreateSessionValidation(t *testing.T) {
	env := newTestEnv(t, time.Now())
	tok := token(t, "user-1")

	cases := []struct {
		name   string
		body   map[string]interface{}
		status int
		kind   string
	}{
		{name: "zero duration", body: map[string]interface{}{"activity_id": "reading", "duration_seconds": 0}, status: http.StatusBadRequest, kind: "validation_failed"},
		{name: "missing activity", body: map[string]interface{}{"duration_seconds": 60}, status: http.StatusBadRequest, kind: "validation_failed"},
		{name: "bad date", body: map[string]interface{}{"activity_id": "reading", "duration_seconds": 60, "activity_date": "2024-02-30"}, status: http.StatusBadRequest, kind: "validation_failed"},
		{name: "unknown activity", body: map[string]interface{}{"activity_id": "juggling", "duration_seconds": 60}, status: http.StatusBadRequest, kind: "validation_failed"},
		{name: "unknown field", body: map[string]interface{}{"activity_id": "reading", "duration_seconds": 60, "mood": "great"}, status: http.StatusBadRequest, kind: "invalid_request"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/v1/sessions", tok, tc.body)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			var problem map[string]string
			decodeBody(t, rr, &problem)
			require.Equal(t, tc.kind, problem["type"])
		})
	}
}

func TestSessionsRequireAuthAndScope(t *testing.T) {
	env := newTestEnv(t, time.Now())

	rr := env.do(t, http.MethodGet, "/v1/sessions", "", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))

	readOnly := token(t, "user-1", auth.ScopeSessionsRead)
	rr = env.do(t, http.MethodPost, "/v1/sessions", readOnly, map[string]interface{}{"activity_id": "reading", "duration_seconds": 60})
	require.Equal(t, http.StatusForbidden, rr.Code)

	writeOnly := token(t, "user-1", auth.ScopeSessionsWrite)
	rr = env.do(t, http.MethodGet, "/v1/sessions", writeOnly, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, time.Date(2024, time.May, 2, 12, 0, 0, 0, time.UTC))
	owner := token(t, "user-1")
	other := token(t, "user-2")

	rr := env.do(t, http.MethodPost, "/v1/sessions", owner, map[string]interface{}{
		"activity_id": "writing", "duration_seconds": 600, "activity_date": "2024-05-01",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var created sessionResponse
	decodeBody(t, rr, &created)
	path := "/v1/sessions/" + created.ID

	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, path, other, nil).Code)

	rr = env.do(t, http.MethodPatch, path, owner, map[string]interface{}{"duration_seconds": 900, "notes": "essay"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var updated sessionResponse
	decodeBody(t, rr, &updated)
	require.Equal(t, int64(900), updated.DurationSeconds)
	require.Equal(t, "essay", updated.Notes)
	require.Equal(t, "2024-05-01", updated.ActivityDate)

	rr = env.do(t, http.MethodPatch, path, owner, map[string]interface{}{"duration_seconds": 0})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, path, other, nil).Code)
	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, path, owner, nil).Code)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, path, owner, nil).Code)

	rr = env.do(t, http.MethodPut, path, owner, nil)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	require.Equal(t, "GET, PATCH, DELETE", rr.Header().Get("Allow"))
}

func TestListSessionsPaginates(t *testing.T) {
	now := time.Date(2024, time.May, 2, 12, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	tok := token(t, "user-1")

	for i := 0; i < 3; i++ {
		rr := env.do(t, http.MethodPost, "/v1/sessions", tok, map[string]interface{}{
			"language_id": "ja", "activity_id": "reading", "duration_seconds": 60 * (i + 1),
		})
		require.Equal(t, http.StatusCreated, rr.Code)
	}
	rr := env.do(t, http.MethodPost, "/v1/sessions", tok, map[string]interface{}{
		"language_id": "es", "activity_id": "reading", "duration_seconds": 60,
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = env.do(t, http.MethodGet, "/v1/sessions?language_id=ja&limit=2", tok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page listSessionsResponse
	decodeBody(t, rr, &page)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	rr = env.do(t, http.MethodGet, "/v1/sessions?language_id=ja&limit=2&cursor="+page.NextCursor, tok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var rest listSessionsResponse
	decodeBody(t, rr, &rest)
	require.Len(t, rest.Items, 1)
	require.Empty(t, rest.NextCursor)
	require.NotContains(t, []string{page.Items[0].ID, page.Items[1].ID}, rest.Items[0].ID)

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/sessions?limit=101", tok, nil).Code)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/sessions?cursor=%25%25", tok, nil).Code)
}

func TestReportSummary(t *testing.T) {
	now := time.Date(2024, time.May, 2, 20, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	tok := token(t, "user-1")

	for _, body := range []map[string]interface{}{
		{"language_id": "ja", "activity_id": "reading", "duration_seconds": 600, "activity_date": "2024-05-02"},
		{"language_id": "ja", "activity_id": "speaking", "duration_seconds": 1200, "activity_date": "2024-05-02"},
		{"language_id": "ja", "activity_id": "listening", "duration_seconds": 600, "activity_date": "2024-05-01"},
		{"language_id": "es", "activity_id": "writing", "duration_seconds": 3600, "activity_date": "2024-05-02"},
	} {
		require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/v1/sessions", tok, body).Code)
	}

	rr := env.do(t, http.MethodGet, "/v1/reports/summary?language_id=ja", tok, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var report progress.Report
	decodeBody(t, rr, &report)

	require.Equal(t, "ja", report.LanguageID)
	require.Equal(t, progress.TotalTime{Minutes: 40}, report.TotalTime)
	require.Equal(t, 2, report.CurrentStreak)
	require.Equal(t, 900.0, report.AverageSession.TodaySeconds)
	require.Equal(t, 600.0, report.AverageSession.YesterdaySeconds)
	require.InDelta(t, 50.0, *report.AverageSession.ChangePercent, 1e-9)
	require.Equal(t, 50.0, report.Milestone.NextMilestoneHours)
	require.Len(t, report.ByWeek.Labels, progress.WeekWindow)

	rr = env.do(t, http.MethodGet, "/v1/reports/summary?tz=Mars/Olympus", tok, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCatalog(t *testing.T) {
	env := newTestEnv(t, time.Now())
	rr := env.do(t, http.MethodGet, "/v1/catalog", token(t, "user-1"), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Activities []progress.Activity `json:"activities"`
	}
	decodeBody(t, rr, &resp)
	require.Equal(t, progress.DefaultCatalog().Activities(), resp.Activities)
}

func TestProfileLanguagesAndGoals(t *testing.T) {
	now := time.Date(2024, time.May, 2, 12, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	tok := token(t, "user-1")

	rr := env.do(t, http.MethodPut, "/v1/profile", tok, map[string]string{"time_zone": "Asia/Tokyo"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = env.do(t, http.MethodGet, "/v1/profile", tok, nil)
	var profile profileResponse
	decodeBody(t, rr, &profile)
	require.Equal(t, "Asia/Tokyo", profile.TimeZone)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/v1/profile", tok, map[string]string{"time_zone": "Nowhere/Land"}).Code)

	rr = env.do(t, http.MethodPost, "/v1/languages", tok, map[string]string{"code": "ja", "name": "Japanese"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/v1/languages", tok, map[string]string{"code": "JA", "name": "Japanese"}).Code)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/v1/languages", tok, map[string]string{"code": "not a tag", "name": "x"}).Code)
	rr = env.do(t, http.MethodGet, "/v1/languages", tok, nil)
	var languages struct {
		Items []languageResponse `json:"items"`
	}
	decodeBody(t, rr, &languages)
	require.Len(t, languages.Items, 1)
	require.Equal(t, "ja", languages.Items[0].Code)

	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/goals?language_id=ja", tok, nil).Code)
	rr = env.do(t, http.MethodPut, "/v1/goals", tok, map[string]interface{}{"language_id": "ja", "daily_minutes": 20})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/v1/sessions", tok, map[string]interface{}{
		"language_id": "ja", "activity_id": "reading", "duration_seconds": 600,
	}).Code)

	rr = env.do(t, http.MethodGet, "/v1/goals?language_id=ja", tok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var goal goalResponse
	decodeBody(t, rr, &goal)
	require.Equal(t, 20, goal.DailyMinutes)
	require.Equal(t, "2024-05-02", goal.Day)
	require.Equal(t, int64(600), goal.StudiedSeconds)
	require.InDelta(t, 50.0, goal.Percent, 1e-9)
	require.False(t, goal.Met)
}

func TestFollowsShowStreaks(t *testing.T) {
	now := time.Date(2024, time.May, 2, 12, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	alice := token(t, "alice")
	bob := token(t, "bob")

	for _, day := range []string{"2024-05-01", "2024-05-02"} {
		require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/v1/sessions", bob, map[string]interface{}{
			"activity_id": "speaking", "duration_seconds": 300, "activity_date": day,
		}).Code)
	}

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/v1/follows/alice", alice, nil).Code)
	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodPut, "/v1/follows/bob", alice, nil).Code)
	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodPut, "/v1/follows/bob", alice, nil).Code)

	rr := env.do(t, http.MethodGet, "/v1/follows", alice, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Items []followeeResponse `json:"items"`
	}
	decodeBody(t, rr, &resp)
	require.Len(t, resp.Items, 1)
	require.Equal(t, "bob", resp.Items[0].UserID)
	require.Equal(t, 2, resp.Items[0].CurrentStreak)

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/v1/follows/bob", alice, nil).Code)
	rr = env.do(t, http.MethodGet, "/v1/follows", alice, nil)
	decodeBody(t, rr, &resp)
	require.Empty(t, resp.Items)
}

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestReportStreamPushesOnChange(t *testing.T) {
	now := time.Date(2024, time.May, 2, 12, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now, WithHeartbeat(time.Hour))
	srv := httptest.NewServer(env.handler)
	defer srv.Close()
	tok := token(t, "user-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/reports/stream?access_token="+tok, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readEvent(t, reader)
	require.Equal(t, "report", first.name)
	var report progress.Report
	require.NoError(t, json.Unmarshal([]byte(first.data), &report))
	require.Equal(t, progress.TotalTime{}, report.TotalTime)

	require.Eventually(t, func() bool { return env.hub.Subscribers("user-1") == 1 }, time.Second, 10*time.Millisecond)
	rr := env.do(t, http.MethodPost, "/v1/sessions", tok, map[string]interface{}{
		"activity_id": "reading", "duration_seconds": 3600,
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	next := readEvent(t, reader)
	require.Equal(t, "report", next.name)
	require.NoError(t, json.Unmarshal([]byte(next.data), &report))
	require.Equal(t, progress.TotalTime{Hours: 1}, report.TotalTime)
	require.Equal(t, 1, report.CurrentStreak)
}

func TestReportStreamHeartbeat(t *testing.T) {
	env := newTestEnv(t, time.Now(), WithHeartbeat(20*time.Millisecond))
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/reports/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, "user-1"))
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == ": ping\n" {
			return
		}
	}
}

func TestReportStreamUnavailableWithoutHub(t *testing.T) {
	service := domain.NewService(memory.NewRepository(), nil)
	h := NewHandler(service)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/v1/reports/stream", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{
		Subject: "user-1",
		Scopes:  auth.NewScopeSet(auth.ScopeSessionsRead),
	}))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
