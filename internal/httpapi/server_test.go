package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"academyportal/internal/attendance"
	"academyportal/internal/authz"
	"academyportal/internal/checkin"
	"academyportal/internal/member"
	"academyportal/internal/schedule"
	"academyportal/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const password = "correct horse"

func ptr(v int64) *int64 { return &v }

type harness struct {
	t        *testing.T
	router   *gin.Engine
	sessions *session.Store
	attRepo  *attendance.MemoryRepository
	svc      *checkin.Service
	now      time.Time
}

// Users: 1 admin without a member profile, 70 instructor (member 7),
// 90 member 9, 100 authenticated but no member profile.
func newHarness(t *testing.T, sessionRepo session.Repository) *harness {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	dir := member.NewMemoryDirectory()
	dir.PutUser(member.User{ID: 1, Email: "admin@academy.test", PasswordHash: string(hash), IsAdmin: true})
	dir.PutUser(member.User{ID: 70, Email: "coach@academy.test", PasswordHash: string(hash)})
	dir.PutUser(member.User{ID: 90, Email: "nine@academy.test", PasswordHash: string(hash)})
	dir.PutUser(member.User{ID: 100, Email: "guest@academy.test", PasswordHash: string(hash)})
	dir.PutMember(member.Member{ID: 7, UserID: 70, FullName: "Coach Seven", Active: true})
	dir.PutMember(member.Member{ID: 9, UserID: 90, FullName: "Member Nine", Active: true})

	catalog := schedule.NewMemoryCatalog(schedule.Schedule{
		ID: 42, AcademyID: 1, InstructorMemberID: ptr(7), ClassName: "Fundamentals", Location: "Mat 1",
		Weekday: time.Tuesday, StartTime: "19:00", EndTime: "21:00", Active: true,
	})

	if sessionRepo == nil {
		sessionRepo = session.NewMemoryRepository()
	}
	h := &harness{t: t, now: time.Date(2025, 3, 11, 18, 55, 0, 0, time.UTC)}
	h.sessions = session.NewStore(sessionRepo, dir, session.DefaultLifetime)
	h.attRepo = attendance.NewMemoryRepository()
	codec := checkin.NewCodec(checkin.DefaultWindow, "", "").WithClock(func() time.Time { return h.now })
	h.svc = checkin.NewService(codec, authz.NewGuard(catalog), attendance.NewRecorder(h.attRepo), nil, "https://portal.test")
	h.router = NewRouter(Deps{
		Sessions:  h.sessions,
		Checkin:   h.svc,
		Directory: dir,
		Cookie:    CookieConfig{Name: "portal_session", Secure: true, MaxAge: session.DefaultLifetime},
		Health: map[string]HealthCheck{
			"db": func(context.Context) bool { return true },
		},
	})
	return h
}

// login returns the session cookie for a user id.
func (h *harness) login(userID int64) *http.Cookie {
	h.t.Helper()
	token, _, err := h.sessions.Create(context.Background(), userID, session.Meta{})
	require.NoError(h.t, err)
	return &http.Cookie{Name: "portal_session", Value: token}
}

func (h *harness) do(method, target string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	h.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, w.Body.String())
	return e["code"].(string)
}

func errMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode(t, w)["error"].(map[string]any)["message"].(string)
}

func tokenURL(scheduleID, date string) string {
	return "/api/attendance/checkin-token?scheduleId=" + scheduleID + "&date=" + date
}

func (h *harness) issue(cookie *http.Cookie, date string) string {
	h.t.Helper()
	w := h.do(http.MethodGet, tokenURL("42", date), nil, cookie)
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
	return decode(h.t, w)["token"].(string)
}

func TestCheckinScenarioOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	coach := h.login(70)
	nine := h.login(90)

	w := h.do(http.MethodGet, tokenURL("42", "2025-03-11"), nil, coach)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	token := body["token"].(string)
	assert.Equal(t, "https://portal.test/checkin?token="+url.QueryEscape(token), body["checkinUrl"])
	info := body["info"].(map[string]any)
	assert.Equal(t, "Mat 1", info["location"])
	assert.Equal(t, "19:00-21:00", info["timeWindow"])
	assert.Equal(t, "Tuesday", info["weekday"])
	assert.Equal(t, "2025-03-11", info["date"])
	assert.NotEmpty(t, body["expiresAt"])

	h.now = h.now.Add(5 * time.Minute)
	w = h.do(http.MethodPost, "/api/attendance/checkin", gin.H{"token": token}, nine)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.NotContains(t, body, "alreadyCheckedIn")
	assert.NotZero(t, body["attendanceId"])
	assert.Equal(t, "Fundamentals", body["info"].(map[string]any)["className"])

	h.now = h.now.Add(time.Minute)
	w = h.do(http.MethodPost, "/api/attendance/checkin", gin.H{"token": token}, nine)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["alreadyCheckedIn"])
	assert.NotEmpty(t, body["message"])
	assert.Equal(t, 1, h.attRepo.Count())
}

func TestIssueTokenErrors(t *testing.T) {
	h := newHarness(t, nil)

	cases := []struct {
		name   string
		target string
		cookie *http.Cookie
		status int
		code   string
	}{
		{"no session", tokenURL("42", "2025-03-11"), nil, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"unknown session", tokenURL("42", "2025-03-11"), &http.Cookie{Name: "portal_session", Value: "nope"}, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"plain member", tokenURL("42", "2025-03-11"), h.login(90), http.StatusForbidden, "FORBIDDEN"},
		{"unknown schedule", tokenURL("999", "2025-03-11"), h.login(1), http.StatusNotFound, "NOT_FOUND"},
		{"bad schedule id", tokenURL("abc", "2025-03-11"), h.login(1), http.StatusBadRequest, "INVALID_INPUT"},
		{"bad date", tokenURL("42", "11-03-2025"), h.login(1), http.StatusBadRequest, "INVALID_INPUT"},
		{"bad date from plain member", tokenURL("42", "11-03-2025"), h.login(90), http.StatusForbidden, "FORBIDDEN"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := h.do(http.MethodGet, tc.target, nil, tc.cookie)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, errCode(t, w))
		})
	}
}

func TestRedeemErrors(t *testing.T) {
	h := newHarness(t, nil)
	admin := h.login(1)
	valid := h.issue(admin, "2025-03-11")
	wednesday := h.issue(admin, "2025-03-12")

	h.now = h.now.Add(-31 * time.Minute)
	expired := h.issue(admin, "2025-03-11")
	h.now = h.now.Add(31 * time.Minute)

	nine := h.login(90)
	cases := []struct {
		name   string
		body   any
		cookie *http.Cookie
		status int
		code   string
	}{
		{"no session", gin.H{"token": valid}, nil, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"no member profile", gin.H{"token": valid}, h.login(100), http.StatusForbidden, "NOT_A_MEMBER"},
		{"missing body", nil, nine, http.StatusBadRequest, "INVALID_INPUT"},
		{"malformed", gin.H{"token": "not-a-token"}, nine, http.StatusBadRequest, "MALFORMED_TOKEN"},
		{"expired", gin.H{"token": expired}, nine, http.StatusBadRequest, "TOKEN_EXPIRED"},
		{"weekday mismatch", gin.H{"token": wednesday}, nine, http.StatusBadRequest, "WEEKDAY_MISMATCH"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := h.do(http.MethodPost, "/api/attendance/checkin", tc.body, tc.cookie)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, tc.code, errCode(t, w))
		})
	}
	assert.Equal(t, 0, h.attRepo.Count(), "no guard failure may write")

	malformed := h.do(http.MethodPost, "/api/attendance/checkin", gin.H{"token": "x"}, nine)
	late := h.do(http.MethodPost, "/api/attendance/checkin", gin.H{"token": expired}, nine)
	assert.NotEqual(t, errMessage(t, malformed), errMessage(t, late))
}

type brokenSessions struct{ *session.MemoryRepository }

func (brokenSessions) FindByTokenHash(context.Context, string) (*session.Record, error) {
	return nil, errors.New("connection refused: 10.1.2.3:5432")
}

func TestStorageFailureIsGeneric500(t *testing.T) {
	h := newHarness(t, brokenSessions{session.NewMemoryRepository()})
	w := h.do(http.MethodGet, tokenURL("42", "2025-03-11"), nil, &http.Cookie{Name: "portal_session", Value: "anything"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errCode(t, w))
	assert.NotContains(t, w.Body.String(), "10.1.2.3")
}

func TestLoginLogout(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(http.MethodPost, "/api/auth/login", gin.H{"email": " Nine@Academy.test ", "password": password}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	user := decode(t, w)["user"].(map[string]any)
	assert.Equal(t, float64(90), user["id"])
	assert.Equal(t, float64(9), user["memberId"])

	res := w.Result()
	defer res.Body.Close()
	require.Len(t, res.Cookies(), 1)
	cookie := res.Cookies()[0]
	assert.Equal(t, "portal_session", cookie.Name)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, 7*24*60*60, cookie.MaxAge)

	w = h.do(http.MethodGet, "/api/auth/me", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nine@academy.test", decode(t, w)["user"].(map[string]any)["email"])

	w = h.do(http.MethodPost, "/api/auth/logout", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	setCookie := w.Header().Get("Set-Cookie")
	assert.True(t, strings.HasPrefix(setCookie, "portal_session=;"), setCookie)
	assert.Contains(t, setCookie, "Max-Age=0")

	w = h.do(http.MethodGet, "/api/auth/me", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Logging out twice is harmless.
	w = h.do(http.MethodPost, "/api/auth/logout", nil, cookie)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	h := newHarness(t, nil)

	for _, body := range []gin.H{
		{"email": "nine@academy.test", "password": "wrong"},
		{"email": "nobody@academy.test", "password": password},
	} {
		w := h.do(http.MethodPost, "/api/auth/login", body, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "Invalid email or password.", errMessage(t, w))
		assert.Empty(t, w.Header().Get("Set-Cookie"))
	}

	w := h.do(http.MethodPost, "/api/auth/login", gin.H{"email": "nine@academy.test"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRollCallOccurrenceAndDelete(t *testing.T) {
	h := newHarness(t, nil)
	coach := h.login(70)
	admin := h.login(1)

	w := h.do(http.MethodPost, "/api/attendance/roll-call", gin.H{
		"scheduleId": 42,
		"date":       "2025-03-11",
		"marks": []gin.H{
			{"memberId": 9, "present": true},
			{"memberId": 0, "present": true},
		},
	}, coach)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(1), body["recorded"])
	assert.Len(t, body["failed"], 1)

	w = h.do(http.MethodPost, "/api/attendance/roll-call", gin.H{
		"scheduleId": 42, "date": "2025-03-11", "marks": []gin.H{{"memberId": 9, "present": true}},
	}, h.login(90))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(http.MethodGet, "/api/attendance/occurrence?scheduleId=42&date=2025-03-11", nil, coach)
	require.Equal(t, http.StatusOK, w.Code)
	records := decode(t, w)["records"].([]any)
	require.Len(t, records, 1)
	id := int64(records[0].(map[string]any)["id"].(float64))

	target := "/api/attendance/" + strconv.FormatInt(id, 10)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodDelete, target, nil, coach).Code)
	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, target, nil, admin).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodDelete, target, nil, admin).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodDelete, "/api/attendance/zero", nil, admin).Code)
}

func TestHealthzAndHeaders(t *testing.T) {
	h := newHarness(t, nil)
	w := h.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["db"])
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestWildcardCORSOnlyOutsideProduction(t *testing.T) {
	const evil = "https://evil.example"
	cases := []struct {
		name       string
		origins    []string
		production bool
		want       string
	}{
		{"wildcard in dev reflects", []string{"*"}, false, evil},
		{"wildcard in production ignored", []string{"*"}, true, ""},
		{"wildcard dropped but list kept", []string{"*", "https://portal.example"}, true, ""},
		{"explicit origin in production", []string{evil}, true, evil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := NewRouter(Deps{CORSOrigins: tc.origins, Production: tc.production})
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.Header.Set("Origin", evil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
