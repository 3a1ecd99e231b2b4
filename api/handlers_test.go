/*
handlers_test.go - HTTP API tests

Tests for:
- Authentication and account provisioning
- Task creation, completion and listing through the router
- Error status mapping
- Admin routes
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hypehub/task-escrow/catalog"
	"github.com/hypehub/task-escrow/escrow"
	"github.com/hypehub/task-escrow/escrow/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testSecret = "test-secret"

type testServer struct {
	engine  *escrow.Engine
	auth    *Authenticator
	handler http.Handler
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := store.NewMemory()
	t.Cleanup(func() { s.Close() })

	e := escrow.NewEngine(s, catalog.Default(), escrow.Options{SignupPoints: 1000, Logger: quietLogger()})
	auth, err := NewAuthenticator(testSecret, "hypehub", e, 16)
	require.NoError(t, err)

	h := NewHandler(e, quietLogger(), 2000)
	return &testServer{engine: e, auth: auth, handler: NewRouter(h, auth, RouterOptions{})}
}

func (ts *testServer) token(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := ts.auth.IssueToken(escrow.UserID(sub), sub, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func followTask(reward int64) CreateTaskRequest {
	return CreateTaskRequest{
		Platform:    "twitter",
		Action:      "follow",
		Title:       "Follow me",
		Description: "Follow my account on X",
		URL:         "https://x.com/alice",
		Reward:      reward,
	}
}

// =============================================================================
// PUBLIC AND AUTH
// =============================================================================

func TestPublicRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/catalog", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cat := decode[CatalogResponse](t, rec)
	assert.Len(t, cat.Platforms, 7)
	require.Len(t, cat.Packages, 4)
	assert.Equal(t, "starter", cat.Packages[0].ID)
	assert.Equal(t, "20", cat.Packages[0].EstimatedUSD.String())

	rec = ts.do(t, http.MethodGet, "/api/packages", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_RejectsMissingAndInvalidTokens(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/me", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := NewAuthenticator("another-secret", "hypehub", ts.engine, 1)
	require.NoError(t, err)
	forged, err := other.IssueToken("mallory", "", RoleAdmin, time.Hour)
	require.NoError(t, err)
	rec = ts.do(t, http.MethodGet, "/api/me", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := ts.auth.IssueToken("alice", "", "", -time.Minute)
	require.NoError(t, err)
	rec = ts.do(t, http.MethodGet, "/api/me", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_ProvisionsAccountOnce(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "alice", "")

	for i := 0; i < 3; i++ {
		rec := ts.do(t, http.MethodGet, "/api/me", tok, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		me := decode[AccountDTO](t, rec)
		assert.Equal(t, "alice", me.ID)
		assert.Equal(t, int64(1000), me.Points, "signup bonus credited once")
	}

	rec := ts.do(t, http.MethodGet, "/api/me/entries", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]EntryDTO](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "signup_bonus", entries[0].Kind)
}

func TestAuth_SystemSubjectRejected(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/me", ts.token(t, "system", ""), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// TASK FLOW
// =============================================================================

func TestTaskFlow_CreateCompleteRetry(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.token(t, "alice", "")
	bob := ts.token(t, "bob", "")

	// GIVEN: Alice funds a task
	rec := ts.do(t, http.MethodPost, "/api/tasks", alice, followTask(200))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[CreateTaskResponse](t, rec)
	assert.Equal(t, int64(800), created.Balance)
	assert.Equal(t, created.TaskID, created.Task.ID)

	// WHEN: Bob completes it
	path := fmt.Sprintf("/api/tasks/%s/complete", created.TaskID)
	rec = ts.do(t, http.MethodPost, path, bob, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decode[CompleteTaskResponse](t, rec)

	// THEN: Bob is credited
	assert.Equal(t, "credited", done.Status)
	assert.Equal(t, int64(200), done.Amount)
	require.NotNil(t, done.Balance)
	assert.Equal(t, int64(1200), *done.Balance)
	assert.Equal(t, int64(1), done.CompletionCount)

	// AND: A retry is informational
	rec = ts.do(t, http.MethodPost, path, bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[CompleteTaskResponse](t, rec)
	assert.Equal(t, "already_completed", again.Status)
	assert.Zero(t, again.Amount)
	assert.Equal(t, int64(1200), *again.Balance)

	// AND: Alice cannot complete her own task
	rec = ts.do(t, http.MethodPost, path, alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "self_completion", decode[ErrorResponse](t, rec).Code)

	// AND: Status and listing reflect Bob's completion
	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/%s/completion", created.TaskID), bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[CompletionStatusResponse](t, rec).Completed)

	rec = ts.do(t, http.MethodGet, "/api/tasks", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[TaskListResponse](t, rec)
	require.Len(t, list.Tasks, 1)
	require.NotNil(t, list.Tasks[0].Completed)
	assert.True(t, *list.Tasks[0].Completed)
	assert.Equal(t, int64(1), list.Tasks[0].CompletionCount)
	assert.Equal(t, escrow.DefaultListLimit, list.Limit)

	rec = ts.do(t, http.MethodGet, "/api/tasks/"+created.TaskID, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	task := decode[TaskDTO](t, rec)
	assert.False(t, *task.Completed)
}

func TestCreateTask_ErrorStatuses(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.token(t, "alice", "")

	tests := []struct {
		name   string
		req    CreateTaskRequest
		status int
		code   string
	}{
		{"insufficient balance", followTask(1500), http.StatusUnprocessableEntity, "insufficient_balance"},
		{"below minimum", followTask(10), http.StatusUnprocessableEntity, "below_minimum"},
		{"unknown action", func() CreateTaskRequest { r := followTask(50); r.Action = "poke"; return r }(), http.StatusBadRequest, "unknown_action"},
		{"missing title", func() CreateTaskRequest { r := followTask(50); r.Title = ""; return r }(), http.StatusBadRequest, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/tasks", alice, tt.req)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}

	rec := ts.do(t, http.MethodPost, "/api/tasks", alice, followTask(1500))
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, int64(500), resp.Shortfall)

	rec = ts.do(t, http.MethodPost, "/api/tasks", alice, func() CreateTaskRequest { r := followTask(50); r.URL = ""; return r }())
	assert.Equal(t, "url", decode[ErrorResponse](t, rec).Field)

	rec = ts.do(t, http.MethodGet, "/api/me", alice, nil)
	assert.Equal(t, int64(1000), decode[AccountDTO](t, rec).Points, "rejections never debit")
}

func TestCreateTask_MalformedBody(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+ts.token(t, "alice", ""))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", decode[ErrorResponse](t, rec).Code)
}

func TestCreateTask_IdempotencyKeyHeader(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.token(t, "alice", "")

	first := ts.do(t, http.MethodPost, "/api/tasks", alice, followTask(100), "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, first.Code)
	second := ts.do(t, http.MethodPost, "/api/tasks", alice, followTask(100), "Idempotency-Key", "abc")
	require.Equal(t, http.StatusOK, second.Code)

	a := decode[CreateTaskResponse](t, first)
	b := decode[CreateTaskResponse](t, second)
	assert.Equal(t, a.TaskID, b.TaskID)
	assert.True(t, b.Replayed)
	assert.Equal(t, int64(900), b.Balance)
}

func TestCompleteTask_UnknownTask(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/tasks/nope/complete", ts.token(t, "bob", ""), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "task_not_found", decode[ErrorResponse](t, rec).Code)
}

func TestListTasks_BadQuery(t *testing.T) {
	ts := newTestServer(t)
	bob := ts.token(t, "bob", "")

	rec := ts.do(t, http.MethodGet, "/api/tasks?official=maybe", bob, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "official", decode[ErrorResponse](t, rec).Field)

	rec = ts.do(t, http.MethodGet, "/api/tasks?limit=-1", bob, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRewardRange(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/catalog/discord/join/range", ts.token(t, "alice", ""), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rr := decode[escrow.RewardRange](t, rec)
	assert.Equal(t, escrow.RewardRange{Min: 75, Default: 100, Max: 1000, Affordable: true}, rr)

	rec = ts.do(t, http.MethodGet, "/api/catalog/discord/like/range", ts.token(t, "alice", ""), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PURCHASES
// =============================================================================

func TestPurchase_PlainUserCannotCredit(t *testing.T) {
	// GIVEN: A user with the signup balance and no role
	ts := newTestServer(t)
	alice := ts.token(t, "alice", "")

	// WHEN: The user posts purchases for themselves with made-up references
	for i := 0; i < 3; i++ {
		rec := ts.do(t, http.MethodPost, "/api/purchases", alice, PurchaseRequest{
			UserID: "alice", PackageID: "elite", Reference: fmt.Sprintf("fake-%d", i),
		})
		assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
		assert.Equal(t, "forbidden", decode[ErrorResponse](t, rec).Code)
	}

	// THEN: The balance is unchanged
	rec := ts.do(t, http.MethodGet, "/api/me", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1000), decode[AccountDTO](t, rec).Points)
}

func TestPurchase_WalletCreditsOncePerReference(t *testing.T) {
	// GIVEN: A provisioned user and a wallet service token
	ts := newTestServer(t)
	alice := ts.token(t, "alice", "")
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/me", alice, nil).Code)
	wallet := ts.token(t, "wallet-service", RoleWallet)

	// WHEN: The wallet reports a settled payment
	rec := ts.do(t, http.MethodPost, "/api/purchases", wallet, PurchaseRequest{UserID: "alice", PackageID: "starter", Reference: "0x01"})

	// THEN: The package is credited to the named user
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[PurchaseResponse](t, rec)
	assert.Equal(t, int64(1000), res.Credited)
	assert.Equal(t, int64(2000), res.Balance)

	// AND: A retry of the same reference credits nothing
	rec = ts.do(t, http.MethodPost, "/api/purchases", wallet, PurchaseRequest{UserID: "alice", PackageID: "starter", Reference: "0x01"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[PurchaseResponse](t, rec).Duplicate)

	rec = ts.do(t, http.MethodPost, "/api/purchases", wallet, PurchaseRequest{UserID: "alice", PackageID: "whale", Reference: "0x02"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_package", decode[ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/api/purchases", wallet, PurchaseRequest{UserID: "nobody", PackageID: "starter", Reference: "0x03"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/purchases", wallet, PurchaseRequest{PackageID: "starter", Reference: "0x04"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "user_id", decode[ErrorResponse](t, rec).Field)

	// AND: The wallet principal itself holds no points account
	_, err := ts.engine.Account(context.Background(), "wallet-service")
	assert.ErrorIs(t, err, escrow.ErrUserNotFound)
}

func TestPurchase_AdminMayCredit(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.token(t, "alice", "")
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/me", alice, nil).Code)

	rec := ts.do(t, http.MethodPost, "/api/purchases", ts.token(t, "ops", RoleAdmin), PurchaseRequest{UserID: "alice", PackageID: "starter", Reference: "manual-1"})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAdmin_RequiresRole(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/admin/official-tasks/seed", ts.token(t, "alice", ""), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdmin_SeedAndCreateOfficialTasks(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(t, "root", RoleAdmin)

	rec := ts.do(t, http.MethodPost, "/api/admin/official-tasks/seed", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, escrow.SeedReport{Created: 5}, decode[escrow.SeedReport](t, rec))

	rec = ts.do(t, http.MethodPost, "/api/admin/official-tasks/seed", admin, nil)
	assert.Equal(t, escrow.SeedReport{Existing: 5}, decode[escrow.SeedReport](t, rec))

	body := OfficialTaskRequest{
		ID: "launch", Platform: "other", Action: "visit", Title: "Visit the launch page",
		Description: "Read the announcement", URL: "https://hypehub.example/launch",
	}
	rec = ts.do(t, http.MethodPost, "/api/admin/official-tasks", admin, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	task := decode[TaskDTO](t, rec)
	assert.True(t, task.IsOfficial)
	assert.Equal(t, int64(20), task.Reward, "default reward for the action")

	rec = ts.do(t, http.MethodPost, "/api/admin/official-tasks", admin, body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/tasks?official=true", admin, nil)
	assert.Len(t, decode[TaskListResponse](t, rec).Tasks, 6)
}

func TestAdmin_RunRecovery(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/admin/recovery?batch=10", ts.token(t, "root", RoleAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, escrow.RecoveryReport{}, decode[escrow.RecoveryReport](t, rec))
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&escrow.ValidationError{Field: "title", Message: "is required"}, http.StatusBadRequest},
		{&escrow.UnknownActionError{Platform: "x", Action: "y"}, http.StatusBadRequest},
		{&escrow.BelowMinimumError{Minimum: 25, Proposed: 5}, http.StatusUnprocessableEntity},
		{escrow.NewInsufficientBalance("a", 10, 20), http.StatusUnprocessableEntity},
		{escrow.ErrSelfCompletion, http.StatusForbidden},
		{escrow.ErrTaskNotFound, http.StatusNotFound},
		{escrow.ErrUserNotFound, http.StatusNotFound},
		{&escrow.StorageError{Op: "complete_task", Err: context.DeadlineExceeded}, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), "%v", tt.err)
	}
}

func TestWriteError_StorageIsRetryable(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", nil)
	writeError(rec, req, quietLogger(), &escrow.StorageError{Op: "create_task", Err: fmt.Errorf("database is locked")})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.True(t, resp.Retryable)
	assert.Equal(t, "storage_unavailable", resp.Code)
}

func TestWriteError_HidesServerSideDetail(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		detail string
		status int
	}{
		{"storage", &escrow.StorageError{Op: "complete_task", Err: fmt.Errorf("failed to insert completion: database is locked (5) (SQLITE_BUSY)")}, "SQLITE_BUSY", http.StatusServiceUnavailable},
		{"internal", fmt.Errorf(`pq: relation "completions" does not exist`), "does not exist", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: A failure carrying driver text
			var logs bytes.Buffer
			log := slog.New(slog.NewTextHandler(&logs, nil))
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/tasks/t1/complete", nil)

			// WHEN: It is written to the client
			writeError(rec, req, log, tt.err)

			// THEN: The body is generic and the detail only reaches the log
			assert.Equal(t, tt.status, rec.Code)
			assert.NotContains(t, rec.Body.String(), tt.detail)
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
			assert.Contains(t, logs.String(), tt.detail)
			assert.Contains(t, logs.String(), "/api/tasks/t1/complete")
		})
	}
}

func TestWriteError_ClientErrorsKeepMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", nil)
	writeError(rec, req, quietLogger(), escrow.NewInsufficientBalance("alice", 10, 30))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, escrow.NewInsufficientBalance("alice", 10, 30).Error(), resp.Error)
	assert.Equal(t, int64(20), resp.Shortfall)
}
