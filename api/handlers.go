/*
handlers.go - HTTP API handlers for the task escrow

PURPOSE:
  Exposes the escrow engine via REST API. Handles HTTP request/response and
  JSON serialization, and delegates every decision to the engine.

ENDPOINTS:
  Catalog (public):
    GET    /api/catalog                            Platforms, actions, packages
    GET    /api/packages                           Point packages

  Account:
    GET    /api/me                                 Caller's account
    GET    /api/me/entries                         Caller's ledger history
    GET    /api/catalog/{platform}/{action}/range  Reward slider bounds

  Tasks:
    GET    /api/tasks                              List tasks
    POST   /api/tasks                              Create and fund a task
    GET    /api/tasks/{id}                         Task details
    POST   /api/tasks/{id}/complete                Complete a task
    GET    /api/tasks/{id}/completion              Caller's completion status

  Wallet (role wallet or admin):
    POST   /api/purchases                          Credit a paid package

  Admin:
    POST   /api/admin/official-tasks               Create an official task
    POST   /api/admin/official-tasks/seed          Seed catalog official tasks
    POST   /api/admin/recovery                     Settle pending completions

ERROR HANDLING:
  Errors are returned as JSON with the status mapped from the escrow error:
  - 400: Validation errors, unknown action or package, malformed JSON
  - 403: Completing your own task, missing role
  - 404: Task or user not found
  - 422: Reward below minimum, insufficient balance
  - 500: Anything else; the body carries a generic message
  - 503: Storage unavailable (retryable); driver detail is logged only

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Caller identity
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hypehub/task-escrow/escrow"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *escrow.Engine
	Log    *slog.Logger

	// ETHUSD is the display rate for package price estimates.
	ETHUSD decimal.Decimal
}

// NewHandler creates a handler over engine.
func NewHandler(engine *escrow.Engine, log *slog.Logger, ethUSD float64) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Engine: engine, Log: log, ETHUSD: decimal.NewFromFloat(ethUSD)}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CATALOG
// =============================================================================

// GetCatalog returns platforms with their actions, and the point packages.
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CatalogResponse{
		Platforms: h.Engine.Catalog().Platforms(),
		Packages:  h.packages(),
	})
}

// ListPackages returns the point packages.
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.packages())
}

func (h *Handler) packages() []PackageDTO {
	pkgs := h.Engine.Catalog().Packages()
	dtos := make([]PackageDTO, len(pkgs))
	for i, p := range pkgs {
		dtos[i] = toPackageDTO(p, h.ETHUSD)
	}
	return dtos
}

// GetRewardRange returns the reward bounds for the caller's balance.
func (h *Handler) GetRewardRange(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	rr, err := h.Engine.RewardRange(r.Context(), caller.UserID, chi.URLParam(r, "platform"), chi.URLParam(r, "action"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, rr)
}

// =============================================================================
// ACCOUNT
// =============================================================================

// GetMe returns the caller's account.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	u, err := h.Engine.Account(r.Context(), caller.UserID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountDTO{
		ID:        string(u.ID),
		Name:      caller.Name,
		Role:      caller.Role,
		Points:    u.Points,
		CreatedAt: formatTime(u.CreatedAt),
	})
}

// GetEntries returns the caller's ledger entries, newest first.
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	entries, err := h.Engine.Entries(r.Context(), mustCaller(r).UserID, limit)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Purchase credits a paid point package to the user named in the body.
// Only the wallet service (or an admin) reaches this handler.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.Engine.Purchase(r.Context(), escrow.UserID(req.UserID), req.PackageID, req.Reference)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, PurchaseResponse{
		PackageID: res.Package.ID,
		Credited:  res.Credited,
		Balance:   res.Balance,
		Duplicate: res.Duplicate,
	})
}

// =============================================================================
// TASKS
// =============================================================================

// CreateTask funds a task from the caller's balance. An Idempotency-Key
// header makes retries return the original task.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.Engine.CreateTask(r.Context(), escrow.CreateTaskRequest{
		CreatorID:      mustCaller(r).UserID,
		Platform:       req.Platform,
		Action:         req.Action,
		Title:          req.Title,
		Description:    req.Description,
		URL:            req.URL,
		Reward:         req.Reward,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, CreateTaskResponse{
		TaskID:   string(res.Task.ID),
		Task:     toTaskDTO(res.Task),
		Balance:  res.Balance,
		Replayed: res.Replayed,
	})
}

// ListTasks lists tasks with the caller's completion flag.
// Query: platform, creator, official=true|false, limit, offset.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTaskFilter(r)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	views, err := h.Engine.ListTasksFor(r.Context(), filter, mustCaller(r).UserID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	filter = filter.Normalize()
	resp := TaskListResponse{Tasks: make([]TaskDTO, len(views)), Limit: filter.Limit, Offset: filter.Offset}
	for i, v := range views {
		dto := toTaskDTO(v.Task)
		completed := v.Completed
		dto.Completed = &completed
		resp.Tasks[i] = dto
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseTaskFilter(r *http.Request) (escrow.TaskFilter, error) {
	q := r.URL.Query()
	f := escrow.TaskFilter{
		Platform:  q.Get("platform"),
		CreatorID: escrow.UserID(q.Get("creator")),
	}
	if v := q.Get("official"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, &escrow.ValidationError{Field: "official", Message: "must be true or false"}
		}
		f.Official = &b
	}
	var err error
	if f.Limit, err = intQuery(r, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = intQuery(r, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

// GetTask returns one task with the caller's completion flag.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := escrow.TaskID(chi.URLParam(r, "id"))
	task, err := h.Engine.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	done, err := h.Engine.CompletionStatus(r.Context(), id, mustCaller(r).UserID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	dto := toTaskDTO(task)
	dto.Completed = &done
	writeJSON(w, http.StatusOK, dto)
}

// CompleteTask records the caller's completion and credits the reward.
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.CompleteTask(r.Context(), escrow.TaskID(chi.URLParam(r, "id")), mustCaller(r).UserID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}

	resp := CompleteTaskResponse{Status: string(res.Outcome), CompletionCount: res.CompletionCount}
	balance := res.Balance
	resp.Balance = &balance
	switch res.Outcome {
	case escrow.OutcomeCredited:
		resp.Amount = res.Amount
		resp.Message = fmt.Sprintf("Task completed! You earned %d points.", res.Amount)
	case escrow.OutcomeAlreadyCompleted:
		resp.Message = "You have already completed this task."
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCompletionStatus reports whether the caller completed the task.
func (h *Handler) GetCompletionStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	done, err := h.Engine.CompletionStatus(r.Context(), escrow.TaskID(id), mustCaller(r).UserID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, CompletionStatusResponse{TaskID: id, Completed: done})
}

// =============================================================================
// ADMIN
// =============================================================================

// CreateOfficialTask creates a system-funded task.
func (h *Handler) CreateOfficialTask(w http.ResponseWriter, r *http.Request) {
	var req OfficialTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := h.Engine.CreateOfficialTask(r.Context(), escrow.OfficialTaskRequest{
		ID:          escrow.TaskID(req.ID),
		Platform:    req.Platform,
		Action:      req.Action,
		Title:       req.Title,
		Description: req.Description,
		URL:         req.URL,
		Reward:      req.Reward,
	})
	if errors.Is(err, escrow.ErrDuplicateTask) {
		writeProblem(w, http.StatusConflict, ErrorResponse{Error: "task already exists", Code: "duplicate_task"})
		return
	}
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskDTO(task))
}

// SeedOfficialTasks creates the catalog's official tasks that are missing.
func (h *Handler) SeedOfficialTasks(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.SeedOfficialTasks(r.Context())
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RunRecovery settles uncredited completions now. Query: batch.
func (h *Handler) RunRecovery(w http.ResponseWriter, r *http.Request) {
	batch, err := intQuery(r, "batch")
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	report, err := h.Engine.Recover(r.Context(), batch)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// HELPERS
// =============================================================================

// mustCaller returns the identity the auth middleware stored. Routes using
// it are always mounted behind the middleware.
func mustCaller(r *http.Request) Identity {
	id, _ := CurrentUser(r.Context())
	return id
}

func intQuery(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &escrow.ValidationError{Field: name, Message: "must be a non-negative integer"}
	}
	return n, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body", Code: "invalid_json", Details: err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeProblem(w http.ResponseWriter, status int, resp ErrorResponse) {
	writeJSON(w, status, resp)
}

// writeError maps an escrow error to its status and body. Server-side
// failures are logged with their cause; the client gets a generic message.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: escrow.Reason(err), Retryable: escrow.IsRetryable(err)}

	if status >= http.StatusInternalServerError {
		if log == nil {
			log = slog.Default()
		}
		log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"status", status,
			"error", err,
		)
		resp.Error = "internal error"
		if status == http.StatusServiceUnavailable {
			resp.Error = "storage temporarily unavailable, retry later"
		}
		writeProblem(w, status, resp)
		return
	}

	var (
		ve *escrow.ValidationError
		ib *escrow.InsufficientBalanceError
	)
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	if errors.As(err, &ib) {
		resp.Shortfall = ib.Shortfall
	}
	writeProblem(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, escrow.ErrValidation),
		errors.Is(err, escrow.ErrUnknownAction),
		errors.Is(err, escrow.ErrUnknownPackage):
		return http.StatusBadRequest
	case errors.Is(err, escrow.ErrBelowMinimum),
		errors.Is(err, escrow.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, escrow.ErrSelfCompletion):
		return http.StatusForbidden
	case escrow.IsNotFound(err):
		return http.StatusNotFound
	case escrow.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
