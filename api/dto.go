/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the HTTP API, kept apart from the escrow types so the
  wire contract can evolve on its own.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Response wrappers

VALIDATION:
  Done by the engine, not here. DTOs are pure data carriers.
*/
package api

import (
	"time"

	"github.com/hypehub/task-escrow/catalog"
	"github.com/hypehub/task-escrow/escrow"
	"github.com/shopspring/decimal"
)

// =============================================================================
// TASKS
// =============================================================================

type CreateTaskRequest struct {
	Platform    string `json:"platform"`
	Action      string `json:"action"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Reward      int64  `json:"reward"`
}

type TaskDTO struct {
	ID              string `json:"id"`
	CreatorID       string `json:"creator_id"`
	Platform        string `json:"platform"`
	Action          string `json:"action"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	URL             string `json:"url"`
	Reward          int64  `json:"reward"`
	CompletionCount int64  `json:"completion_count"`
	IsOfficial      bool   `json:"is_official"`
	CreatedAt       string `json:"created_at"`
	Completed       *bool  `json:"completed,omitempty"`
}

type CreateTaskResponse struct {
	TaskID   string  `json:"task_id"`
	Task     TaskDTO `json:"task"`
	Balance  int64   `json:"balance"`
	Replayed bool    `json:"replayed,omitempty"`
}

type TaskListResponse struct {
	Tasks  []TaskDTO `json:"tasks"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

type CompleteTaskResponse struct {
	Status          string `json:"status"`
	Amount          int64  `json:"amount,omitempty"`
	Message         string `json:"message"`
	Balance         *int64 `json:"balance,omitempty"`
	CompletionCount int64  `json:"completion_count"`
}

type CompletionStatusResponse struct {
	TaskID    string `json:"task_id"`
	Completed bool   `json:"completed"`
}

type OfficialTaskRequest struct {
	ID          string `json:"id,omitempty"`
	Platform    string `json:"platform"`
	Action      string `json:"action"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Reward      int64  `json:"reward,omitempty"`
}

// =============================================================================
// ACCOUNTS
// =============================================================================

type AccountDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role,omitempty"`
	Points    int64  `json:"points"`
	CreatedAt string `json:"created_at"`
}

type EntryDTO struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Amount       int64  `json:"amount"`
	TaskID       string `json:"task_id,omitempty"`
	BalanceAfter int64  `json:"balance_after"`
	CreatedAt    string `json:"created_at"`
}

// PurchaseRequest is sent by the wallet service once a payment has
// settled. UserID is the account to credit.
type PurchaseRequest struct {
	UserID    string `json:"user_id"`
	PackageID string `json:"package_id"`
	Reference string `json:"reference"`
}

type PurchaseResponse struct {
	PackageID string `json:"package_id"`
	Credited  int64  `json:"credited"`
	Balance   int64  `json:"balance"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

type CatalogResponse struct {
	Platforms []catalog.Platform `json:"platforms"`
	Packages  []PackageDTO       `json:"packages"`
}

type PackageDTO struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Points           int64           `json:"points"`
	Bonus            int64           `json:"bonus"`
	Total            int64           `json:"total"`
	PriceETH         decimal.Decimal `json:"price_eth"`
	EstimatedUSD     decimal.Decimal `json:"estimated_usd"`
	PricePerThousand decimal.Decimal `json:"price_per_thousand"`
	Popular          bool            `json:"popular,omitempty"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Field     string `json:"field,omitempty"`
	Shortfall int64  `json:"shortfall,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toTaskDTO(t escrow.Task) TaskDTO {
	return TaskDTO{
		ID:              string(t.ID),
		CreatorID:       string(t.CreatorID),
		Platform:        t.Platform,
		Action:          t.Action,
		Title:           t.Title,
		Description:     t.Description,
		URL:             t.URL,
		Reward:          t.Reward,
		CompletionCount: t.CompletionCount,
		IsOfficial:      t.IsOfficial,
		CreatedAt:       formatTime(t.CreatedAt),
	}
}

func toEntryDTO(e escrow.Entry) EntryDTO {
	return EntryDTO{
		ID:           e.ID,
		Kind:         string(e.Kind),
		Amount:       e.Amount,
		TaskID:       string(e.TaskID),
		BalanceAfter: e.BalanceAfter,
		CreatedAt:    formatTime(e.CreatedAt),
	}
}

func toPackageDTO(p catalog.Package, ethUSD decimal.Decimal) PackageDTO {
	return PackageDTO{
		ID:               p.ID,
		Name:             p.Name,
		Points:           p.Points,
		Bonus:            p.Bonus,
		Total:            p.Total(),
		PriceETH:         p.PriceETH,
		EstimatedUSD:     p.EstimateUSD(ethUSD),
		PricePerThousand: p.PricePerThousand(),
		Popular:          p.Popular,
	}
}
