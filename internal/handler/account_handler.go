package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/accountd/internal/middleware"
	"github.com/hitoshi/accountd/internal/model"
)

// AccountServiceInterface はアカウントハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	// Deactivate はアカウントを無効化する。レコードは削除しない。
	Deactivate(ctx context.Context, accountID string) error
	Stats(ctx context.Context) (*model.Stats, error)
	Health(ctx context.Context) *model.Health
}

// AccountHandler はアカウント参照・管理のHTTPハンドラー。
type AccountHandler struct {
	auth     AuthServiceInterface
	accounts AccountServiceInterface
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(auth AuthServiceInterface, accounts AccountServiceInterface) *AccountHandler {
	return &AccountHandler{
		auth:     auth,
		accounts: accounts,
	}
}

type statsResponse struct {
	TotalAccounts    int            `json:"totalAccounts"`
	LastSerialNumber string         `json:"lastSerialNumber"`
	PerModuleCounts  map[string]int `json:"perModuleCounts"`
}

type storeHealthResponse struct {
	Reachable    bool `json:"reachable"`
	AccountCount int  `json:"accountCount"`
}

// Profile はトークンのアカウント情報を返す。
// GET /api/auth/profile
func (h *AccountHandler) Profile(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidTokenError())
		return
	}

	acc, err := h.auth.CurrentAccount(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountSummary(acc))
}

// Deactivate はトークンのアカウントを無効化する。
// DELETE /api/auth/me
func (h *AccountHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidTokenError())
		return
	}

	if err := h.accounts.Deactivate(r.Context(), accountID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats はアカウントの集計値を返す。
// GET /api/auth/stats
func (h *AccountHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.accounts.Stats(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	perModule := make(map[string]int, len(stats.PerModuleCounts))
	for m, n := range stats.PerModuleCounts {
		perModule[m.String()] = n
	}
	writeJSON(w, http.StatusOK, statsResponse{
		TotalAccounts:    stats.TotalAccounts,
		LastSerialNumber: stats.LastSerialNumber,
		PerModuleCounts:  perModule,
	})
}

// Test はアカウントストアの疎通状態を返す。到達できない場合は503を返す。
// GET /api/auth/test
func (h *AccountHandler) Test(w http.ResponseWriter, r *http.Request) {
	health := h.accounts.Health(r.Context())

	status := http.StatusOK
	if !health.Reachable {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, storeHealthResponse{
		Reachable:    health.Reachable,
		AccountCount: health.AccountCount,
	})
}

// Health はプロセスの死活監視用エンドポイント。ストアには問い合わせない。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
