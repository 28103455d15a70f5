package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/accountd/internal/auth"
	"github.com/hitoshi/accountd/internal/middleware"
	"github.com/hitoshi/accountd/internal/model"
	"github.com/hitoshi/accountd/internal/registration"
)

// moduleKeys はリクエストボディ中でモジュール番号を表すキー。
var moduleKeys = []string{"module", "registrationModule"}

// RegistrationServiceInterface は登録ハンドラーが必要とするサービスインターフェース。
type RegistrationServiceInterface interface {
	Register(ctx context.Context, module int, fields map[string]any) (*registration.Result, error)
	CompleteOTP(ctx context.Context, ticketID, code string) (*registration.Result, error)
	ResendOTP(ctx context.Context, ticketID string) (*model.OTPTicket, error)
}

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, identifier, password string) (*auth.LoginResult, error)
	CurrentAccount(ctx context.Context, accountID string) (*model.Account, error)
}

// AuthHandler は登録・OTP・ログインのHTTPハンドラー。
type AuthHandler struct {
	registration RegistrationServiceInterface
	auth         AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(registration RegistrationServiceInterface, auth AuthServiceInterface) *AuthHandler {
	return &AuthHandler{
		registration: registration,
		auth:         auth,
	}
}

// registrationResponse はアカウント作成時のAPIレスポンス。
type registrationResponse struct {
	SerialNumber   string         `json:"serialNumber"`
	AccountID      string         `json:"accountId"`
	Token          string         `json:"token,omitempty"`
	TokenExpiresAt *time.Time     `json:"tokenExpiresAt,omitempty"`
	Account        accountSummary `json:"account"`
}

// pendingResponse はOTP検証待ちの登録のAPIレスポンス。
type pendingResponse struct {
	Pending           bool      `json:"pending"`
	TicketID          string    `json:"ticketId"`
	ExpiresAt         time.Time `json:"expiresAt"`
	RemainingAttempts int       `json:"remainingAttempts"`
}

type verifyOTPRequest struct {
	TicketID string `json:"ticketId"`
	Code     string `json:"code"`
}

type resendOTPRequest struct {
	TicketID string `json:"ticketId"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

// loginResponse はログイン成功時のAPIレスポンス。
type loginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Account   accountSummary `json:"account"`
}

// Register はモジュール番号と入力項目からアカウントを登録する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeJSONBody(w, r, &body); err != nil {
		writeInvalidBody(w)
		return
	}

	module, apiErr := extractModule(body)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	res, err := h.registration.Register(r.Context(), module, body)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if res.Pending != nil {
		writeJSON(w, http.StatusAccepted, toPendingResponse(res.Pending))
		return
	}
	writeJSON(w, http.StatusCreated, toRegistrationResponse(res))
}

// VerifyOTP はワンタイムパスコードを検証し、保留中の登録を確定する。
// POST /api/auth/otp/verify
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeInvalidBody(w)
		return
	}

	res, err := h.registration.CompleteOTP(r.Context(), req.TicketID, req.Code)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRegistrationResponse(res))
}

// ResendOTP は保留中の登録に新しいコードを発行する。古いチケットは無効になる。
// POST /api/auth/otp/resend
func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req resendOTPRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeInvalidBody(w)
		return
	}

	ticket, err := h.registration.ResendOTP(r.Context(), req.TicketID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toPendingResponse(ticket))
}

// Login はメールアドレスまたはユーザー名とパスワードで認証する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeInvalidBody(w)
		return
	}

	identifier := req.Identifier
	if identifier == "" {
		identifier = req.Email
	}
	if identifier == "" {
		identifier = req.Username
	}

	res, err := h.auth.Login(r.Context(), identifier, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     res.Token.Value,
		ExpiresAt: res.Token.ExpiresAt,
		Account:   toAccountSummary(res.Account),
	})
}

// extractModule はリクエストボディからモジュール番号を取り出す。
// 数値・数字文字列のどちらも受け付ける。
func extractModule(body map[string]any) (int, *model.APIError) {
	for _, key := range moduleKeys {
		raw, ok := body[key]
		if !ok || raw == nil {
			continue
		}
		switch v := raw.(type) {
		case float64:
			if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
				return 0, model.NewInvalidFieldError(key, "整数で指定してください")
			}
			return int(v), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return 0, model.NewInvalidFieldError(key, "整数で指定してください")
			}
			return n, nil
		default:
			return 0, model.NewInvalidFieldError(key, "整数で指定してください")
		}
	}
	return 0, model.NewMissingRequiredFieldError("module")
}

func toRegistrationResponse(res *registration.Result) registrationResponse {
	resp := registrationResponse{
		SerialNumber: res.Account.SerialNumber,
		AccountID:    res.Account.ID,
		Account:      toAccountSummary(res.Account),
	}
	if res.Token != nil {
		expiresAt := res.Token.ExpiresAt
		resp.Token = res.Token.Value
		resp.TokenExpiresAt = &expiresAt
	}
	return resp
}

func toPendingResponse(ticket *model.OTPTicket) pendingResponse {
	return pendingResponse{
		Pending:           true,
		TicketID:          ticket.ID,
		ExpiresAt:         ticket.ExpiresAt,
		RemainingAttempts: ticket.RemainingAttempts(),
	}
}
