// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/accountd/internal/middleware"
	"github.com/hitoshi/accountd/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限サイズ。
const maxRequestBodyBytes = 1 << 20

// dateLayout は生年月日のレスポンス形式。
const dateLayout = "2006-01-02"

// addressResponse は住所のAPIレスポンス。
type addressResponse struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

// accountSummary はアカウント情報のAPIレスポンス。パスワードハッシュは含めない。
type accountSummary struct {
	ID                 string           `json:"id"`
	SerialNumber       string           `json:"serialNumber"`
	Email              string           `json:"email"`
	Username           string           `json:"username,omitempty"`
	RegistrationModule string           `json:"registrationModule"`
	FirstName          string           `json:"firstName,omitempty"`
	LastName           string           `json:"lastName,omitempty"`
	FullName           string           `json:"fullName,omitempty"`
	PhoneNumber        string           `json:"phoneNumber,omitempty"`
	Address            *addressResponse `json:"address,omitempty"`
	Gender             string           `json:"gender,omitempty"`
	DateOfBirth        string           `json:"dateOfBirth,omitempty"`
	Company            string           `json:"company,omitempty"`
	JobTitle           string           `json:"jobTitle,omitempty"`
	SocialProvider     string           `json:"socialProvider"`
	ProfilePicture     string           `json:"profilePicture,omitempty"`
	HasPassword        bool             `json:"hasPassword"`
	IsEmailVerified    bool             `json:"isEmailVerified"`
	IsPhoneVerified    bool             `json:"isPhoneVerified"`
	IsOtpVerified      bool             `json:"isOtpVerified"`
	IsActive           bool             `json:"isActive"`
	LastLoginAt        *time.Time       `json:"lastLoginAt,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
}

// toAccountSummary はmodel.AccountからAPIレスポンスに変換する。
func toAccountSummary(acc *model.Account) accountSummary {
	s := accountSummary{
		ID:                 acc.ID,
		SerialNumber:       acc.SerialNumber,
		Email:              acc.Email,
		Username:           acc.Username,
		RegistrationModule: acc.RegistrationModule.String(),
		FirstName:          acc.FirstName,
		LastName:           acc.LastName,
		FullName:           acc.FullName(),
		PhoneNumber:        acc.PhoneNumber,
		Gender:             acc.Gender,
		Company:            acc.Company,
		JobTitle:           acc.JobTitle,
		SocialProvider:     string(acc.SocialProvider),
		ProfilePicture:     acc.ProfilePicture,
		HasPassword:        acc.HasPassword(),
		IsEmailVerified:    acc.IsEmailVerified,
		IsPhoneVerified:    acc.IsPhoneVerified,
		IsOtpVerified:      acc.IsOtpVerified,
		IsActive:           acc.IsActive,
		LastLoginAt:        acc.LastLoginAt,
		CreatedAt:          acc.CreatedAt,
	}
	if acc.Address != nil {
		s.Address = &addressResponse{
			Street:  acc.Address.Street,
			City:    acc.Address.City,
			State:   acc.Address.State,
			ZipCode: acc.Address.ZipCode,
			Country: acc.Address.Country,
		}
	}
	if acc.DateOfBirth != nil {
		s.DateOfBirth = acc.DateOfBirth.Format(dateLayout)
	}
	return s
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSONBody はリクエストボディをJSONとしてdstに読み込む。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// writeInvalidBody はJSON解析失敗時のエラーレスポンスを書き込む。
func writeInvalidBody(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest,
		model.NewInvalidFieldError("body", "正しいJSON形式でリクエストしてください"))
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidModule, model.ErrCodeMissingRequiredField,
		model.ErrCodeInvalidField, model.ErrCodeWeakPassword:
		return http.StatusBadRequest
	case model.ErrCodeDuplicateEmail, model.ErrCodeDuplicateUsername,
		model.ErrCodeDuplicateSocialIdentity, model.ErrCodeOTPAlreadyConsumed:
		return http.StatusConflict
	case model.ErrCodeAllocatorUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrCodeOTPExpired:
		return http.StatusGone
	case model.ErrCodeOTPMismatch:
		return http.StatusUnprocessableEntity
	case model.ErrCodeOTPAttemptsExceeded, model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeOTPTicketNotFound, model.ErrCodeAccountNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidCredentials, model.ErrCodeInvalidToken, model.ErrCodeTokenExpired:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
