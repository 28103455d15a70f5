package registration

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/hitoshi/accountd/internal/model"
)

// Input はモジュールごとの登録入力。実装は以下の6種類に限られる。
type Input interface {
	Module() model.Module
}

// AddressInput は住所の入力。
type AddressInput struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

// CompleteProfileInput はCOMPLETE_PROFILEの入力。
type CompleteProfileInput struct {
	FirstName       string       `json:"firstName"`
	LastName        string       `json:"lastName"`
	Email           string       `json:"email"`
	Username        string       `json:"username"`
	PhoneNumber     string       `json:"phoneNumber"`
	Address         AddressInput `json:"address"`
	Gender          string       `json:"gender"`
	DateOfBirth     string       `json:"dateOfBirth"`
	Password        string       `json:"password"`
	ConfirmPassword string       `json:"confirmPassword"`
}

// BasicInput はBASICの入力。FirstName/LastNameが無ければFullNameを分割して使う。
type BasicInput struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	FullName        string `json:"fullName"`
	Email           string `json:"email"`
	Username        string `json:"username"`
	PhoneNumber     string `json:"phoneNumber"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// ProfessionalInput はPROFESSIONALの入力。
type ProfessionalInput struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	FullName        string `json:"fullName"`
	Email           string `json:"email"`
	Username        string `json:"username"`
	Company         string `json:"company"`
	JobTitle        string `json:"jobTitle"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// EmailOnlyInput はEMAIL_ONLYの入力。
type EmailOnlyInput struct {
	Email           string `json:"email"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// SocialInput はSOCIALの入力。SocialProfileはIdPの応答をそのまま受け取る。
type SocialInput struct {
	SocialProvider  string         `json:"socialProvider"`
	SocialID        string         `json:"socialId"`
	Email           string         `json:"email"`
	Username        string         `json:"username"`
	FirstName       string         `json:"firstName"`
	LastName        string         `json:"lastName"`
	ProfilePicture  string         `json:"profilePicture"`
	SocialProfile   map[string]any `json:"socialProfile"`
	Password        string         `json:"password"`
	ConfirmPassword string         `json:"confirmPassword"`
}

// OTPVerifiedInput はOTP_VERIFIEDの入力。
type OTPVerifiedInput struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Email           string `json:"email"`
	Username        string `json:"username"`
	PhoneNumber     string `json:"phoneNumber"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (*CompleteProfileInput) Module() model.Module { return model.ModuleCompleteProfile }
func (*BasicInput) Module() model.Module           { return model.ModuleBasic }
func (*ProfessionalInput) Module() model.Module    { return model.ModuleProfessional }
func (*EmailOnlyInput) Module() model.Module       { return model.ModuleEmailOnly }
func (*SocialInput) Module() model.Module          { return model.ModuleSocial }
func (*OTPVerifiedInput) Module() model.Module     { return model.ModuleOTPVerified }

// Decode は生の入力をモジュールに対応する入力型に変換する。
// 数値や真偽値で送られた項目は文字列に変換し、未知の項目は無視する。
func Decode(module model.Module, fields map[string]any) (Input, error) {
	var in Input
	switch module {
	case model.ModuleCompleteProfile:
		in = &CompleteProfileInput{}
	case model.ModuleBasic:
		in = &BasicInput{}
	case model.ModuleProfessional:
		in = &ProfessionalInput{}
	case model.ModuleEmailOnly:
		in = &EmailOnlyInput{}
	case model.ModuleSocial:
		in = &SocialInput{}
	case model.ModuleOTPVerified:
		in = &OTPVerifiedInput{}
	default:
		return nil, model.NewInvalidModuleError(int(module))
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           in,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(fields); err != nil {
		return nil, model.NewInvalidFieldError("fields", err.Error())
	}
	return in, nil
}
