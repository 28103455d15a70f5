package registration

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/hitoshi/accountd/internal/credential"
	"github.com/hitoshi/accountd/internal/model"
	"golang.org/x/net/idna"
	"golang.org/x/text/cases"
)

// passwordSymbols はCOMPLETE_PROFILEのパスワードに1文字以上必要な記号。
const passwordSymbols = `!@#$%^&*(),.?":{}|<>`

const dateOfBirthLayout = "2006-01-02"

// 性別の選択肢
var genders = map[string]bool{
	"male":              true,
	"female":            true,
	"other":             true,
	"prefer-not-to-say": true,
}

// passwordPolicy はモジュールごとのパスワード要件。
type passwordPolicy struct {
	minLen     int
	exactLen   int
	needsMixed bool // 英字・数字・記号をそれぞれ1文字以上
}

var (
	completeProfilePolicy = passwordPolicy{minLen: 8, needsMixed: true}
	basicPolicy           = passwordPolicy{minLen: 6}
	professionalPolicy    = passwordPolicy{minLen: 8}
	emailOnlyPolicy       = passwordPolicy{exactLen: 6}
	socialPolicy          = passwordPolicy{minLen: 6}
	otpVerifiedPolicy     = passwordPolicy{minLen: 6}
)

func (p passwordPolicy) check(password string) error {
	n := utf8.RuneCountInString(password)
	if len(password) > credential.MaxPasswordBytes {
		return model.NewWeakPasswordError(fmt.Sprintf("%dバイト以下で入力してください", credential.MaxPasswordBytes))
	}
	if p.exactLen > 0 && n != p.exactLen {
		return model.NewWeakPasswordError(fmt.Sprintf("ちょうど%d文字で入力してください", p.exactLen))
	}
	if n < p.minLen {
		return model.NewWeakPasswordError(fmt.Sprintf("%d文字以上で入力してください", p.minLen))
	}
	if p.needsMixed {
		var letter, digit, symbol bool
		for _, r := range password {
			switch {
			case unicode.IsLetter(r):
				letter = true
			case unicode.IsDigit(r):
				digit = true
			case strings.ContainsRune(passwordSymbols, r):
				symbol = true
			}
		}
		if !letter || !digit || !symbol {
			return model.NewWeakPasswordError("英字・数字・記号（" + passwordSymbols + "）をそれぞれ1文字以上含めてください")
		}
	}
	return nil
}

// checkConfirmation は確認用パスワードが送られた場合に一致を検証する。
func checkConfirmation(password, confirm string) error {
	if confirm != "" && confirm != password {
		return model.NewInvalidFieldError("confirmPassword", "パスワードと一致しません")
	}
	return nil
}

// field は必須チェック対象の項目。
type field struct {
	name  string
	value string
}

// require は空の項目を全て列挙した MissingRequiredField エラーを返す。
func require(fields ...field) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return model.NewMissingRequiredFieldError(missing...)
	}
	return nil
}

// NormalizeEmail はメールアドレスを検証し、照合用の正規形に変換する。
// ローカル部はケースフォールディング、ドメインはIDNAのASCII形式にする。
func NormalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed || addr.Name != "" {
		return "", model.NewInvalidFieldError("email", "メールアドレスの形式ではありません")
	}

	at := strings.LastIndex(trimmed, "@")
	local, domain := trimmed[:at], trimmed[at+1:]

	asciiDomain, err := idna.Lookup.ToASCII(domain)
	if err != nil || asciiDomain == "" {
		return "", model.NewInvalidFieldError("email", "ドメインが不正です")
	}

	return cases.Fold().String(local) + "@" + asciiDomain, nil
}

// normalizeUsername はユーザー名を検証する。空の場合は空文字列を返す。
func normalizeUsername(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", nil
	}
	if n := utf8.RuneCountInString(name); n < 3 || n > 30 {
		return "", model.NewInvalidFieldError("username", "3文字以上30文字以下で入力してください")
	}
	for _, r := range name {
		if !(r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '-')) {
			return "", model.NewInvalidFieldError("username", "英数字と _ . - のみ使用できます")
		}
	}
	return name, nil
}

// normalizePhone は電話番号を検証し、前後の空白を除いた値を返す。
func normalizePhone(raw string) (string, error) {
	phone := strings.TrimSpace(raw)
	digits := 0
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')' || r == '.':
		default:
			return "", model.NewInvalidFieldError("phoneNumber", "使用できない文字が含まれています")
		}
	}
	if digits < 7 || digits > 15 {
		return "", model.NewInvalidFieldError("phoneNumber", "7桁以上15桁以下の番号を入力してください")
	}
	return phone, nil
}

// normalizeGender は性別の選択肢を検証する。
func normalizeGender(raw string) (string, error) {
	g := strings.ToLower(strings.TrimSpace(raw))
	if !genders[g] {
		return "", model.NewInvalidFieldError("gender", "male, female, other, prefer-not-to-say のいずれかを指定してください")
	}
	return g, nil
}

// parseDateOfBirth はYYYY-MM-DD形式の生年月日を解釈する。今日より後の日付は受け付けない。
func parseDateOfBirth(raw string, now time.Time) (*time.Time, error) {
	dob, err := time.Parse(dateOfBirthLayout, strings.TrimSpace(raw))
	if err != nil {
		return nil, model.NewInvalidFieldError("dateOfBirth", "YYYY-MM-DD形式で入力してください")
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if dob.After(today) {
		return nil, model.NewInvalidFieldError("dateOfBirth", "未来の日付は指定できません")
	}
	return &dob, nil
}

// splitFullName は氏名を最初の空白で姓名に分割する。
func splitFullName(full string) (first, last string) {
	first, last, _ = strings.Cut(strings.TrimSpace(full), " ")
	return strings.TrimSpace(first), strings.TrimSpace(last)
}
