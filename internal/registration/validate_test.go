package registration

import (
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/accountd/internal/model"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "小文字化", input: "  Alice@Example.COM ", want: "alice@example.com"},
		{name: "国際化ドメイン", input: "user@bücher.example", want: "user@xn--bcher-kva.example"},
		{name: "表示名付きは拒否", input: "Alice <alice@example.com>", wantErr: true},
		{name: "@なし", input: "alice.example.com", wantErr: true},
		{name: "空文字列", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeEmail(tt.input)
			if tt.wantErr {
				if !model.HasCode(err, model.ErrCodeInvalidField) {
					t.Fatalf("NormalizeEmail(%q) error = %v, want INVALID_FIELD", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeEmail(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestPasswordPolicy(t *testing.T) {
	tests := []struct {
		name     string
		policy   passwordPolicy
		password string
		wantErr  bool
	}{
		{"complete ok", completeProfilePolicy, "abc123!x", false},
		{"complete no symbol", completeProfilePolicy, "abc12345", true},
		{"complete no digit", completeProfilePolicy, "abcdefg!", true},
		{"complete too short", completeProfilePolicy, "a1!", true},
		{"basic min", basicPolicy, "abcdef", false},
		{"basic short", basicPolicy, "abcde", true},
		{"professional short", professionalPolicy, "abcdefg", true},
		{"email only exact", emailOnlyPolicy, "123456", false},
		{"email only long", emailOnlyPolicy, "1234567", true},
		{"too many bytes", basicPolicy, strings.Repeat("a", 73), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.check(tt.password)
			if tt.wantErr != (err != nil) {
				t.Fatalf("check(%q) error = %v, wantErr %v", tt.password, err, tt.wantErr)
			}
			if err != nil && !model.HasCode(err, model.ErrCodeWeakPassword) {
				t.Errorf("check(%q) error = %v, want WEAK_PASSWORD", tt.password, err)
			}
		})
	}
}

func TestNormalizeUsername(t *testing.T) {
	valid := []string{"", "abc", "a.b-c_d", strings.Repeat("x", 30)}
	for _, name := range valid {
		if _, err := normalizeUsername(name); err != nil {
			t.Errorf("normalizeUsername(%q) error = %v", name, err)
		}
	}

	invalid := []string{"ab", strings.Repeat("x", 31), "has space", "ユーザー名", "semi;colon"}
	for _, name := range invalid {
		if _, err := normalizeUsername(name); !model.HasCode(err, model.ErrCodeInvalidField) {
			t.Errorf("normalizeUsername(%q) error = %v, want INVALID_FIELD", name, err)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	valid := []string{"+1 (555) 010-0199", "03.1234.5678", "1234567"}
	for _, phone := range valid {
		if _, err := normalizePhone(phone); err != nil {
			t.Errorf("normalizePhone(%q) error = %v", phone, err)
		}
	}

	invalid := []string{"123456", "1234567890123456", "555-CALL-NOW", ""}
	for _, phone := range invalid {
		if _, err := normalizePhone(phone); err == nil {
			t.Errorf("normalizePhone(%q) error = nil, want error", phone)
		}
	}
}

func TestNormalizeGender(t *testing.T) {
	if g, err := normalizeGender(" Prefer-Not-To-Say "); err != nil || g != "prefer-not-to-say" {
		t.Errorf("normalizeGender() = %q, %v", g, err)
	}
	if _, err := normalizeGender("unknown"); err == nil {
		t.Error("normalizeGender(unknown) error = nil, want error")
	}
}

func TestParseDateOfBirth(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)

	if _, err := parseDateOfBirth("2026-03-01", now); err != nil {
		t.Errorf("today error = %v", err)
	}
	if _, err := parseDateOfBirth("2026-03-02", now); err == nil {
		t.Error("future date error = nil, want error")
	}
	if _, err := parseDateOfBirth("01/03/1990", now); err == nil {
		t.Error("wrong layout error = nil, want error")
	}
}

func TestSplitFullName(t *testing.T) {
	tests := []struct {
		input     string
		wantFirst string
		wantLast  string
	}{
		{"Ada Lovelace", "Ada", "Lovelace"},
		{"Jean Luc Picard", "Jean", "Luc Picard"},
		{"  Cher  ", "Cher", ""},
	}

	for _, tt := range tests {
		first, last := splitFullName(tt.input)
		if first != tt.wantFirst || last != tt.wantLast {
			t.Errorf("splitFullName(%q) = %q, %q; want %q, %q", tt.input, first, last, tt.wantFirst, tt.wantLast)
		}
	}
}

func TestRequire(t *testing.T) {
	err := require(field{"email", "a@example.com"}, field{"password", " "}, field{"phoneNumber", ""})
	if !model.HasCode(err, model.ErrCodeMissingRequiredField) {
		t.Fatalf("require() error = %v, want MISSING_REQUIRED_FIELD", err)
	}
	if !strings.Contains(err.Error(), "password, phoneNumber") {
		t.Errorf("require() error = %v, want both missing fields listed", err)
	}
}

func TestDecode_WeakTyping(t *testing.T) {
	in, err := Decode(model.ModuleBasic, map[string]any{
		"fullName":    "Ada Lovelace",
		"phoneNumber": 5550100199,
		"unknown":     true,
	})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	basic, ok := in.(*BasicInput)
	if !ok {
		t.Fatalf("Decode() type = %T, want *BasicInput", in)
	}
	if basic.PhoneNumber != "5550100199" {
		t.Errorf("PhoneNumber = %q, want %q", basic.PhoneNumber, "5550100199")
	}
}
