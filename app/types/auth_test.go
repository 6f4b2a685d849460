package types

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newJSONContext(body string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestNewVerifyTwoFactorRequestFromContext(t *testing.T) {
	req, err := NewVerifyTwoFactorRequestFromContext(newJSONContext(`{"userId":7,"code":"123456"}`))
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if req.UserID != 7 || req.Code != "123456" {
		t.Fatalf("unexpected request %+v", req)
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestNewResetPasswordRequestFromContext(t *testing.T) {
	req, err := NewResetPasswordRequestFromContext(newJSONContext(`{"email":"a@x.com","resetToken":"tok","newPassword":"secret2"}`))
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if req.Email != "a@x.com" || req.ResetToken != "tok" || req.NewPassword != "secret2" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestBindRejectsMalformedJSON(t *testing.T) {
	if _, err := NewLoginRequestFromContext(newJSONContext(`{"email":`)); err == nil {
		t.Fatalf("expected bind error")
	}
	if _, err := NewVerifyTwoFactorRequestFromContext(newJSONContext(`{"userId":"abc"}`)); err == nil {
		t.Fatalf("expected bind error for non-numeric userId")
	}
}

func TestValidateMissingFields(t *testing.T) {
	cases := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"register no email", &RegisterRequest{Password: "secret1"}},
		{"register blank email", &RegisterRequest{Email: "  ", Password: "secret1"}},
		{"register no password", &RegisterRequest{Email: "a@x.com"}},
		{"login no password", &LoginRequest{Email: "a@x.com"}},
		{"verify no user", &VerifyTwoFactorRequest{Code: "123456"}},
		{"verify no code", &VerifyTwoFactorRequest{UserID: 1}},
		{"forgot no email", &ForgotPasswordRequest{}},
		{"reset no token", &ResetPasswordRequest{Email: "a@x.com", NewPassword: "x"}},
		{"reset no password", &ResetPasswordRequest{Email: "a@x.com", ResetToken: "tok"}},
	}

	for _, tc := range cases {
		if err := tc.v.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestValidateAcceptsMissingName(t *testing.T) {
	req := &RegisterRequest{Email: "a@x.com", Password: "secret1"}
	if err := req.Validate(); err != nil {
		t.Fatalf("name is optional, got %v", err)
	}
}
