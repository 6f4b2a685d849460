//go:build e2e

package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	defaultHTTPBase = "http://localhost:4000"
	defaultGRPCAddr = "localhost:9090"
)

var resetTokenPattern = regexp.MustCompile(`reset your password: ([A-Za-z0-9_-]+)\.`)

type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient() *httpClient {
	return &httpClient{
		baseURL: envOr("AUTH_HTTP_URL", defaultHTTPBase),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c *httpClient) do(t *testing.T, method, path, bearer string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json marshal failed: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("http request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response failed: %v", err)
	}
	return resp, bodyBytes
}

// postJSON waits out the rate limit window once so long flows are not cut short
// by the per-IP budget on /auth.
func (c *httpClient) postJSON(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()

	resp, data := c.do(t, http.MethodPost, path, "", body)
	if resp.StatusCode != http.StatusTooManyRequests {
		return resp, data
	}

	wait, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || wait <= 0 {
		wait = 1
	}
	t.Logf("rate limited on %s, retrying in %ds", path, wait)
	time.Sleep(time.Duration(wait) * time.Second)
	return c.do(t, http.MethodPost, path, "", body)
}

func waitForHTTP(baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}
	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("http service not ready at %s", baseURL)
}

// lastResetToken scans the outbox file for the newest reset mail sent to email.
func lastResetToken(t *testing.T, path, email string) string {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	defer f.Close()

	var token string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry struct {
			To   string `json:"to"`
			Body string `json:"body"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil || entry.To != email {
			continue
		}
		if m := resetTokenPattern.FindStringSubmatch(entry.Body); m != nil {
			token = m[1]
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan outbox: %v", err)
	}
	return token
}

func TestAuthE2E_HTTPFlow(t *testing.T) {
	client := newHTTPClient()
	if err := waitForHTTP(client.baseURL, 30*time.Second); err != nil {
		t.Fatalf("http not ready: %v", err)
	}

	outbox := os.Getenv("AUTH_OUTBOX_FILE")

	state := struct {
		email       string
		password    string
		newPassword string
		userID      uint64
		token       string
		resetToken  string
	}{
		email:       fmt.Sprintf("e2e+%d@example.com", time.Now().UnixNano()),
		password:    "StrongPass1!",
		newPassword: "NewStrongPass1!",
	}

	abort := false
	fail := func(t *testing.T, format string, args ...any) {
		abort = true
		t.Fatalf(format, args...)
	}

	step := func(name string, fn func(t *testing.T)) {
		t.Run(name, func(t *testing.T) {
			if abort {
				t.Skip("previous step failed")
			}
			fn(t)
		})
	}

	step("LoginBeforeRegister", func(t *testing.T) {
		resp, _ := client.postJSON(t, "/auth/login", map[string]string{
			"email":    state.email,
			"password": state.password,
		})
		if resp.StatusCode != http.StatusUnauthorized {
			fail(t, "expected login before register to fail, got %d", resp.StatusCode)
		}
	})

	step("Register", func(t *testing.T) {
		resp, body := client.postJSON(t, "/auth/register", map[string]string{
			"name":     "E2E",
			"email":    state.email,
			"password": state.password,
		})
		if resp.StatusCode != http.StatusOK {
			fail(t, "register status: %d body: %s", resp.StatusCode, string(body))
		}

		var regRes struct {
			OK   bool `json:"ok"`
			User struct {
				ID    uint64 `json:"id"`
				Email string `json:"email"`
			} `json:"user"`
		}
		if err := json.Unmarshal(body, &regRes); err != nil {
			fail(t, "register unmarshal failed: %v", err)
		}
		if !regRes.OK || regRes.User.ID == 0 || regRes.User.Email != state.email {
			fail(t, "unexpected register body: %s", string(body))
		}
		state.userID = regRes.User.ID
	})

	step("RegisterDuplicate", func(t *testing.T) {
		resp, _ := client.postJSON(t, "/auth/register", map[string]string{
			"email":    state.email,
			"password": state.password,
		})
		if resp.StatusCode != http.StatusBadRequest {
			fail(t, "expected duplicate register to fail, got %d", resp.StatusCode)
		}
	})

	step("LoginWrongPassword", func(t *testing.T) {
		resp, _ := client.postJSON(t, "/auth/login", map[string]string{
			"email":    state.email,
			"password": "WrongPass1!",
		})
		if resp.StatusCode != http.StatusUnauthorized {
			fail(t, "expected wrong password to fail, got %d", resp.StatusCode)
		}
	})

	step("Login", func(t *testing.T) {
		resp, body := client.postJSON(t, "/auth/login", map[string]string{
			"email":    state.email,
			"password": state.password,
		})
		if resp.StatusCode != http.StatusOK {
			fail(t, "login status: %d body: %s", resp.StatusCode, string(body))
		}

		var loginRes struct {
			Token     string `json:"token"`
			ExpiresIn int64  `json:"expiresIn"`
		}
		if err := json.Unmarshal(body, &loginRes); err != nil {
			fail(t, "login unmarshal failed: %v", err)
		}
		if loginRes.Token == "" || loginRes.ExpiresIn <= 0 {
			fail(t, "expected token and expiresIn, got %s", string(body))
		}
		state.token = loginRes.Token
	})

	step("Session", func(t *testing.T) {
		resp, body := client.do(t, http.MethodGet, "/auth/session", state.token, nil)
		if resp.StatusCode != http.StatusOK {
			fail(t, "session status: %d body: %s", resp.StatusCode, string(body))
		}

		var sessRes struct {
			User struct {
				ID uint64 `json:"id"`
			} `json:"user"`
		}
		if err := json.Unmarshal(body, &sessRes); err != nil {
			fail(t, "session unmarshal failed: %v", err)
		}
		if sessRes.User.ID != state.userID {
			fail(t, "session user mismatch: %d != %d", sessRes.User.ID, state.userID)
		}
	})

	step("SessionWithoutToken", func(t *testing.T) {
		resp, _ := client.do(t, http.MethodGet, "/auth/session", "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			fail(t, "expected session without token to fail, got %d", resp.StatusCode)
		}
	})

	step("VerifyTwoFactorWithoutChallenge", func(t *testing.T) {
		resp, _ := client.postJSON(t, "/auth/verify-2fa", map[string]any{
			"userId": state.userID,
			"code":   "123456",
		})
		if resp.StatusCode != http.StatusBadRequest {
			fail(t, "expected verify without challenge to fail, got %d", resp.StatusCode)
		}
	})

	step("ForgotPasswordUnknownEmail", func(t *testing.T) {
		resp, body := client.postJSON(t, "/auth/forgot-password", map[string]string{
			"email": "nobody-" + state.email,
		})
		if resp.StatusCode != http.StatusOK {
			fail(t, "forgot password unknown email status: %d body: %s", resp.StatusCode, string(body))
		}
	})

	step("ForgotPassword", func(t *testing.T) {
		resp, body := client.postJSON(t, "/auth/forgot-password", map[string]string{
			"email": state.email,
		})
		if resp.StatusCode != http.StatusOK {
			fail(t, "forgot password status: %d body: %s", resp.StatusCode, string(body))
		}
	})

	step("ResetPasswordWrongToken", func(t *testing.T) {
		resp, _ := client.postJSON(t, "/auth/reset-password", map[string]string{
			"email":       state.email,
			"resetToken":  "not-the-token",
			"newPassword": state.newPassword,
		})
		if resp.StatusCode != http.StatusBadRequest {
			fail(t, "expected wrong reset token to fail, got %d", resp.StatusCode)
		}
	})

	step("ResetPassword", func(t *testing.T) {
		if outbox == "" {
			t.Skip("AUTH_OUTBOX_FILE not set")
		}
		state.resetToken = lastResetToken(t, outbox, state.email)
		if state.resetToken == "" {
			fail(t, "no reset mail for %s in %s", state.email, outbox)
		}

		resp, body := client.postJSON(t, "/auth/reset-password", map[string]string{
			"email":       state.email,
			"resetToken":  state.resetToken,
			"newPassword": state.newPassword,
		})
		if resp.StatusCode != http.StatusOK {
			fail(t, "reset password status: %d body: %s", resp.StatusCode, string(body))
		}
	})

	step("ResetPasswordTokenReuse", func(t *testing.T) {
		if state.resetToken == "" {
			t.Skip("reset token not captured")
		}
		resp, _ := client.postJSON(t, "/auth/reset-password", map[string]string{
			"email":       state.email,
			"resetToken":  state.resetToken,
			"newPassword": "AnotherPass1!",
		})
		if resp.StatusCode != http.StatusBadRequest {
			fail(t, "expected reused reset token to fail, got %d", resp.StatusCode)
		}
	})

	step("LoginWithNewPassword", func(t *testing.T) {
		if state.resetToken == "" {
			t.Skip("reset token not captured")
		}
		resp, _ := client.postJSON(t, "/auth/login", map[string]string{
			"email":    state.email,
			"password": state.password,
		})
		if resp.StatusCode != http.StatusUnauthorized {
			fail(t, "expected old password to fail, got %d", resp.StatusCode)
		}

		resp, body := client.postJSON(t, "/auth/login", map[string]string{
			"email":    state.email,
			"password": state.newPassword,
		})
		if resp.StatusCode != http.StatusOK {
			fail(t, "login with new password status: %d body: %s", resp.StatusCode, string(body))
		}
	})
}

func TestAuthE2E_RateLimit(t *testing.T) {
	client := newHTTPClient()
	if err := waitForHTTP(client.baseURL, 30*time.Second); err != nil {
		t.Fatalf("http not ready: %v", err)
	}

	for i := 0; i < 50; i++ {
		resp, _ := client.do(t, http.MethodPost, "/auth/login", "", map[string]string{})
		if resp.StatusCode == http.StatusTooManyRequests {
			if resp.Header.Get("Retry-After") == "" {
				t.Fatalf("expected Retry-After header on 429")
			}
			return
		}
	}
	t.Fatalf("expected /auth to be rate limited within 50 requests")
}

func TestAuthE2E_GRPCHealth(t *testing.T) {
	conn, err := grpc.NewClient(envOr("AUTH_GRPC_ADDR", defaultGRPCAddr), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc dial failed: %v", err)
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	deadline := time.Now().Add(30 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "credentials.Auth"})
		cancel()
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("grpc health not serving: status=%v err=%v", resp.GetStatus(), err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}
