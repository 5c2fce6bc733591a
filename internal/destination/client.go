// Package destination implements the single-responsibility HTTP call to a
// customer-owned endpoint: header construction, auth signing, a hard
// per-call timeout, and response capture.
package destination

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxCapturedBody = 2000

// AuthType is the closed set of destination authentication kinds.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthHMAC   AuthType = "hmac"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthAPIKey AuthType = "api_key"
)

// Method is the closed set of HTTP methods a Destination may use.
type Method string

const (
	MethodPOST  Method = "POST"
	MethodPUT   Method = "PUT"
	MethodPATCH Method = "PATCH"
)

// AuthConfig holds the credentials for whichever AuthType a Destination
// uses. Only the fields relevant to the active type are read.
type AuthConfig struct {
	Token      string `json:"token,omitempty"`       // bearer
	Username   string `json:"username,omitempty"`     // basic
	Password   string `json:"password,omitempty"`     // basic
	HeaderName string `json:"header_name,omitempty"`  // api_key
	APIKey     string `json:"api_key,omitempty"`      // api_key
	Secret     string `json:"secret,omitempty"`        // hmac
}

// Destination is the subset of the Destination entity the client needs to
// make a call; the repository layer owns the rest (name, soft-delete, etc).
type Destination struct {
	ID         string
	URL        string
	Method     Method
	Headers    map[string]string
	AuthType   AuthType
	AuthConfig AuthConfig
	TimeoutMS  int
}

// AttemptResult captures everything the Event Store needs to record a
// DeliveryAttempt from a single call.
type AttemptResult struct {
	Success      bool
	StatusCode   int
	ResponseBody string
	ErrorMessage string
	DurationMS   int64
}

// Client performs HTTP calls to customer destinations.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// NewClient builds a Client. Each call carries a context deadline derived
// from the Destination's TimeoutMS, so a shared client can serve
// destinations with different timeouts; a Timeout set on the supplied
// http.Client still applies as well, and the shorter of the two ends a call.
func NewClient(base *http.Client, userAgent string) *Client {
	if base == nil {
		base = &http.Client{}
	}
	if userAgent == "" {
		userAgent = "metahub-integrationhub/1.0"
	}
	return &Client{httpClient: base, userAgent: userAgent}
}

// Call performs a single HTTP call to dest with the given serialized body.
// eventID and attemptNumber populate the X-MetaHub-* tracing headers. Call
// never returns a Go error for network/timeout/non-2xx failures — those are
// reported through AttemptResult.Success/ErrorMessage so the caller can
// always record a DeliveryAttempt. A non-nil error return means the request
// could not even be constructed (malformed destination configuration).
func (c *Client) Call(ctx context.Context, dest Destination, body []byte, eventID string, attemptNumber int) (AttemptResult, error) {
	timeout := time.Duration(dest.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := string(dest.Method)
	if method == "" {
		method = string(MethodPOST)
	}

	req, err := http.NewRequestWithContext(callCtx, method, dest.URL, bytes.NewReader(body))
	if err != nil {
		return AttemptResult{}, fmt.Errorf("destination: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-MetaHub-Event-Id", eventID)
	req.Header.Set("X-MetaHub-Attempt", fmt.Sprintf("%d", attemptNumber))
	for k, v := range dest.Headers {
		req.Header.Set(k, v)
	}
	if err := applyAuth(req, dest, body); err != nil {
		return AttemptResult{}, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return AttemptResult{
			Success:      false,
			ErrorMessage: categorizeNetworkError(err, callCtx, timeout),
			DurationMS:   elapsed.Milliseconds(),
		}, nil
	}
	defer resp.Body.Close()

	captured, _ := io.ReadAll(io.LimitReader(resp.Body, maxCapturedBody))
	result := AttemptResult{
		Success:      resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode:   resp.StatusCode,
		ResponseBody: string(captured),
		DurationMS:   elapsed.Milliseconds(),
	}
	if !result.Success {
		result.ErrorMessage = fmt.Sprintf("destination responded with status %d", resp.StatusCode)
	}
	return result, nil
}

func applyAuth(req *http.Request, dest Destination, body []byte) error {
	switch dest.AuthType {
	case "", AuthNone:
		return nil
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+dest.AuthConfig.Token)
	case AuthBasic:
		req.SetBasicAuth(dest.AuthConfig.Username, dest.AuthConfig.Password)
	case AuthAPIKey:
		name := dest.AuthConfig.HeaderName
		if name == "" {
			name = "X-API-Key"
		}
		req.Header.Set(name, dest.AuthConfig.APIKey)
	case AuthHMAC:
		mac := hmac.New(sha256.New, []byte(dest.AuthConfig.Secret))
		mac.Write(body)
		sig := hex.EncodeToString(mac.Sum(nil))
		req.Header.Set("X-Hub-Signature-256", "sha256="+sig)
	default:
		return fmt.Errorf("destination: unknown auth_type %q", dest.AuthType)
	}
	return nil
}

// categorizeNetworkError turns a transport-level error into the message
// recorded on the DeliveryAttempt. A call that hit its per-call deadline
// (dest.TimeoutMS, or an earlier deadline on the caller's context) is
// reported as "Timeout after Xms" regardless of which underlying wrapped
// error net/http surfaces, matching the status_code=null/timeout contract.
// A plain cancellation of the caller's context is reported as a network error.
func categorizeNetworkError(err error, callCtx context.Context, timeout time.Duration) string {
	if callCtx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Timeout after %dms", timeout.Milliseconds())
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded"):
		return fmt.Sprintf("Timeout after %dms", timeout.Milliseconds())
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host"):
		return "destination unreachable: " + err.Error()
	default:
		return "network error: " + err.Error()
	}
}

// NewAttemptID produces a correlation id suitable for X-MetaHub-Event-Id
// when the caller needs one independent of the DeliveryEvent's own id (the
// test() dry-run path, for example).
func NewAttemptID() string {
	return uuid.NewString()
}

// Base64Basic is exposed for callers that need to pre-compute a Basic auth
// header outside of Call (e.g. displaying it in a destination preview UI).
func Base64Basic(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
