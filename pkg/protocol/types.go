// Package protocol defines the contract implemented by every
// authentication-protocol executor: the credential model, flow and
// execution result shapes, the Module interface, and the registry that
// resolves a protocol type to a cached executor instance.
package protocol

import (
	"net/http"
	"strconv"
	"time"
)

// Type identifies a protocol family. It is the key under which an
// executor is registered and resolved.
type Type string

// Known protocol types.
const (
	TypeAPIKey            Type = "api_key"
	TypeClientCredentials Type = "client_credentials"
	TypeOAuth2Implicit    Type = "oauth2_implicit"
	TypeSOAP              Type = "soap"
	TypeWebSocket         Type = "websocket"
)

// CredentialBag is an open mapping from field name to value. There is no
// fixed schema across protocols; each executor declares its own field set.
// Values arrive from JSON decoding, so numbers may be float64.
type CredentialBag map[string]any

// String returns the value for key as a string, or "" when absent or not
// a string.
func (b CredentialBag) String(key string) string {
	if v, ok := b[key].(string); ok {
		return v
	}
	return ""
}

// Int64 returns the value for key as an int64, tolerating the numeric
// types JSON decoding produces as well as quoted numbers.
func (b CredentialBag) Int64(key string) (int64, bool) {
	switch v := b[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Bool returns the value for key as a bool, or false when absent.
func (b CredentialBag) Bool(key string) bool {
	v, _ := b[key].(bool)
	return v
}

// Has reports whether key is present with a non-empty value.
func (b CredentialBag) Has(key string) bool {
	v, ok := b[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return s != ""
	}
	return true
}

// Clone returns a shallow copy of the bag.
func (b CredentialBag) Clone() CredentialBag {
	out := make(CredentialBag, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Merge copies every entry of frag into the bag, overwriting existing keys.
func (b CredentialBag) Merge(frag CredentialBag) {
	for k, v := range frag {
		b[k] = v
	}
}

// Capabilities are the static capability flags of an executor.
type Capabilities struct {
	RedirectFlow   bool `json:"redirect_flow"`
	TokenRefresh   bool `json:"token_refresh"`
	Revocation     bool `json:"revocation"`
	Scopes         bool `json:"scopes"`
	PKCE           bool `json:"pkce"`
	RequestSigning bool `json:"request_signing"`
}

// Metadata is the static descriptor of an executor. Immutable once
// constructed.
type Metadata struct {
	Type         Type         `json:"type"`
	DisplayName  string       `json:"display_name"`
	Description  string       `json:"description"`
	Deprecated   bool         `json:"deprecated,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

// ValidationResult is the outcome of credential validation. FieldErrors
// maps a field name to a human-readable problem description.
type ValidationResult struct {
	Valid       bool              `json:"valid"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

// InvalidResult returns a validation result carrying the given field errors.
func InvalidResult(fieldErrors map[string]string) *ValidationResult {
	return &ValidationResult{Valid: false, FieldErrors: fieldErrors}
}

// ValidResult returns a passing validation result.
func ValidResult() *ValidationResult {
	return &ValidationResult{Valid: true}
}

// TokenData is the token material extracted from a completed
// authentication step.
type TokenData struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	// ExpiresAt is the absolute expiry as unix seconds; 0 means the token
	// does not expire (or the provider did not say).
	ExpiresAt int64  `json:"expires_at,omitempty"`
	Scope     string `json:"scope,omitempty"`
	IDToken   string `json:"id_token,omitempty"`
}

// Fragment returns the credential fragment the caller should persist
// after a successful authentication or refresh.
func (t *TokenData) Fragment() CredentialBag {
	frag := CredentialBag{
		"access_token": t.AccessToken,
	}
	if t.TokenType != "" {
		frag["token_type"] = t.TokenType
	}
	if t.ExpiresAt > 0 {
		frag["expires_at"] = t.ExpiresAt
	}
	if t.Scope != "" {
		frag["scope"] = t.Scope
	}
	if t.IDToken != "" {
		frag["id_token"] = t.IDToken
	}
	return frag
}

// FlowKind tags a step in an authentication flow.
type FlowKind string

// Flow step kinds.
const (
	FlowRedirect FlowKind = "redirect"
	FlowCallback FlowKind = "callback"
	FlowComplete FlowKind = "complete"
	FlowError    FlowKind = "error"
)

// FlowResult is one step of a (possibly multi-step) authentication flow.
// A fresh result is produced per Authenticate/HandleCallback call; the
// executor does not persist it.
type FlowResult struct {
	Step        int      `json:"step"`
	TotalSteps  int      `json:"total_steps"`
	Kind        FlowKind `json:"kind"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`

	// RedirectURL is set for redirect steps.
	RedirectURL string `json:"redirect_url,omitempty"`

	// Token is set for complete steps.
	Token *TokenData `json:"token,omitempty"`

	// ErrorCode and ErrorDetail are set for error steps. They never
	// contain secret values.
	ErrorCode   string `json:"error_code,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// ErrorFlow returns an error-variant flow result.
func ErrorFlow(step, total int, code, detail string) *FlowResult {
	return &FlowResult{
		Step:        step,
		TotalSteps:  total,
		Kind:        FlowError,
		Title:       "Authentication failed",
		ErrorCode:   code,
		ErrorDetail: detail,
	}
}

// ExecutionContext is the input to one outbound call. Constructed per
// call by the caller and consumed once.
type ExecutionContext struct {
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	QueryParams map[string]string `json:"query_params,omitempty"`
	Body        any               `json:"body,omitempty"`
	Credentials CredentialBag     `json:"credentials"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
}

// Injection is the output of InjectAuthentication: the headers, query
// parameters, and body fields to add to the outbound request.
type Injection struct {
	Headers     map[string]string `json:"headers,omitempty"`
	QueryParams map[string]string `json:"query_params,omitempty"`
	Body        map[string]any    `json:"body,omitempty"`
}

// ExecutionResult is the normalized outcome of one outbound call.
// Immutable once produced.
type ExecutionResult struct {
	Success    bool        `json:"success"`
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"-"`

	// Body is the JSON-decoded response body, or nil when the body was
	// not valid JSON.
	Body any `json:"body,omitempty"`

	// RawBody is the response body as received.
	RawBody string `json:"raw_body,omitempty"`

	Duration time.Duration `json:"duration"`

	// TokensRefreshed reports whether a refresh-and-retry cycle ran
	// mid-call; UpdatedCredentials carries the fragment to persist.
	TokensRefreshed    bool          `json:"tokens_refreshed,omitempty"`
	UpdatedCredentials CredentialBag `json:"updated_credentials,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
}

// RefreshResult is the outcome of a RefreshTokens call.
type RefreshResult struct {
	Success bool `json:"success"`

	// Updated is the credential fragment to persist on success.
	Updated CredentialBag `json:"updated,omitempty"`

	// RequiresReauth signals that no automatic refresh exists for this
	// protocol and the caller must run the interactive flow again.
	RequiresReauth bool   `json:"requires_reauth,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// RevokeResult is the outcome of a RevokeTokens call. Revocation is
// best-effort; Success is false when no revocation endpoint is
// configured.
type RevokeResult struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// TokenStatus summarizes the token's condition in a health check.
type TokenStatus string

// Token statuses.
const (
	TokenValid   TokenStatus = "valid"
	TokenExpired TokenStatus = "expired"
	TokenMissing TokenStatus = "missing"
	TokenInvalid TokenStatus = "invalid"
)

// HealthStatus is the normalized outcome of a protocol liveness probe.
type HealthStatus struct {
	Healthy     bool          `json:"healthy"`
	TokenStatus TokenStatus   `json:"token_status"`
	Message     string        `json:"message,omitempty"`
	CheckedAt   time.Time     `json:"checked_at"`
	Latency     time.Duration `json:"latency,omitempty"`
}
