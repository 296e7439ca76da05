// Package implicit implements the legacy OAuth2 implicit grant executor.
// The grant is deprecated (OAuth 2.0 Security BCP): tokens travel in the
// redirect fragment and cannot be refreshed. The executor exists for
// providers that still require it; ShouldMigrateToPKCE documents why the
// authorization code flow with PKCE should replace it.
package implicit

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/protocolos/handshake/pkg/errors"
	"github.com/protocolos/handshake/pkg/logger"
	"github.com/protocolos/handshake/pkg/networking"
	"github.com/protocolos/handshake/pkg/protocol"
)

const (
	totalSteps = 3

	// flowTTL bounds how long a started flow stays redeemable. A callback
	// against a stale flow is rejected.
	flowTTL = 10 * time.Minute

	stateBytes = 32
	nonceBytes = 16
)

func init() {
	protocol.Register(protocol.TypeOAuth2Implicit, func() protocol.Module {
		return New()
	})
}

// flowState is the transient state of one authorization flow, scoped to
// this executor instance. A nil pointer means no flow is in progress.
type flowState struct {
	state       string
	nonce       string
	startedAt   time.Time
	redirectURI string
	scope       string
}

// Executor implements protocol.Module for the implicit grant.
type Executor struct {
	client networking.HTTPClient

	mu   sync.Mutex
	flow *flowState
}

// New returns an implicit grant executor using the default HTTP client.
func New() *Executor {
	return &Executor{client: networking.DefaultClient()}
}

// NewWithClient returns an executor with an injected HTTP client.
func NewWithClient(client networking.HTTPClient) *Executor {
	return &Executor{client: client}
}

// Metadata returns the static descriptor.
func (*Executor) Metadata() protocol.Metadata {
	return protocol.Metadata{
		Type:        protocol.TypeOAuth2Implicit,
		DisplayName: "OAuth2 Implicit Grant",
		Description: "Legacy redirect flow returning the access token in the URL fragment",
		Deprecated:  true,
		Capabilities: protocol.Capabilities{
			RedirectFlow: true,
			Scopes:       true,
		},
	}
}

// RequiredFields returns the required credential fields.
func (*Executor) RequiredFields() []protocol.FieldDefinition {
	return []protocol.FieldDefinition{
		{Name: "authorization_url", Type: protocol.FieldString, Required: true,
			Description: "The provider authorization endpoint"},
		{Name: "client_id", Type: protocol.FieldString, Required: true,
			Description: "The OAuth2 client identifier"},
		{Name: "redirect_uri", Type: protocol.FieldString, Required: true,
			Description: "Where the provider redirects with the token fragment"},
	}
}

// OptionalFields returns the optional credential fields.
func (*Executor) OptionalFields() []protocol.FieldDefinition {
	return []protocol.FieldDefinition{
		{Name: "scope", Type: protocol.FieldString, Description: "Space-separated scopes to request"},
		{Name: "response_type", Type: protocol.FieldString, Default: "token",
			Description: "token, or token id_token for OIDC providers"},
	}
}

// ValidateCredentials checks presence and the authorization URL.
func (e *Executor) ValidateCredentials(bag protocol.CredentialBag) *protocol.ValidationResult {
	result := protocol.ValidateRequired(bag, e.RequiredFields())
	if !result.Valid {
		return result
	}
	fieldErrors := make(map[string]string)
	if err := networking.ValidateEndpointURL(bag.String("authorization_url")); err != nil {
		fieldErrors["authorization_url"] = err.Error()
	}
	if _, err := url.Parse(bag.String("redirect_uri")); err != nil {
		fieldErrors["redirect_uri"] = "redirect_uri is not a valid URL"
	}
	if len(fieldErrors) > 0 {
		return protocol.InvalidResult(fieldErrors)
	}
	return protocol.ValidResult()
}

// Authenticate drives the three-step flow: build the authorization
// redirect, wait for the callback, finalize with the token the caller
// obtained from the fragment.
func (e *Executor) Authenticate(_ context.Context, bag protocol.CredentialBag, step int) *protocol.FlowResult {
	switch {
	case step <= 1:
		return e.startAuthorizationFlow(bag)
	case step == 2:
		return &protocol.FlowResult{
			Step:        2,
			TotalSteps:  totalSteps,
			Kind:        protocol.FlowCallback,
			Title:       "Awaiting callback",
			Description: "Complete the authorization in the browser; the provider will redirect with the token in the URL fragment",
		}
	default:
		return e.finalize(bag)
	}
}

// startAuthorizationFlow generates fresh state/nonce, records the
// transient flow state, and builds the provider authorization URL.
func (e *Executor) startAuthorizationFlow(bag protocol.CredentialBag) *protocol.FlowResult {
	if result := e.ValidateCredentials(bag); !result.Valid {
		return protocol.ErrorFlow(1, totalSteps, "invalid_configuration", firstFieldError(result.FieldErrors))
	}

	state, err := randomToken(stateBytes)
	if err != nil {
		return protocol.ErrorFlow(1, totalSteps, "internal", "failed to generate state")
	}
	nonce, err := randomToken(nonceBytes)
	if err != nil {
		return protocol.ErrorFlow(1, totalSteps, "internal", "failed to generate nonce")
	}

	responseType := bag.String("response_type")
	if responseType == "" {
		responseType = "token"
	}
	scope := bag.String("scope")
	redirectURI := bag.String("redirect_uri")

	e.mu.Lock()
	e.flow = &flowState{
		state:       state,
		nonce:       nonce,
		startedAt:   time.Now(),
		redirectURI: redirectURI,
		scope:       scope,
	}
	e.mu.Unlock()

	authURL, err := url.Parse(bag.String("authorization_url"))
	if err != nil {
		return protocol.ErrorFlow(1, totalSteps, "invalid_configuration", "authorization_url is malformed")
	}
	query := authURL.Query()
	query.Set("response_type", responseType)
	query.Set("client_id", bag.String("client_id"))
	query.Set("redirect_uri", redirectURI)
	query.Set("state", state)
	if scope != "" {
		query.Set("scope", scope)
	}
	// The nonce binds an id_token to this flow; send it whenever one was
	// requested.
	if strings.Contains(responseType, "id_token") || hasOpenIDScope(scope) {
		query.Set("nonce", nonce)
	}
	authURL.RawQuery = query.Encode()

	logger.Debugw("authorization flow started", "client_id", bag.String("client_id"))

	return &protocol.FlowResult{
		Step:        1,
		TotalSteps:  totalSteps,
		Kind:        protocol.FlowRedirect,
		Title:       "Authorize in the browser",
		Description: "Open the authorization URL and approve access",
		RedirectURL: authURL.String(),
	}
}

// finalize completes the flow once the caller has merged the callback
// token into the bag.
func (e *Executor) finalize(bag protocol.CredentialBag) *protocol.FlowResult {
	token := bag.String("access_token")
	if token == "" {
		return protocol.ErrorFlow(totalSteps, totalSteps, "no_token",
			"no access token present; complete the redirect and callback first")
	}
	data := &protocol.TokenData{
		AccessToken: token,
		TokenType:   bag.String("token_type"),
		Scope:       bag.String("scope"),
		IDToken:     bag.String("id_token"),
	}
	if expiresAt, ok := bag.Int64("expires_at"); ok {
		data.ExpiresAt = expiresAt
	}
	return &protocol.FlowResult{
		Step:        totalSteps,
		TotalSteps:  totalSteps,
		Kind:        protocol.FlowComplete,
		Title:       "Authentication complete",
		Token:       data,
	}
}

// HandleCallback validates the state parameter against the flow started
// in step 1 and extracts the token material. A state mismatch is treated
// as a potential CSRF: the result is an error and no token is extracted,
// even when an access_token is present in the params.
func (e *Executor) HandleCallback(params map[string]string, expectedState string) *protocol.FlowResult {
	e.mu.Lock()
	flow := e.flow
	e.mu.Unlock()

	if expectedState == "" {
		if flow == nil {
			return protocol.ErrorFlow(2, totalSteps, "no_flow", "no authorization flow in progress")
		}
		expectedState = flow.state
	}
	if flow != nil && time.Since(flow.startedAt) > flowTTL {
		e.clearFlow()
		return protocol.ErrorFlow(2, totalSteps, "flow_expired",
			"the authorization flow is older than 10 minutes; start again")
	}

	if errCode := params["error"]; errCode != "" {
		e.clearFlow()
		detail := params["error_description"]
		if detail == "" {
			detail = "the provider denied the authorization request"
		}
		return protocol.ErrorFlow(2, totalSteps, errCode, detail)
	}

	got := params["state"]
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expectedState)) != 1 {
		// Do not clear the flow: the legitimate callback may still arrive.
		logger.Warn("callback state mismatch; possible CSRF")
		return protocol.ErrorFlow(2, totalSteps, "state_mismatch",
			"the state parameter does not match the value generated for this flow")
	}

	accessToken := params["access_token"]
	if accessToken == "" {
		e.clearFlow()
		return protocol.ErrorFlow(2, totalSteps, "no_token", "the callback carried no access token")
	}

	data := &protocol.TokenData{
		AccessToken: accessToken,
		TokenType:   params["token_type"],
		Scope:       params["scope"],
		IDToken:     params["id_token"],
	}
	if expiresIn, err := strconv.ParseInt(params["expires_in"], 10, 64); err == nil {
		data.ExpiresAt = protocol.ExpiresAtFromLifetime(expiresIn)
	}

	e.clearFlow()

	return &protocol.FlowResult{
		Step:        totalSteps,
		TotalSteps:  totalSteps,
		Kind:        protocol.FlowComplete,
		Title:       "Authentication complete",
		Token:       data,
	}
}

func (e *Executor) clearFlow() {
	e.mu.Lock()
	e.flow = nil
	e.mu.Unlock()
}

// InjectAuthentication adds the fragment-delivered token as a bearer
// header.
func (*Executor) InjectAuthentication(execCtx *protocol.ExecutionContext) (*protocol.Injection, error) {
	token := execCtx.Credentials.String("access_token")
	if token == "" {
		return nil, errors.NewConfigurationError("no access token present; authenticate first", nil)
	}
	tokenType := execCtx.Credentials.String("token_type")
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &protocol.Injection{
		Headers: map[string]string{"Authorization": tokenType + " " + token},
	}, nil
}

// ExecuteRequest performs the outbound call. The implicit grant has no
// refresh path, so a 401 is terminal for the call.
func (e *Executor) ExecuteRequest(ctx context.Context, execCtx *protocol.ExecutionContext) *protocol.ExecutionResult {
	return protocol.ExecutePipeline(ctx, e.client, execCtx, e.InjectAuthentication, nil)
}

// RefreshTokens always fails: the implicit grant issues no refresh
// token. The caller must run the interactive flow again.
func (*Executor) RefreshTokens(context.Context, protocol.CredentialBag) *protocol.RefreshResult {
	return &protocol.RefreshResult{
		Success:        false,
		RequiresReauth: true,
		ErrorMessage:   "the implicit grant has no refresh token; re-authenticate interactively",
	}
}

// RevokeTokens reports that no revocation endpoint is part of the flow.
func (*Executor) RevokeTokens(context.Context, protocol.CredentialBag) *protocol.RevokeResult {
	return &protocol.RevokeResult{
		Success:      false,
		ErrorMessage: "no revocation endpoint configured for the implicit grant",
	}
}

// IsTokenExpired applies the shared safety-buffer expiry check.
func (*Executor) IsTokenExpired(bag protocol.CredentialBag) bool {
	return protocol.IsTokenExpired(bag)
}

// TokenExpirationTime returns the stored expiry.
func (*Executor) TokenExpirationTime(bag protocol.CredentialBag) (time.Time, bool) {
	return protocol.TokenExpirationTime(bag)
}

// HealthCheck derives token health from the stored expiry. There is no
// introspection in the implicit grant.
func (*Executor) HealthCheck(_ context.Context, bag protocol.CredentialBag) *protocol.HealthStatus {
	now := time.Now()
	if bag.String("access_token") == "" {
		return &protocol.HealthStatus{
			Healthy:     false,
			TokenStatus: protocol.TokenMissing,
			Message:     "no access token; run the authorization flow",
			CheckedAt:   now,
		}
	}
	if protocol.IsTokenExpired(bag) {
		return &protocol.HealthStatus{
			Healthy:     false,
			TokenStatus: protocol.TokenExpired,
			Message:     "token is expired or within the expiry buffer; re-authentication required",
			CheckedAt:   now,
		}
	}
	return &protocol.HealthStatus{
		Healthy:     true,
		TokenStatus: protocol.TokenValid,
		Message:     "token is within its lifetime",
		CheckedAt:   now,
	}
}

// ShouldMigrateToPKCE returns the security rationale for replacing the
// implicit grant with the authorization code flow + PKCE. Informational
// only; nothing gates on it.
func ShouldMigrateToPKCE() []string {
	return []string{
		"the access token is exposed in the redirect URL fragment and can leak via browser history and referrers",
		"no refresh token is issued, forcing frequent re-authorization",
		"the OAuth 2.0 Security Best Current Practice deprecates the implicit grant",
		"the authorization code flow with PKCE works for public clients without a client secret",
	}
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hasOpenIDScope(scope string) bool {
	for _, s := range strings.Fields(scope) {
		if s == "openid" {
			return true
		}
	}
	return false
}

func firstFieldError(fieldErrors map[string]string) string {
	for _, msg := range fieldErrors {
		return msg
	}
	return "invalid credentials"
}
