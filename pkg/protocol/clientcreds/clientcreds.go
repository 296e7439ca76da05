// Package clientcreds implements the OAuth2 client credentials grant
// executor for machine-to-machine authentication. It supports the four
// standard client authentication methods and coalesces concurrent token
// refreshes into a single in-flight request.
package clientcreds

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/protocolos/handshake/pkg/errors"
	"github.com/protocolos/handshake/pkg/logger"
	"github.com/protocolos/handshake/pkg/networking"
	"github.com/protocolos/handshake/pkg/protocol"
)

// Client authentication methods.
const (
	AuthBasic         = "client_secret_basic"
	AuthPost          = "client_secret_post"
	AuthSecretJWT     = "client_secret_jwt"
	AuthPrivateKeyJWT = "private_key_jwt"
)

func init() {
	protocol.Register(protocol.TypeClientCredentials, func() protocol.Module {
		return New()
	})
}

// Executor implements protocol.Module for the client credentials grant.
// The singleflight group guarantees at most one in-flight token request
// per executor instance.
type Executor struct {
	client networking.HTTPClient
	group  singleflight.Group
}

// New returns a client credentials executor using the default HTTP client.
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
		Type:        protocol.TypeClientCredentials,
		DisplayName: "OAuth2 Client Credentials",
		Description: "Machine-to-machine OAuth2 grant with confidential client authentication",
		Capabilities: protocol.Capabilities{
			TokenRefresh:   true,
			Revocation:     true,
			Scopes:         true,
			RequestSigning: true,
		},
	}
}

// RequiredFields returns the required credential fields.
func (*Executor) RequiredFields() []protocol.FieldDefinition {
	needsSecret := func(bag protocol.CredentialBag) bool {
		return bag.String("client_auth_method") != AuthPrivateKeyJWT
	}
	needsKey := func(bag protocol.CredentialBag) bool {
		return bag.String("client_auth_method") == AuthPrivateKeyJWT
	}
	return []protocol.FieldDefinition{
		{Name: "token_url", Type: protocol.FieldString, Required: true,
			Description: "The provider token endpoint"},
		{Name: "client_id", Type: protocol.FieldString, Required: true,
			Description: "The OAuth2 client identifier"},
		{Name: "client_secret", Type: protocol.FieldString, Required: true, Sensitive: true,
			Description: "The client secret", VisibleWhen: needsSecret},
		{Name: "private_key", Type: protocol.FieldString, Required: true, Sensitive: true,
			Description: "RSA private key in PKCS8 PEM form", VisibleWhen: needsKey},
	}
}

// OptionalFields returns the optional credential fields.
func (*Executor) OptionalFields() []protocol.FieldDefinition {
	return []protocol.FieldDefinition{
		{Name: "client_auth_method", Type: protocol.FieldString, Default: AuthBasic,
			Description: "How the client authenticates to the token endpoint"},
		{Name: "scope", Type: protocol.FieldString, Description: "Space-separated scopes to request"},
		{Name: "audience", Type: protocol.FieldString, Description: "Token audience parameter"},
		{Name: "resource", Type: protocol.FieldString, Description: "RFC 8707 resource indicator"},
		{Name: "key_id", Type: protocol.FieldString,
			Description: "kid header for private_key_jwt assertions"},
		{Name: "introspection_url", Type: protocol.FieldString,
			Description: "RFC 7662 introspection endpoint"},
		{Name: "revocation_url", Type: protocol.FieldString,
			Description: "RFC 7009 revocation endpoint"},
	}
}

// ValidateCredentials checks presence and the auth method value.
func (e *Executor) ValidateCredentials(bag protocol.CredentialBag) *protocol.ValidationResult {
	result := protocol.ValidateRequired(bag, e.RequiredFields())
	if !result.Valid {
		return result
	}

	fieldErrors := make(map[string]string)
	switch m := bag.String("client_auth_method"); m {
	case "", AuthBasic, AuthPost, AuthSecretJWT, AuthPrivateKeyJWT:
	default:
		fieldErrors["client_auth_method"] = fmt.Sprintf("unknown client auth method %q", m)
	}
	if err := networking.ValidateEndpointURL(bag.String("token_url")); err != nil {
		fieldErrors["token_url"] = err.Error()
	}
	if len(fieldErrors) > 0 {
		return protocol.InvalidResult(fieldErrors)
	}
	return protocol.ValidResult()
}

// tokenResponse is the token endpoint's JSON body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

// oauthErrorResponse is the standard OAuth2 error body.
type oauthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// requestToken performs one token request against the token endpoint.
func (e *Executor) requestToken(ctx context.Context, bag protocol.CredentialBag) (*protocol.TokenData, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if scope := bag.String("scope"); scope != "" {
		form.Set("scope", scope)
	}
	if audience := bag.String("audience"); audience != "" {
		form.Set("audience", audience)
	}
	if resource := bag.String("resource"); resource != "" {
		form.Set("resource", resource)
	}

	opts := []networking.FetchOption{
		networking.WithErrorHandler(oauthErrorHandler),
	}

	clientID := bag.String("client_id")
	switch method := bag.String("client_auth_method"); method {
	case "", AuthBasic:
		opts = append(opts, networking.WithBasicAuth(clientID, bag.String("client_secret")))
	case AuthPost:
		form.Set("client_id", clientID)
		form.Set("client_secret", bag.String("client_secret"))
	case AuthSecretJWT, AuthPrivateKeyJWT:
		assertion, err := buildClientAssertion(bag)
		if err != nil {
			return nil, err
		}
		form.Set("client_id", clientID)
		form.Set("client_assertion_type", assertionType)
		form.Set("client_assertion", assertion)
	default:
		return nil, errors.NewConfigurationError(fmt.Sprintf("unknown client auth method %q", method), nil)
	}

	result, err := networking.FetchJSONWithForm[tokenResponse](ctx, e.client, bag.String("token_url"), form, opts...)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	if result.Data.AccessToken == "" {
		return nil, errors.NewAuthenticationError("token endpoint returned no access_token", nil)
	}

	logger.Debugw("token obtained",
		"token_url", bag.String("token_url"),
		"expires_in", result.Data.ExpiresIn,
	)

	return &protocol.TokenData{
		AccessToken: result.Data.AccessToken,
		TokenType:   defaultTokenType(result.Data.TokenType),
		ExpiresAt:   protocol.ExpiresAtFromLifetime(result.Data.ExpiresIn),
		Scope:       result.Data.Scope,
	}, nil
}

// oauthErrorHandler maps an OAuth error body to an authentication error.
// The provider's error code is preserved; the description may mention
// the client_id but never the secret.
func oauthErrorHandler(resp *http.Response, body []byte) error {
	var oauthErr oauthErrorResponse
	if err := decodeJSON(body, &oauthErr); err != nil || oauthErr.Error == "" {
		return nil // fall back to the generic HTTP error
	}
	msg := oauthErr.Error
	if oauthErr.ErrorDescription != "" {
		msg = fmt.Sprintf("%s: %s", oauthErr.Error, oauthErr.ErrorDescription)
	}
	return errors.NewAuthenticationError(fmt.Sprintf("token endpoint returned %d: %s", resp.StatusCode, msg), nil)
}

func defaultTokenType(tokenType string) string {
	if tokenType == "" {
		return "Bearer"
	}
	return tokenType
}

// Authenticate is a single-step flow that performs a live token request.
func (e *Executor) Authenticate(ctx context.Context, bag protocol.CredentialBag, _ int) *protocol.FlowResult {
	if result := e.ValidateCredentials(bag); !result.Valid {
		return protocol.ErrorFlow(1, 1, "invalid_configuration", firstFieldError(result.FieldErrors))
	}

	token, err := e.requestToken(ctx, bag)
	if err != nil {
		return protocol.ErrorFlow(1, 1, "token_request_failed", err.Error())
	}

	return &protocol.FlowResult{
		Step:        1,
		TotalSteps:  1,
		Kind:        protocol.FlowComplete,
		Title:       "Token obtained",
		Description: "Client credentials grant completed",
		Token:       token,
	}
}

// HandleCallback is not applicable: there is no redirect flow.
func (*Executor) HandleCallback(map[string]string, string) *protocol.FlowResult {
	return protocol.ErrorFlow(1, 1, "unsupported", "client credentials authentication has no callback step")
}

// InjectAuthentication adds the cached access token as a bearer header.
func (*Executor) InjectAuthentication(execCtx *protocol.ExecutionContext) (*protocol.Injection, error) {
	bag := execCtx.Credentials
	token := bag.String("access_token")
	if token == "" {
		return nil, errors.NewConfigurationError("no access token present; authenticate first", nil)
	}
	tokenType := defaultTokenType(bag.String("token_type"))
	return &protocol.Injection{
		Headers: map[string]string{"Authorization": tokenType + " " + token},
	}, nil
}

// ExecuteRequest performs the outbound call with one refresh-and-retry
// cycle on a 401.
func (e *Executor) ExecuteRequest(ctx context.Context, execCtx *protocol.ExecutionContext) *protocol.ExecutionResult {
	refresh := func(ctx context.Context) *protocol.RefreshResult {
		return e.RefreshTokens(ctx, execCtx.Credentials)
	}
	return protocol.ExecutePipeline(ctx, e.client, execCtx, e.InjectAuthentication, refresh)
}

// RefreshTokens requests a fresh token. Concurrent calls for the same
// client while a token request is in flight share the single underlying
// request rather than issuing duplicates; the executor is a singleton,
// so the key carries the token endpoint and client id to keep different
// credential bags from coalescing into each other's token.
func (e *Executor) RefreshTokens(ctx context.Context, bag protocol.CredentialBag) *protocol.RefreshResult {
	key := bag.String("token_url") + "\x00" + bag.String("client_id")
	v, err, shared := e.group.Do(key, func() (any, error) {
		return e.requestToken(ctx, bag)
	})
	if err != nil {
		return &protocol.RefreshResult{Success: false, ErrorMessage: err.Error()}
	}
	if shared {
		logger.Debug("token refresh coalesced with an in-flight request")
	}
	token := v.(*protocol.TokenData)
	return &protocol.RefreshResult{Success: true, Updated: token.Fragment()}
}

// IntrospectionResult is the RFC 7662 response body. Only the fields
// the health check consumes are decoded.
type IntrospectionResult struct {
	Active bool   `json:"active"`
	Exp    int64  `json:"exp"`
	Scope  string `json:"scope"`
}

// IntrospectToken calls the configured introspection endpoint with Basic
// client authentication.
func (e *Executor) IntrospectToken(ctx context.Context, bag protocol.CredentialBag) (*IntrospectionResult, error) {
	endpoint := bag.String("introspection_url")
	if endpoint == "" {
		return nil, errors.NewNotConfiguredError("no introspection endpoint configured", nil)
	}
	token := bag.String("access_token")
	if token == "" {
		return nil, errors.NewConfigurationError("no access token to introspect", nil)
	}

	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", "access_token")

	result, err := networking.FetchJSONWithForm[IntrospectionResult](
		ctx, e.client, endpoint, form,
		networking.WithBasicAuth(bag.String("client_id"), bag.String("client_secret")),
	)
	if err != nil {
		return nil, fmt.Errorf("introspection request failed: %w", err)
	}
	return &result.Data, nil
}

// RevokeTokens calls the configured revocation endpoint. Without one the
// result is an explicit "not configured" failure, never a silent no-op.
func (e *Executor) RevokeTokens(ctx context.Context, bag protocol.CredentialBag) *protocol.RevokeResult {
	endpoint := bag.String("revocation_url")
	if endpoint == "" {
		return &protocol.RevokeResult{
			Success:      false,
			ErrorMessage: "no revocation endpoint configured",
		}
	}
	token := bag.String("access_token")
	if token == "" {
		return &protocol.RevokeResult{Success: false, ErrorMessage: "no access token to revoke"}
	}

	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", "access_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		formReader(form))
	if err != nil {
		return &protocol.RevokeResult{Success: false, ErrorMessage: err.Error()}
	}
	req.Header.Set("Content-Type", networking.ContentTypeFormURLEncoded)
	req.SetBasicAuth(bag.String("client_id"), bag.String("client_secret"))

	resp, err := e.client.Do(req)
	if err != nil {
		return &protocol.RevokeResult{Success: false, ErrorMessage: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	// RFC 7009: 200 regardless of whether the token was known.
	if resp.StatusCode != http.StatusOK {
		return &protocol.RevokeResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("revocation endpoint returned HTTP %d", resp.StatusCode),
		}
	}
	return &protocol.RevokeResult{Success: true}
}

// IsTokenExpired applies the shared safety-buffer expiry check.
func (*Executor) IsTokenExpired(bag protocol.CredentialBag) bool {
	return protocol.IsTokenExpired(bag)
}

// TokenExpirationTime returns the stored expiry.
func (*Executor) TokenExpirationTime(bag protocol.CredentialBag) (time.Time, bool) {
	return protocol.TokenExpirationTime(bag)
}

// HealthCheck introspects the cached token when an introspection
// endpoint is configured; otherwise it falls back to the stored expiry.
func (e *Executor) HealthCheck(ctx context.Context, bag protocol.CredentialBag) *protocol.HealthStatus {
	now := time.Now()
	if bag.String("access_token") == "" {
		return &protocol.HealthStatus{
			Healthy:     false,
			TokenStatus: protocol.TokenMissing,
			Message:     "no access token cached; authenticate first",
			CheckedAt:   now,
		}
	}

	if bag.String("introspection_url") != "" {
		start := time.Now()
		introspection, err := e.IntrospectToken(ctx, bag)
		latency := time.Since(start)
		if err != nil {
			return &protocol.HealthStatus{
				Healthy:     false,
				TokenStatus: protocol.TokenInvalid,
				Message:     err.Error(),
				CheckedAt:   now,
				Latency:     latency,
			}
		}
		if !introspection.Active {
			return &protocol.HealthStatus{
				Healthy:     false,
				TokenStatus: protocol.TokenExpired,
				Message:     "introspection reports the token inactive",
				CheckedAt:   now,
				Latency:     latency,
			}
		}
		return &protocol.HealthStatus{
			Healthy:     true,
			TokenStatus: protocol.TokenValid,
			Message:     "introspection reports the token active",
			CheckedAt:   now,
			Latency:     latency,
		}
	}

	if protocol.IsTokenExpired(bag) {
		return &protocol.HealthStatus{
			Healthy:     false,
			TokenStatus: protocol.TokenExpired,
			Message:     "cached token is expired or within the expiry buffer",
			CheckedAt:   now,
		}
	}
	return &protocol.HealthStatus{
		Healthy:     true,
		TokenStatus: protocol.TokenValid,
		Message:     "cached token is within its lifetime",
		CheckedAt:   now,
	}
}

func firstFieldError(fieldErrors map[string]string) string {
	for _, msg := range fieldErrors {
		return msg
	}
	return "invalid credentials"
}
