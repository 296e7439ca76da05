// Package soap implements the SOAP web service executor: envelope
// construction for SOAP 1.1 and 1.2, WS-Security UsernameToken,
// transport-level Basic and Bearer auth, and fault detection.
package soap

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/protocolos/handshake/pkg/errors"
	"github.com/protocolos/handshake/pkg/logger"
	"github.com/protocolos/handshake/pkg/networking"
	"github.com/protocolos/handshake/pkg/protocol"
)

// Authentication methods.
const (
	AuthNone       = "none"
	AuthWSSecurity = "ws_security"
	AuthBasic      = "basic"
	AuthBearer     = "bearer"
	AuthCustom     = "custom_header"
)

// maxResponseSize caps how much of a SOAP response is read.
const maxResponseSize = 4 * 1024 * 1024

func init() {
	protocol.Register(protocol.TypeSOAP, func() protocol.Module {
		return New()
	})
}

// Executor implements protocol.Module for SOAP endpoints.
type Executor struct {
	client networking.HTTPClient
}

// New returns a SOAP executor using the default HTTP client.
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
		Type:        protocol.TypeSOAP,
		DisplayName: "SOAP / WS-Security",
		Description: "SOAP 1.1 and 1.2 envelopes with WS-Security UsernameToken or transport-level auth",
		Capabilities: protocol.Capabilities{
			RequestSigning: true,
		},
	}
}

// RequiredFields returns the required credential fields.
func (*Executor) RequiredFields() []protocol.FieldDefinition {
	return []protocol.FieldDefinition{
		{Name: "endpoint_url", Type: protocol.FieldString, Required: true,
			Description: "The SOAP service endpoint"},
	}
}

// OptionalFields returns the optional credential fields. Username and
// password only surface when an auth method needing them is selected.
func (*Executor) OptionalFields() []protocol.FieldDefinition {
	needsUserPass := func(bag protocol.CredentialBag) bool {
		method := bag.String("auth_method")
		return method == AuthWSSecurity || method == AuthBasic
	}
	return []protocol.FieldDefinition{
		{Name: "soap_version", Type: protocol.FieldString, Default: Version11,
			Description: "1.1 or 1.2"},
		{Name: "soap_action", Type: protocol.FieldString,
			Description: "SOAPAction header (1.1) or action media type parameter (1.2)"},
		{Name: "auth_method", Type: protocol.FieldString, Default: AuthNone,
			Description: "none, ws_security, basic, bearer, or custom_header"},
		{Name: "username", Type: protocol.FieldString, VisibleWhen: needsUserPass,
			Description: "Username for ws_security or basic auth"},
		{Name: "password", Type: protocol.FieldString, Sensitive: true, VisibleWhen: needsUserPass,
			Description: "Password for ws_security or basic auth"},
		{Name: "password_type", Type: protocol.FieldString, Default: PasswordText,
			VisibleWhen: func(bag protocol.CredentialBag) bool {
				return bag.String("auth_method") == AuthWSSecurity
			},
			Description: "PasswordText or PasswordDigest"},
		{Name: "token", Type: protocol.FieldString, Sensitive: true,
			VisibleWhen: func(bag protocol.CredentialBag) bool {
				return bag.String("auth_method") == AuthBearer
			},
			Description: "Bearer token for transport-level auth"},
		{Name: "custom_header_xml", Type: protocol.FieldString, Sensitive: true,
			VisibleWhen: func(bag protocol.CredentialBag) bool {
				return bag.String("auth_method") == AuthCustom
			},
			Description: "Raw XML inserted into the envelope Header"},
		{Name: "timestamp_ttl_seconds", Type: protocol.FieldNumber,
			Description: "WS-Security timestamp validity window, default 300"},
	}
}

// ValidateCredentials checks the endpoint, the version, and that the
// selected auth method has its inputs.
func (e *Executor) ValidateCredentials(bag protocol.CredentialBag) *protocol.ValidationResult {
	result := protocol.ValidateRequired(bag, e.RequiredFields())
	if !result.Valid {
		return result
	}
	fieldErrors := make(map[string]string)

	if err := networking.ValidateEndpointURL(bag.String("endpoint_url")); err != nil {
		fieldErrors["endpoint_url"] = err.Error()
	}
	if v := bag.String("soap_version"); v != "" && v != Version11 && v != Version12 {
		fieldErrors["soap_version"] = "soap_version must be 1.1 or 1.2"
	}

	switch method := bag.String("auth_method"); method {
	case "", AuthNone:
	case AuthWSSecurity, AuthBasic:
		if bag.String("username") == "" {
			fieldErrors["username"] = "username is required for " + method
		}
		if bag.String("password") == "" {
			fieldErrors["password"] = "password is required for " + method
		}
		if method == AuthWSSecurity {
			if pt := bag.String("password_type"); pt != "" && pt != PasswordText && pt != PasswordDigest {
				fieldErrors["password_type"] = "password_type must be PasswordText or PasswordDigest"
			}
		}
	case AuthBearer:
		if bag.String("token") == "" {
			fieldErrors["token"] = "token is required for bearer auth"
		}
	case AuthCustom:
		if bag.String("custom_header_xml") == "" {
			fieldErrors["custom_header_xml"] = "custom_header_xml is required for custom_header auth"
		}
	default:
		fieldErrors["auth_method"] = "unknown auth_method: use none, ws_security, basic, bearer, or custom_header"
	}

	if len(fieldErrors) > 0 {
		return protocol.InvalidResult(fieldErrors)
	}
	return protocol.ValidResult()
}

// Authenticate is a single validation step: SOAP auth is stateless, each
// request carries its own material.
func (e *Executor) Authenticate(_ context.Context, bag protocol.CredentialBag, _ int) *protocol.FlowResult {
	if result := e.ValidateCredentials(bag); !result.Valid {
		for field, msg := range result.FieldErrors {
			return protocol.ErrorFlow(1, 1, "invalid_configuration", field+": "+msg)
		}
	}
	return &protocol.FlowResult{
		Step:        1,
		TotalSteps:  1,
		Kind:        protocol.FlowComplete,
		Title:       "Configuration validated",
		Description: "Credentials will be attached to each envelope",
	}
}

// HandleCallback is unsupported: there is no redirect leg.
func (*Executor) HandleCallback(map[string]string, string) *protocol.FlowResult {
	return protocol.ErrorFlow(1, 1, "unsupported", "soap authentication has no callback step")
}

// InjectAuthentication supplies the transport-level headers. WS-Security
// and custom headers live inside the envelope and are added by
// ExecuteRequest instead.
func (*Executor) InjectAuthentication(execCtx *protocol.ExecutionContext) (*protocol.Injection, error) {
	bag := execCtx.Credentials
	switch bag.String("auth_method") {
	case AuthBasic:
		return &protocol.Injection{Headers: map[string]string{
			"Authorization": "Basic " + basicCredentials(bag.String("username"), bag.String("password")),
		}}, nil
	case AuthBearer:
		token := bag.String("token")
		if token == "" {
			return nil, errors.NewConfigurationError("token is required for bearer auth", nil)
		}
		return &protocol.Injection{Headers: map[string]string{
			"Authorization": "Bearer " + token,
		}}, nil
	default:
		return &protocol.Injection{}, nil
	}
}

// ExecuteRequest wraps the payload in an envelope, attaches the security
// header, posts it, and surfaces faults. A fault makes the result
// unsuccessful even when the HTTP status is 200, which is how SOAP 1.1
// servers commonly report them.
func (e *Executor) ExecuteRequest(ctx context.Context, execCtx *protocol.ExecutionContext) *protocol.ExecutionResult {
	bag := execCtx.Credentials

	payload, ok := execCtx.Body.(string)
	if !ok || payload == "" {
		return &protocol.ExecutionResult{
			Success:      false,
			ErrorMessage: "soap execution requires the request body to be the payload XML string",
			ErrorCode:    protocol.CodeClientError,
		}
	}

	version := bag.String("soap_version")
	if version == "" {
		version = Version11
	}

	headerXML, err := e.envelopeHeader(bag)
	if err != nil {
		return &protocol.ExecutionResult{
			Success:      false,
			ErrorMessage: err.Error(),
			ErrorCode:    protocol.CodeUnauthorized,
		}
	}
	envelope := BuildEnvelope(version, headerXML, payload)

	if execCtx.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, execCtx.Timeout)
		defer cancel()
	}

	endpoint := execCtx.URL
	if endpoint == "" {
		endpoint = bag.String("endpoint_url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(envelope))
	if err != nil {
		return &protocol.ExecutionResult{
			Success:      false,
			ErrorMessage: err.Error(),
			ErrorCode:    protocol.CodeClientError,
		}
	}

	action := bag.String("soap_action")
	req.Header.Set("Content-Type", ContentType(version, action))
	if version == Version11 {
		// SOAP 1.1 requires the header even when the action is empty.
		req.Header.Set("SOAPAction", `"`+action+`"`)
	}
	for k, v := range execCtx.Headers {
		req.Header.Set(k, v)
	}
	injection, err := e.InjectAuthentication(execCtx)
	if err != nil {
		return &protocol.ExecutionResult{
			Success:      false,
			ErrorMessage: err.Error(),
			ErrorCode:    protocol.CodeUnauthorized,
		}
	}
	for k, v := range injection.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		code := protocol.CodeNetworkError
		if ctx.Err() == context.DeadlineExceeded {
			code = protocol.CodeTimeout
		}
		return &protocol.ExecutionResult{
			Success:      false,
			Duration:     duration,
			ErrorMessage: err.Error(),
			ErrorCode:    code,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &protocol.ExecutionResult{
			Success:      false,
			StatusCode:   resp.StatusCode,
			Headers:      resp.Header,
			Duration:     duration,
			ErrorMessage: "failed to read response body: " + err.Error(),
			ErrorCode:    protocol.CodeNetworkError,
		}
	}

	result := &protocol.ExecutionResult{
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		RawBody:    string(raw),
		Duration:   duration,
	}

	inner, fault, parseErr := ParseResponse(raw)
	switch {
	case fault != nil:
		result.Success = false
		result.ErrorCode = protocol.CodeSOAPFault
		result.ErrorMessage = fault.Error()
		result.Body = map[string]any{
			"fault_code":   fault.Code,
			"fault_reason": fault.Reason,
			"fault_detail": fault.Detail,
		}
		logger.Debugw("soap fault", "code", fault.Code, "status", resp.StatusCode)
	case parseErr != nil:
		if result.Success {
			result.Success = false
			result.ErrorCode = protocol.CodeSOAPFault
			result.ErrorMessage = parseErr.Error()
		} else {
			result.ErrorCode = protocol.ClassifyStatus(resp.StatusCode)
			result.ErrorMessage = "HTTP " + resp.Status
		}
	default:
		result.Body = inner
		if !result.Success {
			result.ErrorCode = protocol.ClassifyStatus(resp.StatusCode)
			result.ErrorMessage = "HTTP " + resp.Status
		}
	}

	return result
}

func basicCredentials(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}

// envelopeHeader renders the in-envelope auth header for the configured
// method, or "" when auth rides the transport.
func (*Executor) envelopeHeader(bag protocol.CredentialBag) (string, error) {
	switch bag.String("auth_method") {
	case AuthWSSecurity:
		ttl := defaultTimestampTTL
		if seconds, ok := bag.Int64("timestamp_ttl_seconds"); ok && seconds > 0 {
			ttl = time.Duration(seconds) * time.Second
		}
		return buildSecurityHeader(
			bag.String("username"),
			bag.String("password"),
			bag.String("password_type"),
			ttl,
		)
	case AuthCustom:
		return bag.String("custom_header_xml"), nil
	default:
		return "", nil
	}
}

// RefreshTokens is a no-op: SOAP credentials are static.
func (*Executor) RefreshTokens(context.Context, protocol.CredentialBag) *protocol.RefreshResult {
	return &protocol.RefreshResult{Success: true}
}

// RevokeTokens reports that there is nothing to revoke.
func (*Executor) RevokeTokens(context.Context, protocol.CredentialBag) *protocol.RevokeResult {
	return &protocol.RevokeResult{
		Success:      false,
		ErrorMessage: "soap credentials are static and cannot be revoked here",
	}
}

// IsTokenExpired always returns false: nothing expires.
func (*Executor) IsTokenExpired(protocol.CredentialBag) bool {
	return false
}

// TokenExpirationTime reports no expiry.
func (*Executor) TokenExpirationTime(protocol.CredentialBag) (time.Time, bool) {
	return time.Time{}, false
}

// HealthCheck probes the endpoint's WSDL. Most SOAP services answer a
// GET with ?wsdl, and any non-5xx response proves reachability.
func (e *Executor) HealthCheck(ctx context.Context, bag protocol.CredentialBag) *protocol.HealthStatus {
	now := time.Now()
	endpoint := bag.String("endpoint_url")
	if endpoint == "" {
		return &protocol.HealthStatus{
			Healthy:     false,
			TokenStatus: protocol.TokenMissing,
			Message:     "no endpoint_url configured",
			CheckedAt:   now,
		}
	}

	probeURL := endpoint
	if !strings.Contains(probeURL, "?") {
		probeURL += "?wsdl"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return &protocol.HealthStatus{
			Healthy:     false,
			TokenStatus: protocol.TokenInvalid,
			Message:     "failed to build health probe: " + err.Error(),
			CheckedAt:   now,
		}
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return &protocol.HealthStatus{
			Healthy:     false,
			TokenStatus: protocol.TokenInvalid,
			Message:     "endpoint unreachable: " + err.Error(),
			CheckedAt:   now,
			Latency:     latency,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	healthy := resp.StatusCode < 500
	status := protocol.TokenValid
	message := "endpoint reachable"
	if !healthy {
		status = protocol.TokenInvalid
		message = "endpoint returned HTTP " + resp.Status
	}
	return &protocol.HealthStatus{
		Healthy:     healthy,
		TokenStatus: status,
		Message:     message,
		CheckedAt:   now,
		Latency:     latency,
	}
}
