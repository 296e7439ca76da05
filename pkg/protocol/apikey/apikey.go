// Package apikey implements the API key protocol executor. API keys are
// stateless: there is nothing to refresh or revoke, and injection is a
// pure function of the configured placement.
package apikey

import (
	"context"
	"fmt"
	"time"

	"github.com/protocolos/handshake/pkg/errors"
	"github.com/protocolos/handshake/pkg/networking"
	"github.com/protocolos/handshake/pkg/protocol"
)

// Placement values for the primary key.
const (
	PlacementHeader = "header"
	PlacementQuery  = "query"
	PlacementBody   = "body"
)

// Header format values.
const (
	FormatXAPIKey = "x-api-key"
	FormatBearer  = "bearer"
	FormatAPIKey  = "apikey"
	FormatBasic   = "basic"
	FormatToken   = "token"
	FormatCustom  = "custom"
)

func init() {
	protocol.Register(protocol.TypeAPIKey, func() protocol.Module {
		return New()
	})
}

// Executor implements protocol.Module for API key authentication.
type Executor struct {
	client networking.HTTPClient
}

// New returns an API key executor using the default HTTP client.
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
		Type:        protocol.TypeAPIKey,
		DisplayName: "API Key",
		Description: "Static API key placed in a header, query parameter, or body field",
		Capabilities: protocol.Capabilities{
			TokenRefresh: false,
		},
	}
}

// RequiredFields returns the required credential fields.
func (*Executor) RequiredFields() []protocol.FieldDefinition {
	return []protocol.FieldDefinition{
		{Name: "api_key", Type: protocol.FieldString, Required: true, Sensitive: true,
			Description: "The API key value"},
	}
}

// OptionalFields returns the optional credential fields.
func (*Executor) OptionalFields() []protocol.FieldDefinition {
	isHeader := func(bag protocol.CredentialBag) bool {
		p := bag.String("placement")
		return p == "" || p == PlacementHeader
	}
	isCustom := func(bag protocol.CredentialBag) bool {
		return bag.String("header_format") == FormatCustom
	}
	return []protocol.FieldDefinition{
		{Name: "placement", Type: protocol.FieldString, Default: PlacementHeader,
			Description: "Where the key is injected: header, query, or body"},
		{Name: "header_format", Type: protocol.FieldString, Default: FormatXAPIKey,
			Description: "Header style when placement is header", VisibleWhen: isHeader},
		{Name: "header_name", Type: protocol.FieldString,
			Description: "Header name for the custom format", VisibleWhen: isCustom},
		{Name: "header_prefix", Type: protocol.FieldString,
			Description: "Value prefix for the custom format", VisibleWhen: isCustom},
		{Name: "query_param", Type: protocol.FieldString, Default: "api_key",
			Description: "Query parameter name when placement is query"},
		{Name: "body_field", Type: protocol.FieldString, Default: "api_key",
			Description: "Body field name when placement is body"},
		{Name: "secondary_key", Type: protocol.FieldString, Sensitive: true,
			Description: "Optional secondary key for key-pair APIs"},
		{Name: "secondary_placement", Type: protocol.FieldString, Default: PlacementHeader,
			Description: "Placement for the secondary key"},
		{Name: "secondary_name", Type: protocol.FieldString,
			Description: "Header/parameter/field name for the secondary key"},
		{Name: "health_url", Type: protocol.FieldString,
			Description: "Endpoint probed by health checks"},
	}
}

// ValidateCredentials checks presence, placement values, and key hygiene.
func (e *Executor) ValidateCredentials(bag protocol.CredentialBag) *protocol.ValidationResult {
	result := protocol.ValidateRequired(bag, e.RequiredFields())
	if !result.Valid {
		return result
	}

	fieldErrors := make(map[string]string)
	if problems := ValidateKeyHygiene(bag.String("api_key")); len(problems) > 0 {
		fieldErrors["api_key"] = problems[0]
	}

	switch p := bag.String("placement"); p {
	case "", PlacementHeader, PlacementQuery, PlacementBody:
	default:
		fieldErrors["placement"] = fmt.Sprintf("unknown placement %q", p)
	}

	switch f := bag.String("header_format"); f {
	case "", FormatXAPIKey, FormatBearer, FormatAPIKey, FormatBasic, FormatToken:
	case FormatCustom:
		if bag.String("header_name") == "" {
			fieldErrors["header_name"] = "header_name is required for the custom format"
		}
	default:
		fieldErrors["header_format"] = fmt.Sprintf("unknown header format %q", f)
	}

	if len(fieldErrors) > 0 {
		return protocol.InvalidResult(fieldErrors)
	}
	return protocol.ValidResult()
}

// Authenticate is a single-step flow: validate, and when a health URL is
// configured, perform a live probe.
func (e *Executor) Authenticate(ctx context.Context, bag protocol.CredentialBag, _ int) *protocol.FlowResult {
	if result := e.ValidateCredentials(bag); !result.Valid {
		return protocol.ErrorFlow(1, 1, "invalid_configuration", firstFieldError(result.FieldErrors))
	}

	if bag.String("health_url") != "" {
		health := e.HealthCheck(ctx, bag)
		if !health.Healthy {
			return protocol.ErrorFlow(1, 1, "probe_failed", health.Message)
		}
	}

	return &protocol.FlowResult{
		Step:        1,
		TotalSteps:  1,
		Kind:        protocol.FlowComplete,
		Title:       "API key configured",
		Description: "The key validated successfully",
	}
}

// HandleCallback is not applicable: API key auth has no redirect flow.
func (*Executor) HandleCallback(map[string]string, string) *protocol.FlowResult {
	return protocol.ErrorFlow(1, 1, "unsupported", "API key authentication has no callback step")
}

// InjectAuthentication places the key per the configured placement. The
// key appears in exactly one of headers, query parameters, or body.
func (*Executor) InjectAuthentication(execCtx *protocol.ExecutionContext) (*protocol.Injection, error) {
	bag := execCtx.Credentials
	key := bag.String("api_key")
	if key == "" {
		return nil, errors.NewConfigurationError("api_key is not set", nil)
	}

	injection := &protocol.Injection{}
	if err := place(injection, bag.String("placement"), bag, key); err != nil {
		return nil, err
	}

	if secondary := bag.String("secondary_key"); secondary != "" {
		placeSecondary(injection, bag, secondary)
	}

	return injection, nil
}

func place(injection *protocol.Injection, placement string, bag protocol.CredentialBag, key string) error {
	switch placement {
	case "", PlacementHeader:
		name, value, err := headerFor(bag, key)
		if err != nil {
			return err
		}
		injection.Headers = map[string]string{name: value}
	case PlacementQuery:
		param := bag.String("query_param")
		if param == "" {
			param = "api_key"
		}
		injection.QueryParams = map[string]string{param: key}
	case PlacementBody:
		field := bag.String("body_field")
		if field == "" {
			field = "api_key"
		}
		injection.Body = map[string]any{field: key}
	default:
		return errors.NewConfigurationError(fmt.Sprintf("unknown placement %q", placement), nil)
	}
	return nil
}

func placeSecondary(injection *protocol.Injection, bag protocol.CredentialBag, secondary string) {
	name := bag.String("secondary_name")
	switch bag.String("secondary_placement") {
	case PlacementQuery:
		if name == "" {
			name = "api_secret"
		}
		if injection.QueryParams == nil {
			injection.QueryParams = make(map[string]string)
		}
		injection.QueryParams[name] = secondary
	case PlacementBody:
		if name == "" {
			name = "api_secret"
		}
		if injection.Body == nil {
			injection.Body = make(map[string]any)
		}
		injection.Body[name] = secondary
	default:
		if name == "" {
			name = "X-API-Secret"
		}
		if injection.Headers == nil {
			injection.Headers = make(map[string]string)
		}
		injection.Headers[name] = secondary
	}
}

func headerFor(bag protocol.CredentialBag, key string) (string, string, error) {
	switch format := bag.String("header_format"); format {
	case "", FormatXAPIKey:
		return "X-API-Key", key, nil
	case FormatBearer:
		return "Authorization", "Bearer " + key, nil
	case FormatAPIKey:
		return "Authorization", "ApiKey " + key, nil
	case FormatBasic:
		// Basic with an empty username: the key is the password.
		return "Authorization", "Basic " + basicCredentials("", key), nil
	case FormatToken:
		return "Authorization", "Token " + key, nil
	case FormatCustom:
		name := bag.String("header_name")
		if name == "" {
			return "", "", errors.NewConfigurationError("header_name is required for the custom format", nil)
		}
		value := key
		if prefix := bag.String("header_prefix"); prefix != "" {
			value = prefix + " " + key
		}
		return name, value, nil
	default:
		return "", "", errors.NewConfigurationError(fmt.Sprintf("unknown header format %q", format), nil)
	}
}

// ExecuteRequest performs the outbound call. API keys have no refresh,
// so a 401 is terminal for the call.
func (e *Executor) ExecuteRequest(ctx context.Context, execCtx *protocol.ExecutionContext) *protocol.ExecutionResult {
	return protocol.ExecutePipeline(ctx, e.client, execCtx, e.InjectAuthentication, nil)
}

// RefreshTokens is a no-op success: static keys have nothing to refresh.
func (*Executor) RefreshTokens(context.Context, protocol.CredentialBag) *protocol.RefreshResult {
	return &protocol.RefreshResult{Success: true}
}

// RevokeTokens reports that API keys have no revocation endpoint.
func (*Executor) RevokeTokens(context.Context, protocol.CredentialBag) *protocol.RevokeResult {
	return &protocol.RevokeResult{
		Success:      false,
		ErrorMessage: "API keys must be revoked through the provider's dashboard",
	}
}

// IsTokenExpired is always false: static keys do not expire.
func (*Executor) IsTokenExpired(protocol.CredentialBag) bool {
	return false
}

// TokenExpirationTime reports that no expiry exists.
func (*Executor) TokenExpirationTime(protocol.CredentialBag) (time.Time, bool) {
	return time.Time{}, false
}

// HealthCheck performs a minimal authenticated request against the
// configured health URL. Without one, only key presence is reported.
func (e *Executor) HealthCheck(ctx context.Context, bag protocol.CredentialBag) *protocol.HealthStatus {
	now := time.Now()
	if bag.String("api_key") == "" {
		return &protocol.HealthStatus{
			Healthy:     false,
			TokenStatus: protocol.TokenMissing,
			Message:     "no API key configured",
			CheckedAt:   now,
		}
	}

	healthURL := bag.String("health_url")
	if healthURL == "" {
		return &protocol.HealthStatus{
			Healthy:     true,
			TokenStatus: protocol.TokenValid,
			Message:     "key present; no health endpoint configured for a live probe",
			CheckedAt:   now,
		}
	}

	result := e.ExecuteRequest(ctx, &protocol.ExecutionContext{
		URL:         healthURL,
		Method:      "GET",
		Credentials: bag,
		Timeout:     10 * time.Second,
	})

	status := &protocol.HealthStatus{
		Healthy:   result.Success,
		CheckedAt: now,
		Latency:   result.Duration,
	}
	switch {
	case result.Success:
		status.TokenStatus = protocol.TokenValid
		status.Message = fmt.Sprintf("probe returned HTTP %d", result.StatusCode)
	case result.StatusCode == 401 || result.StatusCode == 403:
		status.TokenStatus = protocol.TokenInvalid
		status.Message = fmt.Sprintf("probe rejected the key with HTTP %d", result.StatusCode)
	default:
		status.TokenStatus = protocol.TokenValid
		status.Message = result.ErrorMessage
	}
	return status
}

func firstFieldError(fieldErrors map[string]string) string {
	for _, msg := range fieldErrors {
		return msg
	}
	return "invalid credentials"
}
