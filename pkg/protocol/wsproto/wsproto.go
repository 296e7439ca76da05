// Package wsproto implements the WebSocket handshake executor: it
// resolves the configured auth method into connection parameters and
// hands long-lived connection handling to pkg/wsconn.
package wsproto

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/protocolos/handshake/pkg/errors"
	"github.com/protocolos/handshake/pkg/networking"
	"github.com/protocolos/handshake/pkg/protocol"
	"github.com/protocolos/handshake/pkg/wsconn"
)

// Authentication methods.
const (
	AuthNone         = "none"
	AuthQueryParam   = "query_param"
	AuthFirstMessage = "first_message"
	AuthSubprotocol  = "subprotocol"
)

// Defaults for the configurable templates.
const (
	defaultQueryParam          = "token"
	defaultAuthMessageTemplate = `{"type":"auth","token":"{{token}}"}`
	defaultSubprotocolTemplate = "{{token}}"
)

func init() {
	protocol.Register(protocol.TypeWebSocket, func() protocol.Module {
		return New()
	})
}

// ConnectParams is the resolved handshake material for one connection.
type ConnectParams struct {
	URL          string
	Subprotocols []string
	FirstMessage string
}

// Executor implements protocol.Module for WebSocket endpoints.
type Executor struct{}

// New returns a WebSocket handshake executor.
func New() *Executor {
	return &Executor{}
}

// Metadata returns the static descriptor.
func (*Executor) Metadata() protocol.Metadata {
	return protocol.Metadata{
		Type:        protocol.TypeWebSocket,
		DisplayName: "WebSocket",
		Description: "WebSocket handshake with token auth via query parameter, first message, or subprotocol",
	}
}

// RequiredFields returns the required credential fields.
func (*Executor) RequiredFields() []protocol.FieldDefinition {
	return []protocol.FieldDefinition{
		{Name: "ws_url", Type: protocol.FieldString, Required: true,
			Description: "The ws:// or wss:// endpoint"},
	}
}

// OptionalFields returns the optional credential fields.
func (*Executor) OptionalFields() []protocol.FieldDefinition {
	needsToken := func(bag protocol.CredentialBag) bool {
		method := bag.String("auth_method")
		return method != "" && method != AuthNone
	}
	return []protocol.FieldDefinition{
		{Name: "auth_method", Type: protocol.FieldString, Default: AuthNone,
			Description: "none, query_param, first_message, or subprotocol"},
		{Name: "token", Type: protocol.FieldString, Sensitive: true, VisibleWhen: needsToken,
			Description: "Token carried by the selected auth method"},
		{Name: "token_type", Type: protocol.FieldString,
			Description: "Substituted for {{type}} in the auth message template"},
		{Name: "query_param", Type: protocol.FieldString, Default: defaultQueryParam,
			VisibleWhen: func(bag protocol.CredentialBag) bool {
				return bag.String("auth_method") == AuthQueryParam
			},
			Description: "Query parameter name carrying the token"},
		{Name: "auth_message_template", Type: protocol.FieldString, Default: defaultAuthMessageTemplate,
			VisibleWhen: func(bag protocol.CredentialBag) bool {
				return bag.String("auth_method") == AuthFirstMessage
			},
			Description: "JSON template for the post-connect auth message"},
		{Name: "subprotocol_template", Type: protocol.FieldString, Default: defaultSubprotocolTemplate,
			VisibleWhen: func(bag protocol.CredentialBag) bool {
				return bag.String("auth_method") == AuthSubprotocol
			},
			Description: "Template for the negotiated subprotocol"},
	}
}

// ValidateCredentials checks the endpoint and the auth method's inputs.
func (e *Executor) ValidateCredentials(bag protocol.CredentialBag) *protocol.ValidationResult {
	result := protocol.ValidateRequired(bag, e.RequiredFields())
	if !result.Valid {
		return result
	}
	fieldErrors := make(map[string]string)

	if err := networking.ValidateWebSocketURL(bag.String("ws_url")); err != nil {
		fieldErrors["ws_url"] = err.Error()
	}

	switch method := bag.String("auth_method"); method {
	case "", AuthNone:
	case AuthQueryParam, AuthFirstMessage, AuthSubprotocol:
		if bag.String("token") == "" {
			fieldErrors["token"] = "token is required for " + method + " auth"
		}
	default:
		fieldErrors["auth_method"] = "unknown auth_method: use none, query_param, first_message, or subprotocol"
	}

	if len(fieldErrors) > 0 {
		return protocol.InvalidResult(fieldErrors)
	}
	return protocol.ValidResult()
}

// ConnectParams resolves the credential bag into handshake material.
func (e *Executor) ConnectParams(bag protocol.CredentialBag) (*ConnectParams, error) {
	if result := e.ValidateCredentials(bag); !result.Valid {
		for field, msg := range result.FieldErrors {
			return nil, errors.NewConfigurationError(field+": "+msg, nil)
		}
	}

	params := &ConnectParams{URL: bag.String("ws_url")}
	token := bag.String("token")
	tokenType := bag.String("token_type")

	switch bag.String("auth_method") {
	case "", AuthNone:

	case AuthQueryParam:
		endpoint, err := url.Parse(params.URL)
		if err != nil {
			return nil, errors.NewConfigurationError("ws_url is malformed", err)
		}
		name := bag.String("query_param")
		if name == "" {
			name = defaultQueryParam
		}
		query := endpoint.Query()
		query.Set(name, token)
		endpoint.RawQuery = query.Encode()
		params.URL = endpoint.String()

	case AuthFirstMessage:
		template := bag.String("auth_message_template")
		if template == "" {
			template = defaultAuthMessageTemplate
		}
		params.FirstMessage = substitutePlaceholders(template, token, tokenType)

	case AuthSubprotocol:
		template := bag.String("subprotocol_template")
		if template == "" {
			template = defaultSubprotocolTemplate
		}
		params.Subprotocols = []string{substitutePlaceholders(template, token, tokenType)}
	}

	return params, nil
}

// Dial resolves the handshake and opens a managed connection.
func (e *Executor) Dial(ctx context.Context, bag protocol.CredentialBag) (*wsconn.Manager, error) {
	params, err := e.ConnectParams(bag)
	if err != nil {
		return nil, err
	}
	manager := wsconn.New(wsconn.Config{
		URL:          params.URL,
		Subprotocols: params.Subprotocols,
		AuthMessage:  params.FirstMessage,
	})
	if err := manager.Connect(ctx); err != nil {
		return nil, err
	}
	return manager, nil
}

// Authenticate is a single validation step: the handshake itself is the
// authentication.
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
		Description: "Credentials will be applied during the connection handshake",
	}
}

// HandleCallback is unsupported: there is no redirect leg.
func (*Executor) HandleCallback(map[string]string, string) *protocol.FlowResult {
	return protocol.ErrorFlow(1, 1, "unsupported", "websocket authentication has no callback step")
}

// InjectAuthentication has nothing to add at the HTTP layer: auth rides
// the handshake URL, the subprotocol, or the first message.
func (*Executor) InjectAuthentication(*protocol.ExecutionContext) (*protocol.Injection, error) {
	return &protocol.Injection{}, nil
}

// ExecuteRequest is not an HTTP operation for this protocol.
func (*Executor) ExecuteRequest(context.Context, *protocol.ExecutionContext) *protocol.ExecutionResult {
	return &protocol.ExecutionResult{
		Success:      false,
		ErrorMessage: "websocket endpoints are exercised through a managed connection, not single requests",
		ErrorCode:    protocol.CodeClientError,
	}
}

// RefreshTokens is a no-op: the token is supplied externally.
func (*Executor) RefreshTokens(context.Context, protocol.CredentialBag) *protocol.RefreshResult {
	return &protocol.RefreshResult{Success: true}
}

// RevokeTokens reports that the token lifecycle is managed elsewhere.
func (*Executor) RevokeTokens(context.Context, protocol.CredentialBag) *protocol.RevokeResult {
	return &protocol.RevokeResult{
		Success:      false,
		ErrorMessage: "the websocket token is issued and revoked by its own provider",
	}
}

// IsTokenExpired applies the shared expiry check when the bag carries
// an expiry, e.g. a token minted by an OAuth2 flow.
func (*Executor) IsTokenExpired(bag protocol.CredentialBag) bool {
	return protocol.IsTokenExpired(bag)
}

// TokenExpirationTime returns the stored expiry.
func (*Executor) TokenExpirationTime(bag protocol.CredentialBag) (time.Time, bool) {
	return protocol.TokenExpirationTime(bag)
}

// HealthCheck validates the configuration without opening a connection.
func (e *Executor) HealthCheck(_ context.Context, bag protocol.CredentialBag) *protocol.HealthStatus {
	now := time.Now()
	if result := e.ValidateCredentials(bag); !result.Valid {
		return &protocol.HealthStatus{
			Healthy:     false,
			TokenStatus: protocol.TokenInvalid,
			Message:     "configuration invalid",
			CheckedAt:   now,
		}
	}
	if method := bag.String("auth_method"); method != "" && method != AuthNone && protocol.IsTokenExpired(bag) {
		return &protocol.HealthStatus{
			Healthy:     false,
			TokenStatus: protocol.TokenExpired,
			Message:     "token is expired or within the expiry buffer",
			CheckedAt:   now,
		}
	}
	return &protocol.HealthStatus{
		Healthy:     true,
		TokenStatus: protocol.TokenValid,
		Message:     "configuration valid",
		CheckedAt:   now,
	}
}

// substitutePlaceholders replaces the {{token}} and {{type}}
// placeholders. Deliberately not a templating engine.
func substitutePlaceholders(template, token, tokenType string) string {
	out := strings.ReplaceAll(template, "{{token}}", token)
	return strings.ReplaceAll(out, "{{type}}", tokenType)
}
