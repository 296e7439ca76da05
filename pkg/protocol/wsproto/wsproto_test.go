package wsproto

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protocolos/handshake/pkg/protocol"
)

func TestConnectParams(t *testing.T) {
	t.Parallel()

	executor := New()

	tests := []struct {
		name             string
		bag              protocol.CredentialBag
		wantURL          string
		wantSubprotocols []string
		wantFirstMessage string
	}{
		{
			name:    "no auth leaves the URL alone",
			bag:     protocol.CredentialBag{"ws_url": "wss://feed.example/stream"},
			wantURL: "wss://feed.example/stream",
		},
		{
			name: "query param auth with default name",
			bag: protocol.CredentialBag{
				"ws_url": "wss://feed.example/stream", "auth_method": AuthQueryParam, "token": "tok123",
			},
			wantURL: "wss://feed.example/stream?token=tok123",
		},
		{
			name: "query param auth with custom name preserves existing query",
			bag: protocol.CredentialBag{
				"ws_url": "wss://feed.example/stream?v=2", "auth_method": AuthQueryParam,
				"token": "tok123", "query_param": "access_token",
			},
			wantURL: "wss://feed.example/stream?access_token=tok123&v=2",
		},
		{
			name: "first message auth with default template",
			bag: protocol.CredentialBag{
				"ws_url": "wss://feed.example/stream", "auth_method": AuthFirstMessage, "token": "tok123",
			},
			wantURL:          "wss://feed.example/stream",
			wantFirstMessage: `{"type":"auth","token":"tok123"}`,
		},
		{
			name: "first message auth substitutes token and type",
			bag: protocol.CredentialBag{
				"ws_url": "wss://feed.example/stream", "auth_method": AuthFirstMessage,
				"token": "tok123", "token_type": "Bearer",
				"auth_message_template": `{"op":"login","kind":"{{type}}","secret":"{{token}}"}`,
			},
			wantURL:          "wss://feed.example/stream",
			wantFirstMessage: `{"op":"login","kind":"Bearer","secret":"tok123"}`,
		},
		{
			name: "subprotocol auth",
			bag: protocol.CredentialBag{
				"ws_url": "wss://feed.example/stream", "auth_method": AuthSubprotocol,
				"token": "tok123", "subprotocol_template": "bearer.{{token}}",
			},
			wantURL:          "wss://feed.example/stream",
			wantSubprotocols: []string{"bearer.tok123"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			params, err := executor.ConnectParams(tt.bag)
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, params.URL)
			assert.Equal(t, tt.wantSubprotocols, params.Subprotocols)
			assert.Equal(t, tt.wantFirstMessage, params.FirstMessage)
		})
	}
}

func TestConnectParams_TokenNeverInPathForFirstMessage(t *testing.T) {
	t.Parallel()

	params, err := New().ConnectParams(protocol.CredentialBag{
		"ws_url": "wss://feed.example/stream", "auth_method": AuthFirstMessage, "token": "tok123",
	})
	require.NoError(t, err)

	parsed, err := url.Parse(params.URL)
	require.NoError(t, err)
	assert.Empty(t, parsed.RawQuery, "first-message auth must not leak the token into the URL")
}

func TestValidateCredentials(t *testing.T) {
	t.Parallel()

	executor := New()

	tests := []struct {
		name      string
		bag       protocol.CredentialBag
		wantValid bool
		wantField string
	}{
		{
			name:      "valid without auth",
			bag:       protocol.CredentialBag{"ws_url": "wss://feed.example/stream"},
			wantValid: true,
		},
		{
			name:      "missing url",
			bag:       protocol.CredentialBag{},
			wantField: "ws_url",
		},
		{
			name:      "plain ws to a remote host rejected",
			bag:       protocol.CredentialBag{"ws_url": "ws://feed.example/stream"},
			wantField: "ws_url",
		},
		{
			name:      "plain ws to localhost allowed",
			bag:       protocol.CredentialBag{"ws_url": "ws://localhost:8080/stream"},
			wantValid: true,
		},
		{
			name:      "auth without token",
			bag:       protocol.CredentialBag{"ws_url": "wss://feed.example/stream", "auth_method": AuthQueryParam},
			wantField: "token",
		},
		{
			name:      "unknown auth method",
			bag:       protocol.CredentialBag{"ws_url": "wss://feed.example/stream", "auth_method": "cookie", "token": "t"},
			wantField: "auth_method",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := executor.ValidateCredentials(tt.bag)
			assert.Equal(t, tt.wantValid, result.Valid)
			if tt.wantField != "" {
				assert.Contains(t, result.FieldErrors, tt.wantField)
			}
		})
	}
}

func TestSubstitutePlaceholders(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a tok b Bearer c tok",
		substitutePlaceholders("a {{token}} b {{type}} c {{token}}", "tok", "Bearer"))
	assert.Equal(t, "no placeholders", substitutePlaceholders("no placeholders", "tok", "Bearer"))
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	executor := New()

	complete := executor.Authenticate(context.Background(), protocol.CredentialBag{
		"ws_url": "wss://feed.example/stream",
	}, 1)
	assert.Equal(t, protocol.FlowComplete, complete.Kind)

	failed := executor.Authenticate(context.Background(), protocol.CredentialBag{}, 1)
	assert.Equal(t, protocol.FlowError, failed.Kind)
}
