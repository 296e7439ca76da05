package implicit

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protocolos/handshake/pkg/protocol"
)

func testBag(extra protocol.CredentialBag) protocol.CredentialBag {
	bag := protocol.CredentialBag{
		"authorization_url": "https://provider.example/authorize",
		"client_id":         "web-client",
		"redirect_uri":      "https://app.example/callback",
	}
	bag.Merge(extra)
	return bag
}

// startFlow runs step 1 and returns the executor plus the generated state.
func startFlow(t *testing.T, extra protocol.CredentialBag) (*Executor, string) {
	t.Helper()

	executor := New()
	result := executor.Authenticate(context.Background(), testBag(extra), 1)
	require.Equal(t, protocol.FlowRedirect, result.Kind, "flow error: %s", result.ErrorDetail)

	redirect, err := url.Parse(result.RedirectURL)
	require.NoError(t, err)
	state := redirect.Query().Get("state")
	require.NotEmpty(t, state)
	return executor, state
}

func TestAuthenticate_Step1BuildsAuthorizationURL(t *testing.T) {
	t.Parallel()

	executor := New()
	result := executor.Authenticate(context.Background(), testBag(protocol.CredentialBag{
		"scope": "read write",
	}), 1)
	require.Equal(t, protocol.FlowRedirect, result.Kind, "flow error: %s", result.ErrorDetail)

	redirect, err := url.Parse(result.RedirectURL)
	require.NoError(t, err)
	query := redirect.Query()

	assert.Equal(t, "https", redirect.Scheme)
	assert.Equal(t, "provider.example", redirect.Host)
	assert.Equal(t, "token", query.Get("response_type"))
	assert.Equal(t, "web-client", query.Get("client_id"))
	assert.Equal(t, "https://app.example/callback", query.Get("redirect_uri"))
	assert.Equal(t, "read write", query.Get("scope"))
	assert.NotEmpty(t, query.Get("state"))
	assert.Empty(t, query.Get("nonce"), "no nonce unless an id_token is requested")
}

func TestAuthenticate_NonceIncludedForOIDC(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		extra protocol.CredentialBag
	}{
		{name: "id_token response type", extra: protocol.CredentialBag{"response_type": "token id_token"}},
		{name: "openid scope", extra: protocol.CredentialBag{"scope": "openid profile"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			executor := New()
			result := executor.Authenticate(context.Background(), testBag(tt.extra), 1)
			require.Equal(t, protocol.FlowRedirect, result.Kind)

			redirect, err := url.Parse(result.RedirectURL)
			require.NoError(t, err)
			assert.NotEmpty(t, redirect.Query().Get("nonce"))
		})
	}
}

func TestAuthenticate_StateIsFreshPerFlow(t *testing.T) {
	t.Parallel()

	_, first := startFlow(t, nil)
	_, second := startFlow(t, nil)
	assert.NotEqual(t, first, second)
	assert.GreaterOrEqual(t, len(first), 40, "32 random bytes base64url encoded")
}

func TestHandleCallback_Success(t *testing.T) {
	t.Parallel()

	executor, state := startFlow(t, nil)
	result := executor.HandleCallback(map[string]string{
		"access_token": "frag-token",
		"token_type":   "Bearer",
		"expires_in":   "3600",
		"scope":        "read",
		"state":        state,
	}, state)

	require.Equal(t, protocol.FlowComplete, result.Kind, "flow error: %s", result.ErrorDetail)
	require.NotNil(t, result.Token)
	assert.Equal(t, "frag-token", result.Token.AccessToken)
	assert.Equal(t, "Bearer", result.Token.TokenType)
	assert.InDelta(t, time.Now().Add(time.Hour).Unix(), result.Token.ExpiresAt, 5)
}

func TestHandleCallback_StateMismatchIsCSRF(t *testing.T) {
	t.Parallel()

	executor, state := startFlow(t, nil)
	result := executor.HandleCallback(map[string]string{
		"access_token": "attacker-token",
		"state":        "forged-state",
	}, state)

	require.Equal(t, protocol.FlowError, result.Kind)
	assert.Equal(t, "state_mismatch", result.ErrorCode)
	assert.Nil(t, result.Token, "no token is extracted on a state mismatch")
}

func TestHandleCallback_MissingState(t *testing.T) {
	t.Parallel()

	executor, state := startFlow(t, nil)
	result := executor.HandleCallback(map[string]string{"access_token": "tok"}, state)

	require.Equal(t, protocol.FlowError, result.Kind)
	assert.Equal(t, "state_mismatch", result.ErrorCode)
}

func TestHandleCallback_ProviderError(t *testing.T) {
	t.Parallel()

	executor, state := startFlow(t, nil)
	result := executor.HandleCallback(map[string]string{
		"error":             "access_denied",
		"error_description": "the user declined",
		"state":             state,
	}, state)

	require.Equal(t, protocol.FlowError, result.Kind)
	assert.Equal(t, "access_denied", result.ErrorCode)
}

func TestHandleCallback_NoFlowInProgress(t *testing.T) {
	t.Parallel()

	result := New().HandleCallback(map[string]string{"access_token": "tok"}, "")
	require.Equal(t, protocol.FlowError, result.Kind)
	assert.Equal(t, "no_flow", result.ErrorCode)
}

func TestParseFragment(t *testing.T) {
	t.Parallel()

	params, err := ParseFragment("#access_token=tok&token_type=Bearer&expires_in=3600&state=abc")
	require.NoError(t, err)
	assert.Equal(t, "tok", params["access_token"])
	assert.Equal(t, "Bearer", params["token_type"])
	assert.Equal(t, "3600", params["expires_in"])
	assert.Equal(t, "abc", params["state"])

	bare, err := ParseFragment("error=access_denied")
	require.NoError(t, err)
	assert.Equal(t, "access_denied", bare["error"])
}

func TestRefreshTokens_AlwaysRequiresReauth(t *testing.T) {
	t.Parallel()

	result := New().RefreshTokens(context.Background(), testBag(nil))
	assert.False(t, result.Success)
	assert.True(t, result.RequiresReauth)
}

func TestShouldMigrateToPKCE(t *testing.T) {
	t.Parallel()

	reasons := ShouldMigrateToPKCE()
	assert.NotEmpty(t, reasons)
}
