package clientcreds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protocolos/handshake/pkg/errors"
	"github.com/protocolos/handshake/pkg/protocol"
)

func tokenServer(t *testing.T, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600,"scope":"read"}`))
	}))
}

func testBag(tokenURL string, extra protocol.CredentialBag) protocol.CredentialBag {
	bag := protocol.CredentialBag{
		"token_url":     tokenURL,
		"client_id":     "my-client",
		"client_secret": "my-secret",
	}
	bag.Merge(extra)
	return bag
}

func TestAuthenticate_ClientSecretBasic(t *testing.T) {
	t.Parallel()

	server := tokenServer(t, func(r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "my-client", user)
		assert.Equal(t, "my-secret", pass)
		assert.Empty(t, r.PostForm.Get("client_secret"), "secret must not also ride the body")
	})
	defer server.Close()

	executor := NewWithClient(server.Client())
	result := executor.Authenticate(context.Background(), testBag(server.URL, nil), 1)

	require.Equal(t, protocol.FlowComplete, result.Kind, "flow error: %s", result.ErrorDetail)
	require.NotNil(t, result.Token)
	assert.Equal(t, "tok", result.Token.AccessToken)
	assert.Equal(t, "Bearer", result.Token.TokenType)
	assert.Positive(t, result.Token.ExpiresAt)
}

func TestAuthenticate_ClientSecretPost(t *testing.T) {
	t.Parallel()

	server := tokenServer(t, func(r *http.Request) {
		_, _, ok := r.BasicAuth()
		assert.False(t, ok)
		assert.Equal(t, "my-client", r.PostForm.Get("client_id"))
		assert.Equal(t, "my-secret", r.PostForm.Get("client_secret"))
	})
	defer server.Close()

	executor := NewWithClient(server.Client())
	bag := testBag(server.URL, protocol.CredentialBag{"client_auth_method": AuthPost})
	result := executor.Authenticate(context.Background(), bag, 1)

	assert.Equal(t, protocol.FlowComplete, result.Kind, "flow error: %s", result.ErrorDetail)
}

func TestAuthenticate_ClientSecretJWT(t *testing.T) {
	t.Parallel()

	var assertion string
	server := tokenServer(t, func(r *http.Request) {
		assert.Equal(t, assertionType, r.PostForm.Get("client_assertion_type"))
		assertion = r.PostForm.Get("client_assertion")
	})
	defer server.Close()

	executor := NewWithClient(server.Client())
	bag := testBag(server.URL, protocol.CredentialBag{"client_auth_method": AuthSecretJWT})
	result := executor.Authenticate(context.Background(), bag, 1)
	require.Equal(t, protocol.FlowComplete, result.Kind, "flow error: %s", result.ErrorDetail)
	require.NotEmpty(t, assertion)

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(assertion, claims, func(token *jwt.Token) (any, error) {
		assert.Equal(t, jwt.SigningMethodHS256, token.Method)
		return []byte("my-secret"), nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	assert.Equal(t, "my-client", claims["iss"])
	assert.Equal(t, "my-client", claims["sub"])
	assert.Equal(t, server.URL, claims["aud"])
	assert.NotEmpty(t, claims["jti"])

	exp, ok := claims["exp"].(float64)
	require.True(t, ok)
	iat, ok := claims["iat"].(float64)
	require.True(t, ok)
	assert.InDelta(t, assertionLifetime.Seconds(), exp-iat, 1)
}

func TestAuthenticate_FreshJTIPerAssertion(t *testing.T) {
	t.Parallel()

	bag := testBag("https://issuer.example/token", protocol.CredentialBag{"client_auth_method": AuthSecretJWT})

	jtis := make(map[string]struct{})
	for range 3 {
		assertion, err := buildClientAssertion(bag)
		require.NoError(t, err)
		claims := jwt.MapClaims{}
		_, err = jwt.ParseWithClaims(assertion, claims, func(*jwt.Token) (any, error) {
			return []byte("my-secret"), nil
		})
		require.NoError(t, err)
		jtis[claims["jti"].(string)] = struct{}{}
	}
	assert.Len(t, jtis, 3, "every assertion carries a fresh jti")
}

func TestAuthenticate_ProviderError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"unknown client"}`))
	}))
	defer server.Close()

	executor := NewWithClient(server.Client())
	result := executor.Authenticate(context.Background(), testBag(server.URL, nil), 1)

	require.Equal(t, protocol.FlowError, result.Kind)
	assert.Contains(t, result.ErrorDetail, "invalid_client")
	assert.NotContains(t, result.ErrorDetail, "my-secret", "secrets never appear in errors")
}

func TestRefreshTokens_CoalescesConcurrentCalls(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		time.Sleep(100 * time.Millisecond) // hold the request open so callers pile up
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	}))
	defer server.Close()

	executor := NewWithClient(server.Client())
	bag := testBag(server.URL, nil)

	var wg sync.WaitGroup
	results := make([]*protocol.RefreshResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = executor.RefreshTokens(context.Background(), bag.Clone())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), requests.Load(), "concurrent refreshes share one token request")
	for _, r := range results {
		require.True(t, r.Success)
		assert.Equal(t, "tok", r.Updated.String("access_token"))
	}
}

func TestRefreshTokens_DistinctClientsDoNotCoalesce(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		user, _, _ := r.BasicAuth()
		time.Sleep(100 * time.Millisecond) // hold the request open so both refreshes overlap
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-` + user + `","expires_in":3600}`))
	}))
	defer server.Close()

	executor := NewWithClient(server.Client())

	var mu sync.Mutex
	results := make(map[string]*protocol.RefreshResult, 2)
	var wg sync.WaitGroup
	for _, id := range []string{"alpha", "beta"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			bag := testBag(server.URL, protocol.CredentialBag{"client_id": id})
			result := executor.RefreshTokens(context.Background(), bag)
			mu.Lock()
			results[id] = result
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	assert.Equal(t, int32(2), requests.Load(), "each client issues its own token request")
	for id, result := range results {
		require.True(t, result.Success)
		assert.Equal(t, "tok-"+id, result.Updated.String("access_token"),
			"a client must receive its own token, not a coalesced stranger's")
	}
}

func TestExecuteRequest_RefreshesOnceOn401(t *testing.T) {
	t.Parallel()

	var apiCalls, tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","expires_in":3600}`))
	})
	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	executor := NewWithClient(server.Client())
	result := executor.ExecuteRequest(context.Background(), &protocol.ExecutionContext{
		URL: server.URL + "/api",
		Credentials: testBag(server.URL+"/token", protocol.CredentialBag{
			"access_token": "stale",
		}),
	})

	assert.True(t, result.Success)
	assert.True(t, result.TokensRefreshed)
	assert.Equal(t, "fresh", result.UpdatedCredentials.String("access_token"))
	assert.Equal(t, int32(1), tokenCalls.Load())
	assert.Equal(t, int32(2), apiCalls.Load())
}

func TestIntrospectToken_NotConfigured(t *testing.T) {
	t.Parallel()

	executor := New()
	_, err := executor.IntrospectToken(context.Background(), protocol.CredentialBag{
		"access_token": "tok",
	})
	require.Error(t, err)
	assert.True(t, errors.IsNotConfigured(err))
}

func TestRevokeTokens(t *testing.T) {
	t.Parallel()

	t.Run("not configured is an explicit failure", func(t *testing.T) {
		t.Parallel()
		result := New().RevokeTokens(context.Background(), protocol.CredentialBag{"access_token": "tok"})
		assert.False(t, result.Success)
		assert.Contains(t, result.ErrorMessage, "no revocation endpoint configured")
	})

	t.Run("revokes with basic client auth", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "my-client", user)
			assert.Equal(t, "my-secret", pass)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "tok", r.PostForm.Get("token"))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		executor := NewWithClient(server.Client())
		bag := testBag("https://issuer.example/token", protocol.CredentialBag{
			"access_token":   "tok",
			"revocation_url": server.URL,
		})
		result := executor.RevokeTokens(context.Background(), bag)
		assert.True(t, result.Success)
	})
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
			name:      "valid",
			bag:       testBag("https://issuer.example/token", nil),
			wantValid: true,
		},
		{
			name:      "missing client secret",
			bag:       protocol.CredentialBag{"token_url": "https://issuer.example/token", "client_id": "c"},
			wantField: "client_secret",
		},
		{
			name: "private_key_jwt does not need a secret",
			bag: protocol.CredentialBag{
				"token_url": "https://issuer.example/token", "client_id": "c",
				"client_auth_method": AuthPrivateKeyJWT, "private_key": "-----BEGIN...",
			},
			wantValid: true,
		},
		{
			name:      "unknown auth method",
			bag:       testBag("https://issuer.example/token", protocol.CredentialBag{"client_auth_method": "mtls"}),
			wantField: "client_auth_method",
		},
		{
			name:      "plain http token url rejected",
			bag:       testBag("http://issuer.example/token", nil),
			wantField: "token_url",
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

func TestHealthCheck_UsesIntrospection(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"active":false}`))
	}))
	defer server.Close()

	executor := NewWithClient(server.Client())
	status := executor.HealthCheck(context.Background(), testBag("https://issuer.example/token", protocol.CredentialBag{
		"access_token":      "tok",
		"introspection_url": server.URL,
	}))

	assert.False(t, status.Healthy)
	assert.Equal(t, protocol.TokenExpired, status.TokenStatus)
}
