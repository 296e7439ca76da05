package networking

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestFetchJSON_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ContentTypeJSON, r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"name":"widget","count":3}`))
	}))
	defer server.Close()

	result, err := FetchJSON[testPayload](context.Background(), server.Client(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "widget", result.Data.Name)
	assert.Equal(t, 3, result.Data.Count)
	assert.Equal(t, http.StatusOK, result.StatusCode)
}

func TestFetchJSON_HTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("not here"))
	}))
	defer server.Close()

	_, err := FetchJSON[testPayload](context.Background(), server.Client(), server.URL)
	require.Error(t, err)
	assert.True(t, IsHTTPError(err, http.StatusNotFound))
	assert.False(t, IsHTTPError(err, http.StatusUnauthorized))

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, "not here", httpErr.Body)
}

func TestFetchJSON_ContentTypeValidation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`{"name":"sneaky"}`))
	}))
	defer server.Close()

	_, err := FetchJSON[testPayload](context.Background(), server.Client(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected content type")

	result, err := FetchJSON[testPayload](context.Background(), server.Client(), server.URL,
		WithoutContentTypeValidation())
	require.NoError(t, err)
	assert.Equal(t, "sneaky", result.Data.Name)
}

func TestFetchJSON_CustomErrorHandler(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_request"}`))
	}))
	defer server.Close()

	handled := func(resp *http.Response, body []byte) error {
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		if strings.Contains(string(body), "invalid_request") {
			return assert.AnError
		}
		return nil
	}
	_, err := FetchJSON[testPayload](context.Background(), server.Client(), server.URL,
		WithErrorHandler(handled))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestFetchJSONWithForm(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, ContentTypeFormURLEncoded, r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "id", user)
		assert.Equal(t, "secret", pass)

		w.Header().Set("Content-Type", ContentTypeJSON)
		_, _ = w.Write([]byte(`{"name":"token"}`))
	}))
	defer server.Close()

	form := map[string][]string{"grant_type": {"client_credentials"}}
	result, err := FetchJSONWithForm[testPayload](context.Background(), server.Client(), server.URL, form,
		WithBasicAuth("id", "secret"))
	require.NoError(t, err)
	assert.Equal(t, "token", result.Data.Name)
}

func TestFetchJSON_MaxResponseSize(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", ContentTypeJSON)
		_, _ = w.Write([]byte(`{"name":"` + strings.Repeat("x", 4096) + `"}`))
	}))
	defer server.Close()

	_, err := FetchJSON[testPayload](context.Background(), server.Client(), server.URL,
		WithMaxResponseSize(16))
	require.Error(t, err, "a truncated body is not valid JSON")
}
