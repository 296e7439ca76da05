package networking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLocalhost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"LOCALHOST", true},
		{"localhost:8080", true},
		{"127.0.0.1", true},
		{"127.0.0.1:9000", true},
		{"::1", true},
		{"example.com", false},
		{"192.168.1.10", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsLocalhost(tt.host), "host %q", tt.host)
	}
}

func TestValidateEndpointURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		endpoint string
		wantErr  bool
	}{
		{name: "https", endpoint: "https://api.example.com/v1", wantErr: false},
		{name: "http to remote host", endpoint: "http://api.example.com/v1", wantErr: true},
		{name: "http to localhost", endpoint: "http://localhost:8080/v1", wantErr: false},
		{name: "http to loopback ip", endpoint: "http://127.0.0.1:8080/v1", wantErr: false},
		{name: "no host", endpoint: "https://", wantErr: true},
		{name: "bad scheme", endpoint: "ftp://files.example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateEndpointURL(tt.endpoint)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEndpointURLWithInsecure(t *testing.T) {
	t.Parallel()

	assert.Error(t, ValidateEndpointURLWithInsecure("http://api.example.com", false))
	assert.NoError(t, ValidateEndpointURLWithInsecure("http://api.example.com", true))
}

func TestValidateWebSocketURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		endpoint string
		wantErr  bool
	}{
		{name: "wss", endpoint: "wss://feed.example.com/stream", wantErr: false},
		{name: "ws to remote host", endpoint: "ws://feed.example.com/stream", wantErr: true},
		{name: "ws to localhost", endpoint: "ws://localhost:8080/stream", wantErr: false},
		{name: "https is not a websocket scheme", endpoint: "https://feed.example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateWebSocketURL(tt.endpoint)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
