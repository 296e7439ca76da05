package networking

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// IsLocalhost reports whether the host (optionally with port) refers to the
// local machine. Used to relax the HTTPS requirement during development.
func IsLocalhost(host string) bool {
	h := host
	if splitHost, _, err := net.SplitHostPort(host); err == nil {
		h = splitHost
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

// ValidateEndpointURL validates that the URL is well-formed and uses HTTPS.
// Localhost URLs are allowed over plain HTTP for development.
func ValidateEndpointURL(endpoint string) error {
	return ValidateEndpointURLWithInsecure(endpoint, false)
}

// ValidateEndpointURLWithInsecure validates an endpoint URL, optionally
// allowing plain HTTP for non-localhost hosts.
func ValidateEndpointURLWithInsecure(endpoint string, insecureAllowHTTP bool) error {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL %q has no host", endpoint)
	}
	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if insecureAllowHTTP || IsLocalhost(parsed.Host) {
			return nil
		}
		return fmt.Errorf("URL %q must use HTTPS", endpoint)
	default:
		return fmt.Errorf("URL %q has unsupported scheme %q", endpoint, parsed.Scheme)
	}
}

// ValidateWebSocketURL validates that the URL uses the ws or wss scheme.
// Plain ws is allowed only for localhost.
func ValidateWebSocketURL(endpoint string) error {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL %q has no host", endpoint)
	}
	switch parsed.Scheme {
	case "wss":
		return nil
	case "ws":
		if IsLocalhost(parsed.Host) {
			return nil
		}
		return fmt.Errorf("URL %q must use WSS", endpoint)
	default:
		return fmt.Errorf("URL %q has unsupported scheme %q", endpoint, parsed.Scheme)
	}
}
