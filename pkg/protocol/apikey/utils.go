package apikey

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// MaskKey returns a display-safe form of a key: the first and last keep
// characters with the middle elided. Keys too short to mask safely are
// fully elided.
func MaskKey(key string, keep int) string {
	if keep <= 0 {
		keep = 4
	}
	if len(key) <= keep*2 {
		return strings.Repeat("*", 8)
	}
	return key[:keep] + "..." + key[len(key)-keep:]
}

// knownPrefixes maps provider key prefixes to provider names, checked in
// order so longer prefixes win.
var knownPrefixes = []struct {
	prefix   string
	provider string
}{
	{"sk_live_", "stripe"},
	{"sk_test_", "stripe"},
	{"pk_live_", "stripe"},
	{"pk_test_", "stripe"},
	{"ghp_", "github"},
	{"github_pat_", "github"},
	{"xoxb-", "slack"},
	{"xoxp-", "slack"},
	{"AKIA", "aws"},
	{"AIza", "google"},
	{"sk-", "openai"},
}

// DetectProvider guesses the issuing provider from the key's prefix.
// Returns "" when the format is not recognized.
func DetectProvider(key string) string {
	for _, entry := range knownPrefixes {
		if strings.HasPrefix(key, entry.prefix) {
			return entry.provider
		}
	}
	return ""
}

// minKeyLength is the shortest key accepted by hygiene validation. Real
// provider keys are all longer; anything shorter is almost certainly a
// paste error.
const minKeyLength = 8

// ValidateKeyHygiene checks a key for the common paste mistakes:
// surrounding quotes, embedded whitespace or newlines, and implausible
// length. Returns one message per problem found.
func ValidateKeyHygiene(key string) []string {
	var problems []string
	if len(key) < minKeyLength {
		problems = append(problems, fmt.Sprintf("key is shorter than %d characters", minKeyLength))
	}
	if strings.HasPrefix(key, "\"") || strings.HasSuffix(key, "\"") ||
		strings.HasPrefix(key, "'") || strings.HasSuffix(key, "'") {
		problems = append(problems, "key has surrounding quotes")
	}
	if strings.ContainsAny(key, "\r\n") {
		problems = append(problems, "key contains a newline")
	} else if strings.ContainsAny(key, " \t") {
		problems = append(problems, "key contains whitespace")
	}
	return problems
}

// basicCredentials encodes a username/password pair for an HTTP Basic
// Authorization header.
func basicCredentials(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
