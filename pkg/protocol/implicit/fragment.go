package implicit

import (
	"net/url"
	"strings"

	"github.com/protocolos/handshake/pkg/errors"
)

// ParseFragment parses a redirect URL fragment into the callback
// parameter set consumed by HandleCallback. A leading '#' is tolerated.
// Fragments use the same key=value&... encoding as a query string.
func ParseFragment(fragment string) (map[string]string, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(fragment, "#"))
	if err != nil {
		return nil, errors.NewAuthenticationError("redirect fragment is malformed", err)
	}
	params := make(map[string]string, len(values))
	for key := range values {
		params[key] = values.Get(key)
	}
	return params, nil
}
