package clientcreds

import (
	"encoding/json"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/protocolos/handshake/pkg/errors"
	"github.com/protocolos/handshake/pkg/protocol"
)

// assertionType is the RFC 7523 client assertion type.
const assertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// assertionLifetime bounds how long a client assertion stays valid.
const assertionLifetime = 5 * time.Minute

// buildClientAssertion signs a JWT client assertion per RFC 7523:
// HMAC-SHA256 keyed by the client secret for client_secret_jwt, RSA for
// private_key_jwt. Every assertion carries a fresh random jti.
func buildClientAssertion(bag protocol.CredentialBag) (string, error) {
	clientID := bag.String("client_id")
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": clientID,
		"sub": clientID,
		"aud": bag.String("token_url"),
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(assertionLifetime).Unix(),
	}

	if bag.String("client_auth_method") == AuthPrivateKeyJWT {
		keyPEM := bag.String("private_key")
		if keyPEM == "" {
			return "", errors.NewConfigurationError("private_key is required for private_key_jwt", nil)
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(keyPEM))
		if err != nil {
			return "", errors.NewConfigurationError("failed to parse RSA private key", err)
		}
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		if kid := bag.String("key_id"); kid != "" {
			token.Header["kid"] = kid
		}
		signed, err := token.SignedString(key)
		if err != nil {
			return "", errors.NewInternalError("failed to sign client assertion", err)
		}
		return signed, nil
	}

	secret := bag.String("client_secret")
	if secret == "" {
		return "", errors.NewConfigurationError("client_secret is required for client_secret_jwt", nil)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", errors.NewInternalError("failed to sign client assertion", err)
	}
	return signed, nil
}

func decodeJSON(body []byte, v any) error {
	return json.Unmarshal(body, v)
}

func formReader(form url.Values) io.Reader {
	return strings.NewReader(form.Encode())
}
