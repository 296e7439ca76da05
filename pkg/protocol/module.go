package protocol

import (
	"context"
	"time"
)

// Module is the contract every protocol executor implements.
//
// Executors are long-lived: one instance serves many calls. Per-flow
// state (e.g. the implicit grant's transient state/nonce) is owned by
// the instance and must not leak across instances. Methods that perform
// I/O take a context and never let transport or parsing failures escape
// as panics; they are converted into the corresponding failed result
// shape.
type Module interface {
	// Metadata returns the static descriptor. No side effects.
	Metadata() Metadata

	// RequiredFields and OptionalFields return the field definitions
	// used for validation and UI generation. Pure.
	RequiredFields() []FieldDefinition
	OptionalFields() []FieldDefinition

	// ValidateCredentials checks required-field presence and
	// protocol-specific format rules. Never returns an error; problems
	// are reported per-field.
	ValidateCredentials(bag CredentialBag) *ValidationResult

	// Authenticate drives one step of the authentication flow. Step
	// numbering starts at 1; stateless protocols complete in a single
	// step.
	Authenticate(ctx context.Context, bag CredentialBag, step int) *FlowResult

	// HandleCallback finalizes an interactive flow from redirect
	// parameters. Non-interactive protocols return an error-variant
	// result.
	HandleCallback(params map[string]string, expectedState string) *FlowResult

	// InjectAuthentication derives the headers, query parameters, and
	// body fields carrying the credentials. Pure; performs no I/O.
	// Returns an error when the required secret is absent, which
	// indicates caller misuse rather than a runtime condition.
	InjectAuthentication(execCtx *ExecutionContext) (*Injection, error)

	// ExecuteRequest performs the outbound call: inject, send, parse,
	// and for protocols that support refresh, at most one
	// refresh-and-retry cycle on a 401.
	ExecuteRequest(ctx context.Context, execCtx *ExecutionContext) *ExecutionResult

	// RefreshTokens obtains fresh token material where the protocol
	// supports it. Concurrent calls on one instance coalesce into a
	// single underlying request.
	RefreshTokens(ctx context.Context, bag CredentialBag) *RefreshResult

	// RevokeTokens revokes the current token, best-effort.
	RevokeTokens(ctx context.Context, bag CredentialBag) *RevokeResult

	// IsTokenExpired reports whether the stored token is expired or
	// within the safety buffer of expiry.
	IsTokenExpired(bag CredentialBag) bool

	// TokenExpirationTime returns the stored expiry, when one exists.
	TokenExpirationTime(bag CredentialBag) (time.Time, bool)

	// HealthCheck probes the protocol's liveness/validity and returns a
	// normalized summary.
	HealthCheck(ctx context.Context, bag CredentialBag) *HealthStatus
}
