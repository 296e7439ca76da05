package protocol

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubModule is a minimal Module for registry tests.
type stubModule struct{ id int }

func (*stubModule) Metadata() Metadata                      { return Metadata{Type: "stub"} }
func (*stubModule) RequiredFields() []FieldDefinition       { return nil }
func (*stubModule) OptionalFields() []FieldDefinition       { return nil }
func (*stubModule) ValidateCredentials(CredentialBag) *ValidationResult {
	return ValidResult()
}
func (*stubModule) Authenticate(context.Context, CredentialBag, int) *FlowResult {
	return &FlowResult{Kind: FlowComplete}
}
func (*stubModule) HandleCallback(map[string]string, string) *FlowResult {
	return &FlowResult{Kind: FlowError}
}
func (*stubModule) InjectAuthentication(*ExecutionContext) (*Injection, error) {
	return &Injection{}, nil
}
func (*stubModule) ExecuteRequest(context.Context, *ExecutionContext) *ExecutionResult {
	return &ExecutionResult{Success: true}
}
func (*stubModule) RefreshTokens(context.Context, CredentialBag) *RefreshResult {
	return &RefreshResult{Success: true}
}
func (*stubModule) RevokeTokens(context.Context, CredentialBag) *RevokeResult {
	return &RevokeResult{Success: true}
}
func (*stubModule) IsTokenExpired(CredentialBag) bool                  { return false }
func (*stubModule) TokenExpirationTime(CredentialBag) (time.Time, bool) { return time.Time{}, false }
func (*stubModule) HealthCheck(context.Context, CredentialBag) *HealthStatus {
	return &HealthStatus{Healthy: true}
}

func TestRegistry_ResolveCachesInstance(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	calls := 0
	registry.Register("stub", func() Module {
		calls++
		return &stubModule{id: calls}
	})

	first, err := registry.Resolve("stub")
	require.NoError(t, err)
	second, err := registry.Resolve("stub")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestRegistry_ResolveUnknownType(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	_, err := registry.Resolve("nope")
	assert.ErrorContains(t, err, "unknown protocol type")
}

func TestRegistry_DuplicateRegistrationPanics(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Register("stub", func() Module { return &stubModule{} })
	assert.Panics(t, func() {
		registry.Register("stub", func() Module { return &stubModule{} })
	})
}

func TestRegistry_ConcurrentResolveConstructsOnce(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	var constructions int
	registry.Register("stub", func() Module {
		constructions++
		return &stubModule{}
	})

	var wg sync.WaitGroup
	instances := make([]Module, 16)
	for i := range instances {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inst, err := registry.Resolve("stub")
			assert.NoError(t, err)
			instances[i] = inst
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, constructions)
	for _, inst := range instances {
		assert.Same(t, instances[0], inst)
	}
}

func TestRegistry_TypesSorted(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	for _, name := range []Type{"zeta", "alpha", "mid"} {
		registry.Register(name, func() Module { return &stubModule{} })
	}
	assert.Equal(t, []Type{"alpha", "mid", "zeta"}, registry.Types())
}
