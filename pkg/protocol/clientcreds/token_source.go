package clientcreds

import (
	"context"
	"sync"

	"golang.org/x/oauth2"

	"github.com/protocolos/handshake/pkg/protocol"
)

// TokenSource adapts the executor to oauth2.TokenSource so callers can
// plug it into any client built on golang.org/x/oauth2. The source reads
// the cached token from the bag and refreshes through the executor's
// coalesced path when the cache is stale.
func (e *Executor) TokenSource(ctx context.Context, bag protocol.CredentialBag) oauth2.TokenSource {
	return &executorTokenSource{executor: e, ctx: ctx, bag: bag}
}

type executorTokenSource struct {
	executor *Executor
	ctx      context.Context
	bag      protocol.CredentialBag
	mu       sync.Mutex
}

// Token returns the cached token while it is live, refreshing otherwise.
func (s *executorTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bag.String("access_token") != "" && !protocol.IsTokenExpired(s.bag) {
		return tokenFromBag(s.bag), nil
	}

	refresh := s.executor.RefreshTokens(s.ctx, s.bag)
	if !refresh.Success {
		return nil, &oauth2.RetrieveError{
			ErrorDescription: refresh.ErrorMessage,
		}
	}
	s.bag.Merge(refresh.Updated)
	return tokenFromBag(s.bag), nil
}

func tokenFromBag(bag protocol.CredentialBag) *oauth2.Token {
	token := &oauth2.Token{
		AccessToken: bag.String("access_token"),
		TokenType:   defaultTokenType(bag.String("token_type")),
	}
	if expiry, ok := protocol.TokenExpirationTime(bag); ok {
		token.Expiry = expiry
	}
	return token
}

var _ oauth2.TokenSource = (*executorTokenSource)(nil)
