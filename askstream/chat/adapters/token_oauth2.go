package adapters

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	ports "github.com/ZanzyTHEbar/askstream/askstream/chat/ports"
)

// OAuth2TokenProvider implements TokenProvider over an oauth2.TokenSource.
// Sources returned by the constructors below cache the token until it expires.
type OAuth2TokenProvider struct {
	source oauth2.TokenSource
}

// NewOAuth2TokenProvider wraps an existing token source.
func NewOAuth2TokenProvider(source oauth2.TokenSource) *OAuth2TokenProvider {
	return &OAuth2TokenProvider{source: source}
}

// NewStaticTokenProvider always hands out token.
func NewStaticTokenProvider(token string) *OAuth2TokenProvider {
	return NewOAuth2TokenProvider(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
}

// NewClientCredentialsTokenProvider fetches tokens from tokenURL with the
// client credentials grant. ctx is used for the token HTTP calls for the
// lifetime of the provider.
func NewClientCredentialsTokenProvider(ctx context.Context, clientID, clientSecret, tokenURL string, scopes []string) *OAuth2TokenProvider {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	return NewOAuth2TokenProvider(cfg.TokenSource(ctx))
}

// Token returns the current access token.
func (p *OAuth2TokenProvider) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := p.source.Token()
	if err != nil {
		return "", fmt.Errorf("failed to obtain access token: %w", err)
	}
	return tok.AccessToken, nil
}

var _ ports.TokenProvider = (*OAuth2TokenProvider)(nil)
