package graph

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"calmirror/internal/token"
)

// Scopes requested for calendar access; offline_access yields a refresh token.
var Scopes = []string{"offline_access", "https://graph.microsoft.com/Calendars.ReadWrite"}

// ErrInteractionRequired is returned when no usable token is stored and the
// caller did not allow an interactive consent flow.
var ErrInteractionRequired = errors.New("no valid token; run with --interactive to authenticate")

// OAuthConfig builds the authorization-code configuration for tenant.
func OAuthConfig(clientID, clientSecret, tenant, redirectURL string) *oauth2.Config {
	if tenant == "" {
		tenant = "common"
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     microsoft.AzureADEndpoint(tenant),
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
	}
}

// Authenticate prepares an authorized HTTP client and resolves the target
// calendar. With allowInteractive the consent flow runs when no stored token
// exists or the stored one can no longer be refreshed.
func (c *Client) Authenticate(ctx context.Context, allowInteractive bool) error {
	tok, err := c.store.Load()
	switch {
	case errors.Is(err, token.ErrNoToken):
		if !allowInteractive {
			return ErrInteractionRequired
		}
		if tok, err = c.interactiveLogin(ctx); err != nil {
			return err
		}
	case err != nil:
		return err
	}

	ts, err := c.tokenSource(tok)
	if err != nil {
		if !allowInteractive {
			return fmt.Errorf("%w: %v", ErrInteractionRequired, err)
		}
		c.logger.Warn("stored token rejected; starting interactive login", "err", err)
		if tok, err = c.interactiveLogin(ctx); err != nil {
			return err
		}
		if ts, err = c.tokenSource(tok); err != nil {
			return err
		}
	}

	hc := oauth2.NewClient(c.oauthContext(), ts)
	hc.Timeout = c.base.Timeout
	c.http = hc
	return c.resolveCalendar(ctx)
}

// tokenSource wraps tok so refreshes are persisted, and checks that a valid
// access token can be obtained from it now.
func (c *Client) tokenSource(tok *oauth2.Token) (oauth2.TokenSource, error) {
	ts := token.Persisting(c.oauth.TokenSource(c.oauthContext(), tok), c.store, tok)
	if _, err := ts.Token(); err != nil {
		return nil, err
	}
	return ts, nil
}

// oauthContext carries the base HTTP client used for token requests. It is
// detached from any pass so background refreshes are not cut short.
func (c *Client) oauthContext() context.Context {
	return context.WithValue(context.Background(), oauth2.HTTPClient, c.base)
}

func (c *Client) interactiveLogin(ctx context.Context) (*oauth2.Token, error) {
	state := uuid.NewString()
	authURL := c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)

	fmt.Fprintln(c.out, "Visit the following URL to authorize calendar access:")
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, authURL)
	fmt.Fprintln(c.out)
	fmt.Fprint(c.out, "Paste the full redirect URL (or the code) here: ")

	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && strings.TrimSpace(line) == "" {
		return nil, fmt.Errorf("read authorization response: %w", err)
	}
	code, err := extractCode(line, state)
	if err != nil {
		return nil, err
	}

	exCtx := context.WithValue(ctx, oauth2.HTTPClient, c.base)
	tok, err := c.oauth.Exchange(exCtx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	if err := c.store.Save(tok); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	c.logger.Info("authentication successful", "token_path", c.store.Path())
	return tok, nil
}

// extractCode accepts either a redirect URL carrying code/state query
// parameters or a bare authorization code.
func extractCode(input, wantState string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("empty authorization response")
	}
	if !strings.Contains(input, "code=") && !strings.Contains(input, "error=") {
		return input, nil
	}

	raw := input
	if i := strings.Index(raw, "?"); i >= 0 {
		raw = raw[i+1:]
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return "", fmt.Errorf("parse redirect url: %w", err)
	}
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("authorization denied: %s: %s", e, q.Get("error_description"))
	}
	if st := q.Get("state"); st != "" && st != wantState {
		return "", errors.New("authorization state mismatch")
	}
	code := q.Get("code")
	if code == "" {
		return "", errors.New("redirect url carries no code")
	}
	return code, nil
}
