package gcp

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// OAuthTokenProvider hands out a valid Google access token with the
// calendar scope, refreshing through the underlying source only when the
// cached token has expired.
type OAuthTokenProvider struct {
	source oauth2.TokenSource

	mu     sync.Mutex
	cached *oauth2.Token
}

// NewOAuthTokenProvider wraps an oauth2 token source (e.g. a user's
// sign-in credentials or a service account).
func NewOAuthTokenProvider(source oauth2.TokenSource) *OAuthTokenProvider {
	return &OAuthTokenProvider{source: source}
}

// Token returns the cached access token, acquiring a fresh one when the
// cached token is missing or expired.
func (p *OAuthTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached.Valid() {
		return p.cached.AccessToken, nil
	}
	tok, err := p.source.Token()
	if err != nil {
		return "", fmt.Errorf("failed to acquire calendar token: %w", err)
	}
	p.cached = tok
	return tok.AccessToken, nil
}

// CalendarClient inserts events into a single Google Calendar. The
// underlying API service is rebuilt only when the access token changes.
type CalendarClient struct {
	calendarID string

	mu      sync.Mutex
	token   string
	service *calendar.Service
}

// NewCalendarClient targets the given calendar; "primary" is the signed-in
// user's default calendar.
func NewCalendarClient(calendarID string) *CalendarClient {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &CalendarClient{calendarID: calendarID}
}

// InsertEvent creates one event and returns its external event ID.
func (c *CalendarClient) InsertEvent(ctx context.Context, accessToken string, event *calendar.Event) (string, error) {
	svc, err := c.serviceFor(ctx, accessToken)
	if err != nil {
		return "", err
	}

	created, err := svc.Events.Insert(c.calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("calendar insert failed: %w", err)
	}
	return created.Id, nil
}

func (c *CalendarClient) serviceFor(ctx context.Context, accessToken string) (*calendar.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.service != nil && c.token == accessToken {
		return c.service, nil
	}
	svc, err := calendar.NewService(ctx, option.WithTokenSource(
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	c.token = accessToken
	c.service = svc
	return svc, nil
}
