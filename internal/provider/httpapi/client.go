// Package httpapi implements the provider capabilities against the hosted
// booking API: REST for identity and data, websocket for the auth change
// stream.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"roomsync/internal/domain/booking"
	xerrors "roomsync/internal/pkg/errors"
	"roomsync/internal/provider"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	requestTimeout = 10 * time.Second
	healthTimeout  = 3 * time.Second
)

type Config struct {
	// BaseURL is the API root, e.g. https://api.example.com.
	BaseURL string
	// APIKey is the publishable key sent with every request.
	APIKey string
}

// Client talks to the booking API. It holds the current remote session,
// dispatches change-stream events to registered handlers, and implements
// provider.IdentityProvider and provider.BookingAPI.
type Client struct {
	cfg      Config
	http     *http.Client
	clientID string
	logger   *zap.Logger

	mu       sync.Mutex
	session  *provider.RemoteSession
	handlers map[string]func(provider.AuthEvent)

	stream *stream
}

func New(cfg Config, logger *zap.Logger) *Client {
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: requestTimeout},
		clientID: ulid.Make().String(),
		logger:   logger,
		handlers: make(map[string]func(provider.AuthEvent)),
	}
}

// ========== Identity ==========

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	User        struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*provider.RemoteSession, error) {
	body := map[string]string{"email": email, "password": password}
	var resp tokenResponse
	status, err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "", body, &resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerrors.ErrProviderUnreachable, err)
	}
	if status == http.StatusBadRequest || status == http.StatusUnauthorized {
		return nil, xerrors.ErrInvalidCredentials
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: sign-in returned status %d", xerrors.ErrProviderUnreachable, status)
	}

	remote := &provider.RemoteSession{
		UserID:      resp.User.ID,
		Email:       resp.User.Email,
		AccessToken: resp.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}

	c.mu.Lock()
	c.session = remote
	c.mu.Unlock()

	// Local emit, mirroring what the hosted stream will also announce.
	c.dispatch(provider.AuthEvent{Type: provider.EventSignedIn, Session: remote})
	return remote, nil
}

func (c *Client) BeginOAuth(providerName, redirectTo string) (string, error) {
	if providerName == "" {
		return "", fmt.Errorf("oauth provider name required")
	}
	q := url.Values{}
	q.Set("provider", providerName)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return c.cfg.BaseURL + "/auth/v1/authorize?" + q.Encode(), nil
}

func (c *Client) CurrentSession(ctx context.Context) (*provider.RemoteSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || !time.Now().Before(c.session.ExpiresAt) {
		return nil, nil
	}
	remote := *c.session
	return &remote, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	token := ""
	if c.session != nil {
		token = c.session.AccessToken
	}
	c.session = nil
	c.mu.Unlock()

	c.dispatch(provider.AuthEvent{Type: provider.EventSignedOut})

	if token == "" {
		return nil
	}
	status, err := c.do(ctx, http.MethodPost, "/auth/v1/logout", token, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", xerrors.ErrProviderUnreachable, err)
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("sign-out returned status %d", status)
	}
	return nil
}

func (c *Client) RequestPasswordReset(ctx context.Context, email, redirectTo string) error {
	body := map[string]string{"email": email}
	if redirectTo != "" {
		body["redirect_to"] = redirectTo
	}
	status, err := c.do(ctx, http.MethodPost, "/auth/v1/recover", "", body, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", xerrors.ErrProviderUnreachable, err)
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("password reset returned status %d", status)
	}
	return nil
}

func (c *Client) FetchProfile(ctx context.Context, id string) (*provider.ProfileRow, error) {
	path := "/rest/v1/profiles?id=eq." + url.QueryEscape(id)
	var rows []provider.ProfileRow
	status, err := c.do(ctx, http.MethodGet, path, c.token(), nil, &rows)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch profile returned status %d", status)
	}
	if len(rows) == 0 {
		return nil, xerrors.ErrProfileNotFound
	}
	return &rows[0], nil
}

// OnAuthStateChange registers a change-stream handler and returns its
// cancellation token.
func (c *Client) OnAuthStateChange(handler func(provider.AuthEvent)) provider.Subscription {
	id := ulid.Make().String()
	c.mu.Lock()
	c.handlers[id] = handler
	c.mu.Unlock()
	return &subscription{client: c, id: id}
}

type subscription struct {
	client *Client
	once   sync.Once
	id     string
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.client.mu.Lock()
		delete(s.client.handlers, s.id)
		s.client.mu.Unlock()
	})
}

func (c *Client) dispatch(ev provider.AuthEvent) {
	c.mu.Lock()
	fns := make([]func(provider.AuthEvent), 0, len(c.handlers))
	for _, fn := range c.handlers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// ========== Booking data ==========

func (c *Client) ActiveRooms(ctx context.Context) ([]booking.Room, error) {
	var rooms []booking.Room
	status, err := c.do(ctx, http.MethodGet, "/rest/v1/rooms?status=eq.active&order=name", c.token(), nil, &rooms)
	if err != nil {
		return nil, fmt.Errorf("fetch rooms: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch rooms returned status %d", status)
	}
	return rooms, nil
}

func (c *Client) BookingsInRange(ctx context.Context, userID string, from, to time.Time) ([]booking.Booking, error) {
	q := url.Values{}
	q.Set("user_id", "eq."+userID)
	q.Set("ends_at", "gte."+from.UTC().Format(time.RFC3339))
	q.Set("starts_at", "lte."+to.UTC().Format(time.RFC3339))
	q.Set("order", "starts_at")

	var bookings []booking.Booking
	status, err := c.do(ctx, http.MethodGet, "/rest/v1/bookings?"+q.Encode(), c.token(), nil, &bookings)
	if err != nil {
		return nil, fmt.Errorf("fetch bookings: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch bookings returned status %d", status)
	}
	return bookings, nil
}

// Healthy backs the replicator's online gate.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	status, err := c.do(ctx, http.MethodGet, "/auth/v1/health", "", nil, nil)
	return err == nil && status == http.StatusOK
}

// ========== Transport ==========

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", c.cfg.APIKey)
	req.Header.Set("X-Client-ID", c.clientID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
