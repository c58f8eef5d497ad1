package auth0

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/auth0/go-auth0/management"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Config holds the settings needed to talk to the Management API of one tenant.
type Config struct {
	// Domain is the tenant domain, e.g. "example.eu.auth0.com".
	// An http:// domain is a local tenant emulator: requests go out
	// unencrypted and without a client-credentials token.
	Domain       string
	ClientID     string
	ClientSecret string
	// RequestsPerSecond throttles all API calls. Zero or negative disables throttling.
	RequestsPerSecond float64
	// Timeout bounds each individual request. Zero disables the per-request deadline.
	Timeout time.Duration
	// NoRetries disables the SDK's retries of rate-limited requests.
	NoRetries bool
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Client covers the Management API v2 endpoints needed to reconcile rules,
// database scripts and the login template.
type Client struct {
	api     *management.Management
	timeout time.Duration
}

// throttledTransport waits for the limiter before every round trip.
type throttledTransport struct {
	limiter *rate.Limiter
	next    http.RoundTripper
}

func (t *throttledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	started := time.Now()
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("Management API call")
	return resp, nil
}

func newThrottledTransport(requestsPerSecond float64) *throttledTransport {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &throttledTransport{limiter: rate.NewLimiter(limit, 1), next: http.DefaultTransport}
}

// New creates a client that authenticates with the client-credentials grant
// against the tenant's own token endpoint.
func New(ctx context.Context, cfg Config) (*Client, error) {
	domain := strings.TrimSuffix(strings.TrimSpace(cfg.Domain), "/")
	if domain == "" {
		return nil, errors.New("tenant domain is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("client id and client secret are required")
	}

	opts := []management.Option{
		management.WithClient(&http.Client{Transport: newThrottledTransport(cfg.RequestsPerSecond)}),
	}
	if cfg.NoRetries {
		opts = append(opts, management.WithNoRetries())
	}
	if host, ok := strings.CutPrefix(domain, "http://"); ok {
		domain = host
		opts = append(opts, management.WithInsecure())
	} else {
		domain = strings.TrimPrefix(domain, "https://")
		opts = append(opts, management.WithClientCredentials(ctx, cfg.ClientID, cfg.ClientSecret))
	}
	if _, err := url.Parse("https://" + domain); err != nil {
		return nil, fmt.Errorf("invalid tenant domain %q: %w", cfg.Domain, err)
	}

	api, err := management.New(domain, opts...)
	if err != nil {
		return nil, fmt.Errorf("create management client for %s: %w", domain, err)
	}
	return &Client{api: api, timeout: cfg.Timeout}, nil
}

// do sends a request through the SDK, which encodes payload as the body
// and decodes the response into it.
func (c *Client) do(ctx context.Context, method string, path []string, payload any, opts ...management.RequestOption) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	err := c.api.Request(ctx, method, c.api.URI(path...), payload, opts...)
	if err == nil {
		return nil
	}
	p := "/api/v2/" + strings.Join(path, "/")
	var mErr management.Error
	if errors.As(err, &mErr) {
		return &APIError{Method: method, Path: p, StatusCode: mErr.Status(), Message: mErr.Error()}
	}
	return fmt.Errorf("%s %s: %w", method, p, err)
}

// exchange sends in as the request body and decodes the response into out,
// for endpoints whose request and response shapes differ.
type exchange[In, Out any] struct {
	in  In
	out *Out
}

func (e *exchange[In, Out]) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.in)
}

func (e *exchange[In, Out]) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, e.out)
}

func listPage[T any](ctx context.Context, c *Client, collection string, page, perPage int) ([]T, error) {
	var items []T
	if err := c.do(ctx, http.MethodGet, []string{collection}, &items, management.Page(page), management.PerPage(perPage)); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) RolesPage(ctx context.Context, page, perPage int) ([]Role, error) {
	return listPage[Role](ctx, c, "roles", page, perPage)
}

func (c *Client) ClientsPage(ctx context.Context, page, perPage int) ([]Application, error) {
	return listPage[Application](ctx, c, "clients", page, perPage)
}

func (c *Client) ConnectionsPage(ctx context.Context, page, perPage int) ([]Connection, error) {
	return listPage[Connection](ctx, c, "connections", page, perPage)
}

func (c *Client) RulesPage(ctx context.Context, page, perPage int) ([]Rule, error) {
	return listPage[Rule](ctx, c, "rules", page, perPage)
}

// AllRoles pages through every role on the tenant.
func (c *Client) AllRoles(ctx context.Context) ([]Role, error) {
	return Paginate[Role](ctx, c.RolesPage)
}

// AllClients pages through every application on the tenant.
func (c *Client) AllClients(ctx context.Context) ([]Application, error) {
	return Paginate[Application](ctx, c.ClientsPage)
}

// AllConnections pages through every connection on the tenant.
func (c *Client) AllConnections(ctx context.Context) ([]Connection, error) {
	return Paginate[Connection](ctx, c.ConnectionsPage)
}

// AllRules pages through every rule on the tenant.
func (c *Client) AllRules(ctx context.Context) ([]Rule, error) {
	return Paginate[Rule](ctx, c.RulesPage)
}

func (c *Client) CreateRule(ctx context.Context, r Rule) (Rule, error) {
	if err := c.do(ctx, http.MethodPost, []string{"rules"}, &r); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func (c *Client) UpdateRule(ctx context.Context, id string, u RuleUpdate) (Rule, error) {
	var updated Rule
	if err := c.do(ctx, http.MethodPatch, []string{"rules", id}, &exchange[RuleUpdate, Rule]{in: u, out: &updated}); err != nil {
		return Rule{}, err
	}
	return updated, nil
}

func (c *Client) UpdateConnection(ctx context.Context, id string, u ConnectionUpdate) (Connection, error) {
	var updated Connection
	if err := c.do(ctx, http.MethodPatch, []string{"connections", id}, &exchange[ConnectionUpdate, Connection]{in: u, out: &updated}); err != nil {
		return Connection{}, err
	}
	return updated, nil
}

// UniversalLoginTemplate returns the tenant's custom login page template,
// or "" if none is set.
func (c *Client) UniversalLoginTemplate(ctx context.Context) (string, error) {
	var payload struct {
		Body string `json:"body,omitempty"`
	}
	err := c.do(ctx, http.MethodGet, []string{"branding", "templates", "universal-login"}, &payload)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return payload.Body, nil
}

func (c *Client) SetUniversalLoginTemplate(ctx context.Context, template string) error {
	body := map[string]string{"template": template}
	return c.do(ctx, http.MethodPut, []string{"branding", "templates", "universal-login"}, &body)
}
