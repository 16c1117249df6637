package appliance

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	loginPath       = "/api/v310/session/login"
	deviceInfoPath  = "/api/v310/appliance/default/info"
	statsPath       = "/api/v310/datastore/default/statsSummary"
	sessionCookie   = "JSESSIONID"
	credentialsType = "com.tintri.api.rest.vcommon.dto.rbac.RestApiCredentials"

	defaultTimeout = 30 * time.Second
)

var (
	// ErrNoSession is returned when a login succeeds without a session cookie.
	ErrNoSession = errors.New("no " + sessionCookie + " cookie in response")
	// ErrUnexpectedStatus wraps non-200 responses.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// Client talks to the REST API of a set of appliances.
// Certificate validation is disabled since appliances use self-signed certificates.
type Client struct {
	http   *http.Client
	scheme string
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithScheme overrides the URL scheme, https by default.
func WithScheme(scheme string) Option {
	return func(c *Client) {
		c.scheme = scheme
	}
}

// NewClient creates an appliance API client.
func NewClient(opts ...Option) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	c := &Client{
		http:   &http.Client{Transport: transport, Timeout: defaultTimeout},
		scheme: "https",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) url(target, path string) string {
	return c.scheme + "://" + target + path
}

// Login opens a session on target.
func (c *Client) Login(ctx context.Context, target string, creds Credentials) (Session, error) {
	payload, err := json.Marshal(loginRequest{
		Username: creds.Username,
		Password: creds.Password,
		TypeID:   credentialsType,
	})
	if err != nil {
		return Session{}, &AuthError{Target: target, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(target, loginPath), bytes.NewReader(payload))
	if err != nil {
		return Session{}, &AuthError{Target: target, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return Session{}, &AuthError{Target: target, Err: err}
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode != http.StatusOK {
		return Session{}, &AuthError{Target: target, StatusCode: res.StatusCode, Err: ErrUnexpectedStatus}
	}

	for _, cookie := range res.Cookies() {
		if cookie.Name == sessionCookie && cookie.Value != "" {
			return Session{Target: target, ID: cookie.Value}, nil
		}
	}
	return Session{}, &AuthError{Target: target, StatusCode: res.StatusCode, Err: ErrNoSession}
}

// DeviceInfo fetches the appliance metadata (model, serial, OS version, ...).
func (c *Client) DeviceInfo(ctx context.Context, s Session) (Fields, error) {
	return c.getFields(ctx, s, deviceInfoPath, "device info")
}

// UsageStats fetches the datastore statistics summary.
func (c *Client) UsageStats(ctx context.Context, s Session) (Fields, error) {
	return c.getFields(ctx, s, statsPath, "stats summary")
}

// Snapshot fetches device info and usage stats and merges them.
func (c *Client) Snapshot(ctx context.Context, s Session) (Snapshot, error) {
	info, err := c.DeviceInfo(ctx, s)
	if err != nil {
		return Snapshot{}, err
	}
	stats, err := c.UsageStats(ctx, s)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Target:    s.Target,
		Fields:    Merge(info, stats),
		FetchedAt: time.Now(),
	}, nil
}

// Merge combines device info and usage stats into a new map.
// Usage stats win when both carry the same key.
func Merge(info, stats Fields) Fields {
	merged := make(Fields, len(info)+len(stats))
	for k, v := range info {
		merged[k] = v
	}
	for k, v := range stats {
		merged[k] = v
	}
	return merged
}

func (c *Client) getFields(ctx context.Context, s Session, path, resource string) (Fields, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(s.Target, path), nil)
	if err != nil {
		return nil, &FetchError{Target: s.Target, Resource: resource, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", sessionCookie+"="+s.ID)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Target: s.Target, Resource: resource, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			err = fmt.Errorf("%w: %s", ErrUnexpectedStatus, msg)
		} else {
			err = ErrUnexpectedStatus
		}
		return nil, &FetchError{Target: s.Target, Resource: resource, StatusCode: res.StatusCode, Err: err}
	}

	var fields Fields
	decoder := json.NewDecoder(res.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&fields); err != nil {
		return nil, &FetchError{Target: s.Target, Resource: resource, StatusCode: res.StatusCode, Err: fmt.Errorf("decode body: %w", err)}
	}
	if fields == nil {
		return nil, &FetchError{Target: s.Target, Resource: resource, StatusCode: res.StatusCode, Err: errors.New("body is not a JSON object")}
	}
	return fields, nil
}
