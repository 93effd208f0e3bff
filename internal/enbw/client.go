package enbw

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jkaberg/enbw-hass/internal/config"
	"github.com/sirupsen/logrus"
)

// Request headers expected by the EnBW API gateway.
const (
	headerSubscriptionKey = "Ocp-Apim-Subscription-Key"
	userAgent             = "Home Assistant"
	origin                = "https://www.enbw.com"
	referer               = "https://www.enbw.com/"
)

// Credentials identify one charge station and the key used to read it.
type Credentials struct {
	StationID string
	APIKey    string
}

// Client fetches charge station status from the EnBW e-mobility API.
// It never retries; scheduling is the coordinator's job.
type Client struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a client for a single station. A nil httpClient gets a
// plain client with the default fetch timeout.
func NewClient(baseURL string, creds Credentials, httpClient *http.Client, logger *logrus.Logger) *Client {
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.DefaultFetchTimeout}
	}
	return &Client{
		baseURL:    baseURL,
		creds:      creds,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Fetch performs one GET for the configured station and decodes the body.
func (c *Client) Fetch(ctx context.Context) (*Snapshot, error) {
	body, err := c.makeRequest(ctx, c.creds.StationID)
	if err != nil {
		return nil, err
	}

	snap, err := ParseSnapshot(body)
	if err != nil {
		return nil, &RemoteError{Err: err}
	}
	if snap.StationID == "" {
		snap.StationID = c.creds.StationID
	}

	for _, warning := range ValidateSnapshot(snap) {
		c.logger.WithField("station_id", c.creds.StationID).Warn(warning)
	}

	c.logger.WithFields(logrus.Fields{
		"station_id": c.creds.StationID,
		"available":  snap.Available,
		"total":      snap.Total,
	}).Debug("ENBW data fetched")

	return snap, nil
}

// Logout releases the session. The API is stateless, so there is nothing to
// tell the remote side; the call exists for symmetry with Authenticate.
func (c *Client) Logout(ctx context.Context) error {
	_ = ctx
	c.logger.WithField("station_id", c.creds.StationID).Debug("ENBW client logged out")
	return nil
}

// makeRequest performs the HTTP request to the EnBW API
func (c *Client) makeRequest(ctx context.Context, endpoint string) ([]byte, error) {
	fullURL := c.baseURL + endpoint

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, &RemoteError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerSubscriptionKey, c.creds.APIKey)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Origin", origin)
	req.Header.Set("Referer", referer)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RemoteError{Err: fmt.Errorf("HTTP request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &AuthError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, &RemoteError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("API returned %s: %s", resp.Status, strings.TrimSpace(string(snippet))),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	c.logger.WithFields(logrus.Fields{
		"status_code":   resp.StatusCode,
		"response_size": len(body),
		"duration":      time.Since(start),
	}).Debug("Received API response")

	return body, nil
}
