// Package flower implements a client for the Flower Power cloud API. It covers
// the three calls the bot needs: password-grant authentication, the garden
// status listing, and plant image fetching.
package flower

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/m3rciful/florabot/core/logger"
)

const defaultBaseURL = "https://api-flower-power-pot.parrot.com"

// Config carries API credentials shared by every client instance.
type Config struct {
	ClientID     string
	ClientSecret string
	// BaseURL overrides the production endpoint, mainly for tests.
	BaseURL string
	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client
}

// Client performs authenticated calls against the Flower Power API.
type Client struct {
	cfg   Config
	token string
	http  *http.Client
}

// Sensor describes one plant sensor in the user's garden.
type Sensor struct {
	ID         string
	Nickname   string
	LastUpload string
	ImageURL   string
}

// Image is a fetched plant photo ready for streaming to the user.
// The caller owns Body and must close it.
type Image struct {
	ContentType string
	Body        io.ReadCloser
}

// APIError is an error response from the Flower Power API. Its text is
// considered safe to show to the end user (bad credentials and the like).
type APIError struct {
	Status      int
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return e.Description
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("flower api: unexpected status %d", e.Status)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// Authenticate exchanges user credentials for an access token and returns a
// client bound to it.
func Authenticate(ctx context.Context, cfg Config, email, password string) (*Client, error) {
	c := &Client{cfg: cfg, http: cfg.HTTPClient}
	if c.http == nil {
		c.http = newHTTPClient()
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", email)
	form.Set("password", password)
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL()+"/user/v1/authenticate", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("flower auth: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flower auth: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := decodeAPIError(resp)
		logger.Warn(ctx, "flower", "fp.auth.rejected",
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", logger.Took(start)),
		)
		return nil, apiErr
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("flower auth: decode response: %w", err)
	}
	if body.AccessToken == "" {
		return nil, fmt.Errorf("flower auth: empty access token in response")
	}

	logger.Info(ctx, "flower", "fp.auth",
		slog.Duration("duration", logger.Took(start)),
	)
	c.token = body.AccessToken
	return c, nil
}

// FromToken rebuilds a client around a previously issued access token,
// typically after a process restart.
func FromToken(cfg Config, token string) *Client {
	c := &Client{cfg: cfg, token: token, http: cfg.HTTPClient}
	if c.http == nil {
		c.http = newHTTPClient()
	}
	return c
}

// Token returns the access token the client is bound to.
func (c *Client) Token() string {
	return c.token
}

func (c *Client) baseURL() string {
	if c.cfg.BaseURL != "" {
		return strings.TrimRight(c.cfg.BaseURL, "/")
	}
	return defaultBaseURL
}

type gardenResponse struct {
	Sensors map[string]struct {
		PlantNickname         string `json:"plant_nickname"`
		LastUploadDatetimeUTC string `json:"last_upload_datetime_utc"`
		Images                []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"sensors"`
}

// Garden fetches the full sensor listing for the authenticated account.
// Sensors are returned sorted by id for stable iteration.
func (c *Client) Garden(ctx context.Context) ([]Sensor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL()+"/sensor_data/v4/garden_locations_status", nil)
	if err != nil {
		return nil, fmt.Errorf("flower garden: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flower garden: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var body gardenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("flower garden: decode response: %w", err)
	}

	sensors := make([]Sensor, 0, len(body.Sensors))
	for id, raw := range body.Sensors {
		s := Sensor{
			ID:         id,
			Nickname:   raw.PlantNickname,
			LastUpload: raw.LastUploadDatetimeUTC,
		}
		if len(raw.Images) > 0 {
			s.ImageURL = raw.Images[0].URL
		}
		sensors = append(sensors, s)
	}
	sort.Slice(sensors, func(i, j int) bool { return sensors[i].ID < sensors[j].ID })

	logger.Debug(ctx, "flower", "fp.garden",
		slog.Int("sensors", len(sensors)),
		slog.Duration("duration", logger.Took(start)),
	)
	return sensors, nil
}

// Image probes the content type of a plant photo and opens a stream to it.
func (c *Client) Image(ctx context.Context, imageURL string) (*Image, error) {
	head, err := http.NewRequestWithContext(ctx, http.MethodHead, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("flower image: %w", err)
	}
	resp, err := c.http.Do(head)
	if err != nil {
		return nil, fmt.Errorf("flower image: head: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("flower image: head status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")

	get, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("flower image: %w", err)
	}
	stream, err := c.http.Do(get)
	if err != nil {
		return nil, fmt.Errorf("flower image: get: %w", err)
	}
	if stream.StatusCode != http.StatusOK {
		io.Copy(io.Discard, stream.Body)
		stream.Body.Close()
		return nil, fmt.Errorf("flower image: get status %d", stream.StatusCode)
	}

	return &Image{ContentType: contentType, Body: stream.Body}, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err == nil && len(data) > 0 {
		_ = json.Unmarshal(data, apiErr)
	}
	return apiErr
}
