// Package weather provides the OpenWeatherMap client used as the reading
// source. Upstream payloads are normalized into the fixed Reading shape at
// this boundary; nothing above this package sees the provider's JSON.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// ErrorKind classifies source failures. All kinds are recoverable: the
// affected city is skipped for the cycle and retried on the next one.
type ErrorKind int

const (
	ErrNotFound ErrorKind = iota + 1
	ErrRateLimited
	ErrUnavailable
	ErrMalformed
)

// String returns the string representation of ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case ErrNotFound:
		return "not_found"
	case ErrRateLimited:
		return "rate_limited"
	case ErrUnavailable:
		return "unavailable"
	case ErrMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// SourceError is the typed error returned for any failed fetch.
type SourceError struct {
	Kind ErrorKind
	City string
	Err  error
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("weather source %s for %q: %v", e.Kind, e.City, e.Err)
	}
	return fmt.Sprintf("weather source %s for %q", e.Kind, e.City)
}

func (e *SourceError) Unwrap() error { return e.Err }

// KindOf extracts the error kind from err, or ErrUnavailable when err is
// not a SourceError.
func KindOf(err error) ErrorKind {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrUnavailable
}

// Reading is one normalized weather sample. Temperatures are Celsius, wind
// speed km/h, timestamp UTC.
type Reading struct {
	CityName    string    `json:"city_name"`
	Temperature float64   `json:"temperature"`
	FeelsLike   float64   `json:"feels_like"`
	Humidity    int       `json:"humidity"`
	WindSpeed   float64   `json:"wind_speed"`
	Condition   string    `json:"condition"`
	Timestamp   time.Time `json:"timestamp"`
}

// Client represents a weather API client
type Client struct {
	apiKey     string
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new weather API client. Requests are rate limited to
// stay inside the free-tier quota when many cities are polled in one cycle.
func NewClient(apiKey, userAgent string, timeout time.Duration) *Client {
	return &Client{
		apiKey:    apiKey,
		baseURL:   "https://api.openweathermap.org",
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(10), 10),
	}
}

// CurrentByCity retrieves the current weather for a city by name. The
// returned error, if any, is always a *SourceError.
func (c *Client) CurrentByCity(ctx context.Context, city, country string) (*Reading, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &SourceError{Kind: ErrUnavailable, City: city, Err: err}
	}

	query := city
	if country != "" {
		query = fmt.Sprintf("%s,%s", city, country)
	}
	requestURL := fmt.Sprintf("%s/data/2.5/weather?q=%s&appid=%s&units=metric",
		c.baseURL, url.QueryEscape(query), c.apiKey)

	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return nil, &SourceError{Kind: ErrUnavailable, City: city, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req) // nosec G704
	if err != nil {
		return nil, &SourceError{Kind: ErrUnavailable, City: city, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusNotFound:
		return nil, &SourceError{Kind: ErrNotFound, City: city}
	case http.StatusTooManyRequests:
		return nil, &SourceError{Kind: ErrRateLimited, City: city}
	default:
		return nil, &SourceError{
			Kind: ErrUnavailable,
			City: city,
			Err:  fmt.Errorf("API request failed with status: %d", resp.StatusCode),
		}
	}

	var apiResponse struct {
		Weather []struct {
			Main        string `json:"main"`
			Description string `json:"description"`
		} `json:"weather"`
		Main struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			Humidity  int     `json:"humidity"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Name string `json:"name"`
		Dt   int64  `json:"dt"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, &SourceError{Kind: ErrMalformed, City: city, Err: err}
	}
	if len(apiResponse.Weather) == 0 {
		return nil, &SourceError{
			Kind: ErrMalformed,
			City: city,
			Err:  fmt.Errorf("response missing weather conditions"),
		}
	}

	return &Reading{
		CityName:    city,
		Temperature: apiResponse.Main.Temp,
		FeelsLike:   apiResponse.Main.FeelsLike,
		Humidity:    apiResponse.Main.Humidity,
		WindSpeed:   apiResponse.Wind.Speed * 3.6, // Convert m/s to km/h
		Condition:   apiResponse.Weather[0].Main,
		Timestamp:   time.Unix(apiResponse.Dt, 0).UTC(),
	}, nil
}
