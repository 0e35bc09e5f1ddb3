package weather

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(serverURL string) *Client {
	c := NewClient("test-key", "MeteoTrack-Test/1.0", 5*time.Second)
	c.baseURL = serverURL
	return c
}

func TestCurrentByCity_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Chennai,IN", r.URL.Query().Get("q"))
		assert.Equal(t, "test-key", r.URL.Query().Get("appid"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))

		fmt.Fprint(w, `{
			"weather": [{"main": "Clear", "description": "clear sky"}],
			"main": {"temp": 36.2, "feels_like": 39.0, "humidity": 48},
			"wind": {"speed": 2.5},
			"name": "Chennai",
			"dt": 1718000000
		}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	reading, err := client.CurrentByCity(context.Background(), "Chennai", "IN")

	require.NoError(t, err)
	assert.Equal(t, "Chennai", reading.CityName)
	assert.Equal(t, 36.2, reading.Temperature)
	assert.Equal(t, 39.0, reading.FeelsLike)
	assert.Equal(t, 48, reading.Humidity)
	assert.InDelta(t, 9.0, reading.WindSpeed, 0.0001) // 2.5 m/s -> km/h
	assert.Equal(t, "Clear", reading.Condition)
	assert.Equal(t, time.Unix(1718000000, 0).UTC(), reading.Timestamp)
	assert.Equal(t, time.UTC, reading.Timestamp.Location())
}

func TestCurrentByCity_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	reading, err := client.CurrentByCity(context.Background(), "Atlantis", "")

	require.Error(t, err)
	assert.Nil(t, reading)

	var se *SourceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ErrNotFound, se.Kind)
	assert.Equal(t, "Atlantis", se.City)
}

func TestCurrentByCity_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.CurrentByCity(context.Background(), "Delhi", "IN")

	assert.Equal(t, ErrRateLimited, KindOf(err))
}

func TestCurrentByCity_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.CurrentByCity(context.Background(), "Delhi", "IN")

	assert.Equal(t, ErrUnavailable, KindOf(err))
}

func TestCurrentByCity_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{not json`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.CurrentByCity(context.Background(), "Delhi", "IN")

	assert.Equal(t, ErrMalformed, KindOf(err))
}

func TestCurrentByCity_MissingConditions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"weather": [], "main": {"temp": 20}, "dt": 1718000000}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.CurrentByCity(context.Background(), "Delhi", "IN")

	assert.Equal(t, ErrMalformed, KindOf(err))
}

func TestCurrentByCity_TransportError(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1") // nothing listens here
	_, err := client.CurrentByCity(context.Background(), "Delhi", "IN")

	require.Error(t, err)
	assert.Equal(t, ErrUnavailable, KindOf(err))
}

func TestKindOf_NonSourceError(t *testing.T) {
	assert.Equal(t, ErrUnavailable, KindOf(errors.New("boom")))
}

func TestSourceError_Message(t *testing.T) {
	err := &SourceError{Kind: ErrNotFound, City: "Atlantis"}
	assert.Contains(t, err.Error(), "not_found")
	assert.Contains(t, err.Error(), "Atlantis")

	wrapped := &SourceError{Kind: ErrUnavailable, City: "Delhi", Err: errors.New("dial tcp: timeout")}
	assert.Contains(t, wrapped.Error(), "timeout")
	assert.EqualError(t, errors.Unwrap(wrapped), "dial tcp: timeout")
}
