// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package http

import (
	"errors"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/wneessen/geoconv/internal/logger"
)

type testType struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Accuracy float64 `json:"accuracy"`
}

const testResponse = `{"lat":51.5074,"lon":-0.1278,"accuracy":25}`

type roundTripFunc func(*stdhttp.Request) (*stdhttp.Response, error)

func (f roundTripFunc) RoundTrip(req *stdhttp.Request) (*stdhttp.Response, error) {
	return f(req)
}

func testClient() *Client {
	return New(logger.NewLogger(slog.LevelDebug, io.Discard))
}

func TestNew(t *testing.T) {
	client := New(logger.New(slog.LevelInfo))
	if client == nil {
		t.Fatal("expected client to be non-nil")
	}
	if client.Timeout != DefaultTimeout {
		t.Errorf("expected timeout to be %s, got %s", DefaultTimeout, client.Timeout)
	}
}

func TestClient_Get(t *testing.T) {
	t.Run("getting and decoding JSON succeeds", func(t *testing.T) {
		server := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			if r.Method != stdhttp.MethodGet {
				t.Errorf("expected GET request, got %s", r.Method)
			}
			if r.URL.Query().Get("key") != "value" {
				t.Errorf("expected query to be passed, got %s", r.URL.RawQuery)
			}
			if r.Header.Get("X-Custom-Header") != "custom-value" {
				t.Error("expected custom header to be passed")
			}
			if r.Header.Get("User-Agent") != UserAgent {
				t.Errorf("expected user agent to be %s, got %s", UserAgent, r.Header.Get("User-Agent"))
			}
			_, _ = w.Write([]byte(testResponse))
		}))
		defer server.Close()

		query := url.Values{}
		query.Add("key", "value")
		target := new(testType)
		code, err := testClient().Get(t.Context(), server.URL, target, query,
			map[string]string{"X-Custom-Header": "custom-value"})
		if err != nil {
			t.Fatalf("failed to get JSON response: %s", err)
		}
		if code != stdhttp.StatusOK {
			t.Errorf("expected status code 200, got %d", code)
		}
		if target.Lat != 51.5074 || target.Lon != -0.1278 || target.Accuracy != 25 {
			t.Errorf("unexpected decoded response: %+v", target)
		}
	})
	t.Run("non-pointer target fails", func(t *testing.T) {
		_, err := testClient().Get(t.Context(), "https://example.com", testType{}, nil, nil)
		if !errors.Is(err, ErrNonPointerTarget) {
			t.Errorf("expected error to be %s, got %s", ErrNonPointerTarget, err)
		}
	})
	t.Run("invalid URL fails", func(t *testing.T) {
		_, err := testClient().Get(t.Context(), "://invalid", new(testType), nil, nil)
		if err == nil {
			t.Error("expected request to fail")
		}
	})
	t.Run("error status fails", func(t *testing.T) {
		server := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
			w.WriteHeader(stdhttp.StatusTooManyRequests)
		}))
		defer server.Close()
		code, err := testClient().Get(t.Context(), server.URL, new(testType), nil, nil)
		if err == nil {
			t.Error("expected request to fail")
		}
		if code != stdhttp.StatusTooManyRequests {
			t.Errorf("expected status code 429, got %d", code)
		}
	})
	t.Run("invalid JSON fails", func(t *testing.T) {
		client := testClient()
		client.Transport = roundTripFunc(func(*stdhttp.Request) (*stdhttp.Response, error) {
			return &stdhttp.Response{
				StatusCode: stdhttp.StatusOK,
				Body:       io.NopCloser(strings.NewReader("{invalid")),
				Header:     make(stdhttp.Header),
			}, nil
		})
		if _, err := client.Get(t.Context(), "https://example.com", new(testType), nil, nil); err == nil {
			t.Error("expected decoding to fail")
		}
	})
	t.Run("transport errors are wrapped", func(t *testing.T) {
		client := testClient()
		client.Transport = roundTripFunc(func(*stdhttp.Request) (*stdhttp.Response, error) {
			return nil, errors.New("intentionally failing")
		})
		if _, err := client.Get(t.Context(), "https://example.com", new(testType), nil, nil); err == nil {
			t.Error("expected request to fail")
		}
	})
}

func TestClient_Post(t *testing.T) {
	server := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		if r.Method != stdhttp.MethodPost {
			t.Errorf("expected POST request, got %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"considerIp":true}` {
			t.Errorf("unexpected request body: %s", body)
		}
		_, _ = w.Write([]byte(testResponse))
	}))
	defer server.Close()

	target := new(testType)
	_, err := testClient().Post(t.Context(), server.URL, target, strings.NewReader(`{"considerIp":true}`),
		map[string]string{"Content-Type": "application/json"})
	if err != nil {
		t.Fatalf("failed to post request: %s", err)
	}
	if target.Accuracy != 25 {
		t.Errorf("expected accuracy to be 25, got %f", target.Accuracy)
	}
}
