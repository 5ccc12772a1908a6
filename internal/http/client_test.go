// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/wneessen/geotrack/internal/logger"
	"github.com/wneessen/geotrack/internal/testhelper"
)

type testType struct {
	String string  `json:"string"`
	Int    int     `json:"int"`
	Float  float64 `json:"float"`
	Bool   bool    `json:"bool"`
}

const testJSON = `{"string":"test","int":123,"float":123.456,"bool":true}`

func TestNew(t *testing.T) {
	client := New(logger.New(slog.LevelInfo))
	if client == nil {
		t.Fatal("expected client to be non-nil")
	}
}

func TestClient_Get(t *testing.T) {
	t.Run("getting and serializing JSON should work", func(t *testing.T) {
		var gotReq *stdhttp.Request
		rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
			gotReq = req
			return testhelper.JSONResponse(200, testJSON)(req)
		}

		client := New(logger.New(slog.LevelInfo))
		client.Transport = testhelper.MockRoundTripper{Fn: rtFn}
		query := url.Values{}
		query.Add("key", "value")
		headers := map[string]string{"X-Custom-Header": "custom-value"}

		target := new(testType)
		response, err := client.Get(t.Context(), "https://example.com", target, query, headers)
		if err != nil {
			t.Fatalf("failed to get JSON response: %s", err)
		}
		if response != 200 {
			t.Errorf("expected status code 200, got %d", response)
		}
		if target.String != "test" {
			t.Errorf("expected target string to be 'test', got %s", target.String)
		}
		if target.Int != 123 {
			t.Errorf("expected target int to be 123, got %d", target.Int)
		}
		if target.Float != 123.456 {
			t.Errorf("expected target float to be 123.456, got %f", target.Float)
		}
		if !target.Bool {
			t.Error("expected target bool to be true")
		}
		if gotReq.URL.Query().Get("key") != "value" {
			t.Errorf("expected query parameter to be set, got %q", gotReq.URL.RawQuery)
		}
		if gotReq.Header.Get("X-Custom-Header") != "custom-value" {
			t.Error("expected custom header to be set")
		}
		if gotReq.Header.Get("User-Agent") != UserAgent {
			t.Errorf("expected User-Agent to be %q, got %q", UserAgent, gotReq.Header.Get("User-Agent"))
		}
	})
	t.Run("unmarshalling into non-pointer should fail", func(t *testing.T) {
		client := New(logger.New(slog.LevelInfo))
		var target testType
		_, err := client.Get(t.Context(), "https://example.com", target, nil, nil)
		if !errors.Is(err, ErrNonPointerTarget) {
			t.Errorf("expected error to be %s, got %s", ErrNonPointerTarget, err)
		}
	})
	t.Run("parsing an invalid url should fail", func(t *testing.T) {
		client := New(logger.New(slog.LevelInfo))
		target := new(testType)
		_, err := client.Get(t.Context(), "http://example.com/xyz%", target, nil, nil)
		if err == nil {
			t.Fatal("expected get to fail")
		}
		if !strings.Contains(err.Error(), "failed to parse URL") {
			t.Errorf("expected error to contain 'failed to parse URL', got %s", err)
		}
	})
	t.Run("get request fails", func(t *testing.T) {
		rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
			return nil, errors.New("intentionally failing")
		}
		client := New(logger.New(slog.LevelInfo))
		client.Transport = testhelper.MockRoundTripper{Fn: rtFn}

		target := new(testType)
		if _, err := client.Get(t.Context(), "https://example.com", target, nil, nil); err == nil {
			t.Fatal("expected get request to fail")
		}
	})
	t.Run("non-2xx responses fail with status", func(t *testing.T) {
		for _, code := range []int{301, 404, 429, 500, 503} {
			client := New(logger.NewLogger(slog.LevelInfo, io.Discard))
			client.Transport = testhelper.MockRoundTripper{Fn: testhelper.JSONResponse(code, `{"error":"nope"}`)}
			target := new(testType)
			status, err := client.Get(t.Context(), "https://example.com", target, nil, nil)
			if !errors.Is(err, ErrUnexpectedStatus) {
				t.Errorf("expected error to be %s for status %d, got %v", ErrUnexpectedStatus, code, err)
			}
			if status != code {
				t.Errorf("expected status to be %d, got %d", code, status)
			}
		}
	})
	t.Run("malformed JSON fails", func(t *testing.T) {
		client := New(logger.NewLogger(slog.LevelInfo, io.Discard))
		client.Transport = testhelper.MockRoundTripper{Fn: testhelper.JSONResponse(200, `{"string":`)}
		target := new(testType)
		_, err := client.Get(t.Context(), "https://example.com", target, nil, nil)
		if err == nil {
			t.Fatal("expected get request to fail")
		}
		if !strings.Contains(err.Error(), "failed to decode JSON") {
			t.Errorf("expected error to contain 'failed to decode JSON', got %s", err)
		}
	})
	t.Run("body close error is logged", func(t *testing.T) {
		rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
			return &stdhttp.Response{
				StatusCode: 200,
				Body:       &failReadCloser{strings.NewReader(testJSON)},
				Header:     make(stdhttp.Header),
			}, nil
		}
		buf := &strings.Builder{}
		client := New(logger.NewLogger(slog.LevelInfo, buf))
		client.Transport = testhelper.MockRoundTripper{Fn: rtFn}

		target := new(testType)
		if _, err := client.Get(t.Context(), "https://example.com", target, nil, nil); err != nil {
			t.Fatalf("expected get request to succeed, got %s", err)
		}
		if !strings.Contains(buf.String(), "failed to close HTTP response body") {
			t.Errorf("expected close error to be logged, got %q", buf.String())
		}
	})
}

func TestClient_debugLogging(t *testing.T) {
	buf := &strings.Builder{}
	client := New(logger.NewLogger(slog.LevelDebug, buf))
	client.Transport = testhelper.MockRoundTripper{Fn: testhelper.JSONResponse(200, testJSON)}
	target := new(testType)
	if _, err := client.Get(t.Context(), "https://nominatim.example.com/reverse", target, nil, nil); err != nil {
		t.Fatalf("expected get request to succeed, got %s", err)
	}
	want := `msg="HTTP request completed" method=GET host=nominatim.example.com status=200`
	if !strings.Contains(buf.String(), want) {
		t.Errorf("expected log to contain %q, got %q", want, buf.String())
	}
}

func TestClient_GetWithTimeout(t *testing.T) {
	t.Run("get request fails on context deadline", func(t *testing.T) {
		rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
			<-req.Context().Done()
			return nil, req.Context().Err()
		}
		client := New(logger.New(slog.LevelInfo))
		client.Transport = testhelper.MockRoundTripper{Fn: rtFn}

		target := new(testType)
		_, err := client.GetWithTimeout(t.Context(), "https://example.com", target, nil, nil, time.Millisecond*10)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected error to be %s, got %s", context.DeadlineExceeded, err)
		}
	})
	t.Run("get request against the online API", func(t *testing.T) {
		testhelper.PerformIntegrationTests(t)
		client := New(logger.New(slog.LevelInfo))
		target := make(map[string]any)
		if _, err := client.GetWithTimeout(t.Context(), testhelper.TestOnlineAPIURL, &target, nil, nil,
			time.Second*5); err != nil {
			t.Fatalf("expected get request to succeed, got %s", err)
		}
	})
}

func TestClient_Post(t *testing.T) {
	t.Run("post request succeeds", func(t *testing.T) {
		var method, contentType string
		rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
			method = req.Method
			contentType = req.Header.Get("Content-Type")
			return testhelper.JSONResponse(200, testJSON)(req)
		}
		client := New(logger.New(slog.LevelInfo))
		client.Transport = testhelper.MockRoundTripper{Fn: rtFn}

		target := new(testType)
		if _, err := client.Post(t.Context(), "https://example.com", target, strings.NewReader("{}"),
			nil); err != nil {
			t.Fatalf("post request failed: %s", err)
		}
		if method != stdhttp.MethodPost {
			t.Errorf("expected method to be POST, got %s", method)
		}
		if contentType != "application/json" {
			t.Errorf("expected JSON content type for request bodies, got %q", contentType)
		}
	})
}

type failReadCloser struct {
	io.Reader
}

func (failReadCloser) Close() error { return errors.New("failed to close") }
