package sfstreaming

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/sigmavirus24/sfstreaming/credentials"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func respondWith(status int, body string) roundTripFunc {
	return func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Status:     http.StatusText(status),
			Header:     make(http.Header),
			Body:       io.NopCloser(bytes.NewBufferString(body)),
		}, nil
	}
}

func TestTokenAuthenticator(t *testing.T) {
	var seen *http.Request
	auth := &tokenAuthenticator{
		token: "s3cr3t",
		host:  "na1.salesforce.com",
		transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			seen = r
			return respondWith(http.StatusOK, "")(r)
		}),
	}

	testCases := []struct {
		name          string
		url           string
		authorization string
	}{
		{"instance host", "https://na1.salesforce.com/cometd/42.0/", "Bearer s3cr3t"},
		{"host is case insensitive", "https://NA1.salesforce.com/services/data/", "Bearer s3cr3t"},
		{"other host", "https://example.com/", ""},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, tc.url, nil)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := auth.RoundTrip(req); err != nil {
				t.Fatal(err)
			}
			if got := seen.Header.Get("Authorization"); got != tc.authorization {
				t.Errorf("want Authorization %q, got %q", tc.authorization, got)
			}
			if req.Header.Get("Authorization") != "" {
				t.Error("the caller's request must not be modified")
			}
		})
	}
}

func TestTransport_StatusMapping(t *testing.T) {
	testCases := []struct {
		name    string
		rt      http.RoundTripper
		timeout bool
		status  int
	}{
		{"ok", respondWith(http.StatusOK, `[]`), false, 0},
		{"request timeout", respondWith(http.StatusRequestTimeout, ""), true, http.StatusRequestTimeout},
		{"server error", respondWith(http.StatusInternalServerError, "oops"), false, http.StatusInternalServerError},
		{"unauthorized", respondWith(http.StatusUnauthorized, `[{"errorCode":"INVALID_SESSION_ID"}]`), false, http.StatusUnauthorized},
		{
			"local deadline",
			roundTripFunc(func(r *http.Request) (*http.Response, error) {
				<-r.Context().Done()
				return nil, r.Context().Err()
			}),
			true,
			0,
		},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			options := defaultOptions()
			options.Transport = tc.rt
			tr, err := newTransport(options, credentials.Token{AccessToken: "t", InstanceURL: "https://na1.salesforce.com/"})
			if err != nil {
				t.Fatal(err)
			}
			defer tr.close()

			_, err = tr.do(context.Background(), http.MethodPost, "/cometd/42.0/", Message{Channel: MetaConnect}, 20*time.Millisecond)
			var timeoutErr *TransportTimeoutError
			var transportErr *TransportError
			switch {
			case tc.timeout:
				if !errors.As(err, &timeoutErr) {
					t.Fatalf("expected a TransportTimeoutError, got %v", err)
				}
				if timeoutErr.StatusCode != tc.status {
					t.Errorf("want status %d, got %d", tc.status, timeoutErr.StatusCode)
				}
			case tc.status != 0:
				if !errors.As(err, &transportErr) {
					t.Fatalf("expected a TransportError, got %v", err)
				}
				if transportErr.StatusCode != tc.status {
					t.Errorf("want status %d, got %d", tc.status, transportErr.StatusCode)
				}
			case err != nil:
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}

func TestTransport_CallerCancellation(t *testing.T) {
	options := defaultOptions()
	options.Transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		<-r.Context().Done()
		return nil, r.Context().Err()
	})
	tr, err := newTransport(options, credentials.Token{AccessToken: "t", InstanceURL: "https://na1.salesforce.com"})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.do(ctx, http.MethodGet, "/services/data/", nil, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	var timeoutErr *TransportTimeoutError
	if errors.As(err, &timeoutErr) {
		t.Error("cancellation by the caller is not a timeout")
	}
}
