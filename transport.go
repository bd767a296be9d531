package sfstreaming

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/sigmavirus24/sfstreaming/credentials"
)

// maxErrorBody bounds how much of an error response ends up in a
// TransportError
const maxErrorBody = 4096

// tokenAuthenticator adds the access token to every request sent to the
// instance the token was issued for
type tokenAuthenticator struct {
	token     string
	host      string
	transport http.RoundTripper
}

// RoundTrip implements the RoundTripper interface
func (t *tokenAuthenticator) RoundTrip(request *http.Request) (*http.Response, error) {
	if !strings.EqualFold(request.URL.Host, t.host) {
		return t.transport.RoundTrip(request)
	}

	newRequest := deepCopyRequestWithHeaders(request)
	newRequest.Header.Set("Authorization", "Bearer "+t.token)
	newRequest.Header.Set("Accept", "application/json")
	return t.transport.RoundTrip(newRequest)
}

func deepCopyRequestWithHeaders(request *http.Request) *http.Request {
	newRequest := new(http.Request)
	*newRequest = *request

	newRequest.Header = make(http.Header, len(request.Header))
	for header, values := range request.Header {
		newRequest.Header[header] = append([]string(nil), values...)
	}
	return newRequest
}

// transport is one authenticated HTTP session bound to a token and the
// instance URL it was issued for
type transport struct {
	client      *http.Client
	instanceURL *url.URL
}

func newTransport(options *Options, token credentials.Token) (*transport, error) {
	instanceURL, err := url.Parse(token.InstanceURL)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	base := options.Transport
	if base == nil && options.Client != nil {
		base = options.Client.Transport
	}
	if base == nil {
		base = http.DefaultTransport
	}

	client := &http.Client{Jar: jar}
	if options.Client != nil {
		c := *options.Client
		client = &c
		if client.Jar == nil {
			client.Jar = jar
		}
	}
	client.Transport = &tokenAuthenticator{
		token:     token.AccessToken,
		host:      instanceURL.Host,
		transport: base,
	}

	return &transport{client: client, instanceURL: instanceURL}, nil
}

// do sends a JSON request to the instance and returns the raw JSON body of a
// 200 response. The request is bound by timeout on top of ctx.
func (t *transport) do(ctx context.Context, method, path string, body any, timeout time.Duration) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
		reader = &buf
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, strings.TrimSuffix(t.instanceURL.String(), "/")+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusRequestTimeout:
		return nil, &TransportTimeoutError{StatusCode: resp.StatusCode}
	default:
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{StatusCode: resp.StatusCode, Status: resp.Status, Body: errBody}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return raw, nil
}

// classify separates our own deadline from the caller giving up
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TransportTimeoutError{Err: err}
	}
	return &TransportError{Err: err}
}

func (t *transport) close() {
	t.client.CloseIdleConnections()
}
