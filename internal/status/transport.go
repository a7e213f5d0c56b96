package status

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"saxis/internal/protocol"
)

// Default timeouts for the rpc client.
const (
	DefaultRequestTimeout = 5 * time.Second
	DefaultConnectTimeout = 3 * time.Second
	DefaultKeepAlive      = 30 * time.Second

	maxResponseSize = 16 << 20
)

// Transport performs the rpc exchange with the program server.
type Transport interface {
	Status(ctx context.Context, q protocol.Query) (*protocol.Response, error)
	Scene(ctx context.Context) (*protocol.Scene, error)
}

// HTTPTransport posts form-encoded queries to <base>/rpc.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTransport returns a transport for the server at baseURL using a
// client with the given overall request timeout.
func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return NewHTTPTransportWithClient(baseURL, &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DefaultConnectTimeout,
				KeepAlive: DefaultKeepAlive,
			}).DialContext,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	})
}

// NewHTTPTransportWithClient uses client for all requests.
func NewHTTPTransportWithClient(baseURL string, client *http.Client) *HTTPTransport {
	return &HTTPTransport{
		endpoint: strings.TrimRight(baseURL, "/") + "/rpc",
		client:   client,
	}
}

// Status implements Transport.Status.
func (t *HTTPTransport) Status(ctx context.Context, q protocol.Query) (*protocol.Response, error) {
	body, err := t.do(ctx, q)
	if err != nil {
		return nil, err
	}
	var resp protocol.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProtocolError{Err: errors.Wrapf(err, "bad JSON: %.200s", body)}
	}
	return &resp, nil
}

// Scene implements Transport.Scene.
func (t *HTTPTransport) Scene(ctx context.Context) (*protocol.Scene, error) {
	body, err := t.do(ctx, protocol.Query{Cmd: protocol.CmdScene})
	if err != nil {
		return nil, err
	}
	var scene protocol.Scene
	if err := json.Unmarshal(body, &scene); err != nil {
		return nil, &ProtocolError{Err: errors.Wrapf(err, "bad JSON: %.200s", body)}
	}
	return &scene, nil
}

// do sends q and returns the raw body of a successful response. An Error
// field in the body is a ServerError whatever the HTTP status; any other
// non-200 status is a lost connection.
func (t *HTTPTransport) do(ctx context.Context, q protocol.Query) ([]byte, error) {
	payload, err := json.Marshal(q)
	if err != nil {
		return nil, &ProtocolError{Err: errors.Wrap(err, "encode query")}
	}
	form := url.Values{protocol.FormField: {string(payload)}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TransportError{Err: errors.Wrap(err, "build request")}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := t.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: errors.Wrap(err, "post "+t.endpoint)}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{Err: errors.Wrap(err, "read response")}
	}

	if msg, ok := serverError(body); ok {
		return nil, &ServerError{Message: msg}
	}
	if res.StatusCode != http.StatusOK {
		return nil, &TransportError{Err: errors.Errorf("server and client connection lost (status %d)", res.StatusCode)}
	}
	return body, nil
}

// serverError extracts a non-empty top-level Error field.
func serverError(body []byte) (string, bool) {
	var e protocol.ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
		return "", false
	}
	return e.Error, true
}
