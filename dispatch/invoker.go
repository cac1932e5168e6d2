package dispatch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/xraph/sparkcloud/signature"
	"github.com/xraph/sparkcloud/template"
)

// Invoker defaults.
const (
	DefaultRequestTimeout  = 30 * time.Second
	DefaultMaxResponseBody = 1 << 20
	userAgent              = "sparkcloud-webhooks/1.0"
)

// ErrResponseTooLarge is the cause of a CallError for a successful answer
// whose body exceeds the configured cap.
var ErrResponseTooLarge = errors.New("dispatch: response body too large")

// Response is the result of a successful call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Latency    time.Duration
}

// CallError reports a failed webhook call: the request could not be
// completed, or the endpoint answered with a non-2xx status.
type CallError struct {
	// StatusCode is zero when no response was received.
	StatusCode int
	Body       []byte
	Latency    time.Duration
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("dispatch: webhook responded with status %d", e.StatusCode)
	}
	return "dispatch: webhook call failed: " + e.Err.Error()
}

func (e *CallError) Unwrap() error { return e.Err }

// Message is the payload published to the error topic: the endpoint's
// answer when it sent one, otherwise the error text.
func (e *CallError) Message() string {
	if e.StatusCode != 0 && len(e.Body) > 0 {
		return string(e.Body)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Error()
}

// Caller performs compiled requests.
type Caller interface {
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

// Invoker performs webhook calls over HTTP.
type Invoker struct {
	secure   *http.Client
	insecure *http.Client
	maxBody  int64
	signer   *signature.Signer
}

var _ Caller = (*Invoker)(nil)

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithMaxResponseBody caps the response body size. A 2xx answer over the cap
// fails with ErrResponseTooLarge; an error answer is cut to the cap.
func WithMaxResponseBody(n int64) InvokerOption {
	return func(inv *Invoker) {
		if n > 0 {
			inv.maxBody = n
		}
	}
}

// WithTLSConfig sets the TLS configuration of certificate-verifying calls,
// e.g. to trust a private CA.
func WithTLSConfig(cfg *tls.Config) InvokerOption {
	return func(inv *Invoker) {
		t := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // DefaultTransport is always *http.Transport
		t.TLSClientConfig = cfg
		inv.secure.Transport = t
	}
}

// WithSigningSecret signs every request with an HMAC of its method, URL and
// body. An empty secret disables signing.
func WithSigningSecret(secret string) InvokerOption {
	return func(inv *Invoker) { inv.signer = signature.NewSigner(secret) }
}

// NewInvoker creates an invoker whose calls are bounded by timeout.
func NewInvoker(timeout time.Duration, opts ...InvokerOption) *Invoker {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	insecure := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // DefaultTransport is always *http.Transport
	insecure.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // per-webhook opt-out of certificate checks

	inv := &Invoker{
		secure:   &http.Client{Timeout: timeout},
		insecure: &http.Client{Timeout: timeout, Transport: insecure},
		maxBody:  DefaultMaxResponseBody,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke performs req. Transport failures and non-2xx answers are returned
// as *CallError.
func (inv *Invoker) Invoke(ctx context.Context, req *Request) (*Response, error) {
	httpReq, raw, err := buildHTTPRequest(ctx, req)
	if err != nil {
		return nil, &CallError{Err: err}
	}
	for k, v := range inv.signer.Headers(httpReq.Method, httpReq.URL.String(), raw) {
		httpReq.Header.Set(k, v)
	}

	client := inv.secure
	if req.Insecure {
		client = inv.insecure
	}

	start := time.Now()
	resp, err := client.Do(httpReq) //nolint:gosec // URL is an owner-configured webhook destination.
	if err != nil {
		return nil, &CallError{Err: err, Latency: time.Since(start)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, inv.maxBody+1))
	latency := time.Since(start)
	if err != nil {
		return nil, &CallError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err), Latency: latency}
	}
	oversized := int64(len(body)) > inv.maxBody
	if oversized {
		body = body[:inv.maxBody]
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &CallError{
			StatusCode: resp.StatusCode,
			Body:       body,
			Latency:    latency,
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}
	}
	if oversized {
		return nil, &CallError{
			Err:     fmt.Errorf("%w: limit is %d bytes", ErrResponseTooLarge, inv.maxBody),
			Latency: latency,
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Latency:    latency,
	}, nil
}

// buildHTTPRequest returns the request and its encoded body.
func buildHTTPRequest(ctx context.Context, req *Request) (*http.Request, []byte, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	if len(req.Query) > 0 {
		q := u.Query()
		addValues(q, req.Query)
		u.RawQuery = q.Encode()
	}

	var (
		raw         []byte
		contentType string
	)
	switch {
	case req.Body != nil:
		raw, err = json.Marshal(req.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal body: %w", err)
		}
		contentType = "application/json"
	case req.Form != nil:
		form := url.Values{}
		addValues(form, req.Form)
		raw = []byte(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	var body io.Reader
	if raw != nil {
		body = bytes.NewReader(raw)
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodPost
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("User-Agent", userAgent)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Auth != nil {
		httpReq.SetBasicAuth(req.Auth.Username, req.Auth.Password)
	}

	return httpReq, raw, nil
}

// addValues flattens m into v. Slices become repeated keys; other values are
// stringified.
func addValues(v url.Values, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch val := m[k].(type) {
		case []any:
			for _, item := range val {
				v.Add(k, template.Stringify(item))
			}
		case []string:
			for _, item := range val {
				v.Add(k, item)
			}
		default:
			v.Add(k, template.Stringify(val))
		}
	}
}
