package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"gateway/internal/auth"
	"gateway/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Headers set on every outbound call.
const (
	HeaderInternalService = "X-Internal-Service"
	HeaderCorrelationID   = "X-Correlation-ID"
	HeaderUserID          = "X-User-ID"
	HeaderUserRole        = "X-User-Role"

	internalServiceName = "gateway"
)

// hopHeaders are connection-specific and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// UpstreamStatusError marks a downstream 5xx response. The response itself
// is still relayed to the caller.
type UpstreamStatusError struct {
	Service    string
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("%s responded with status %d", e.Service, e.StatusCode)
}

var errResponseTooLarge = errors.New("upstream response exceeds size limit")

// upstreamResponse is a fully buffered downstream response.
type upstreamResponse struct {
	status int
	header http.Header
	body   []byte
}

// Proxy performs outbound calls. It has no client timeout of its own; the
// breaker bounds each call.
type Proxy struct {
	client  *http.Client
	maxBody int64
}

func NewProxy(cfg models.ProxyConfig) *Proxy {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConnsPerHost > 0 {
		transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	if cfg.IdleConnTimeout > 0 {
		transport.IdleConnTimeout = cfg.IdleConnTimeout
	}
	return NewProxyWithClient(&http.Client{Transport: transport}, cfg.MaxBodyBytes)
}

// NewProxyWithClient uses client for outbound calls.
func NewProxyWithClient(client *http.Client, maxBody int64) *Proxy {
	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	return &Proxy{
		client:  client,
		maxBody: maxBody,
	}
}

// readBody buffers the inbound body so that it outlives the request when a
// timed-out call is still running.
func (p *Proxy) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	return io.ReadAll(io.LimitReader(r.Body, p.maxBody+1))
}

// outboundURL joins the service base address with the request path.
func outboundURL(base *url.URL, rt Route, in *url.URL) *url.URL {
	path := in.Path
	if rt.StripPrefix {
		path = strings.TrimPrefix(path, strings.TrimSuffix(rt.Prefix, "/"))
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
	}

	out := *base
	out.Path = strings.TrimSuffix(base.Path, "/") + path
	out.RawPath = ""
	out.RawQuery = in.RawQuery
	return &out
}

// newOutbound builds the downstream request on the handler goroutine so the
// breaker-wrapped call never touches the inbound request.
func (p *Proxy) newOutbound(target *url.URL, rt Route, r *http.Request, body []byte, correlationID string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	out, err := http.NewRequest(r.Method, outboundURL(target, rt, r.URL).String(), reader)
	if err != nil {
		return nil, err
	}

	copyHeader(out.Header, r.Header)
	removeHopHeaders(out.Header)
	out.Header.Del(HeaderUserID)
	out.Header.Del(HeaderUserRole)

	out.Header.Set(HeaderInternalService, internalServiceName)
	out.Header.Set(HeaderCorrelationID, correlationID)
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		out.Header.Set(HeaderUserID, id.Subject)
		out.Header.Set(HeaderUserRole, id.Role)
	}

	forwardedFor := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		forwardedFor = host
	}
	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		forwardedFor = prior + ", " + forwardedFor
	}
	out.Header.Set("X-Forwarded-For", forwardedFor)
	out.Header.Set("X-Forwarded-Host", r.Host)
	if r.TLS != nil {
		out.Header.Set("X-Forwarded-Proto", "https")
	} else {
		out.Header.Set("X-Forwarded-Proto", "http")
	}
	otel.GetTextMapPropagator().Inject(r.Context(), propagation.HeaderCarrier(out.Header))
	return out, nil
}

// do sends out and buffers the response. A 5xx response is returned
// together with an *UpstreamStatusError.
func (p *Proxy) do(ctx context.Context, service string, out *http.Request) (*upstreamResponse, error) {
	resp, err := p.client.Do(out.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	if int64(len(data)) > p.maxBody {
		return nil, errResponseTooLarge
	}

	header := resp.Header.Clone()
	removeHopHeaders(header)
	up := &upstreamResponse{status: resp.StatusCode, header: header, body: data}

	if resp.StatusCode >= http.StatusInternalServerError {
		return up, &UpstreamStatusError{Service: service, StatusCode: resp.StatusCode}
	}
	return up, nil
}

func (u *upstreamResponse) writeTo(w http.ResponseWriter) {
	copyHeader(w.Header(), u.header)
	w.Header().Del("Content-Length")
	w.WriteHeader(u.status)
	w.Write(u.body)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func removeHopHeaders(h http.Header) {
	// Headers named in Connection are hop-by-hop too.
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}
