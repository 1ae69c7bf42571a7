// Package anthropicproxy implements the gateway's transparent Anthropic
// token-forwarding path (spec §4.2): when ProviderMode negotiation selects
// the proxy mode for a client presenting its own Anthropic authorization,
// the dispatcher short-circuits into a thin reverse proxy, grounded on
// original_source/crates/llm/src/proxy/anthropic/forward.rs and
// .../proxy/utils/headers.rs.
package anthropicproxy

import (
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// strictHopByHop is the 21-header list used when the gateway terminates
// and re-encodes the request itself rather than acting as a transparent
// pipe; it additionally strips Accept*/Content-Length/Content-Type.
var strictHopByHop = sortedSet(
	"Accept", "Accept-Charset", "Accept-Encoding", "Accept-Ranges",
	"Content-Length", "Content-Type",
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"TE", "Trailer", "Transfer-Encoding", "Upgrade", "Origin", "Host",
	"Sec-WebSocket-Version", "Sec-WebSocket-Key", "Sec-WebSocket-Accept",
	"Sec-WebSocket-Protocol", "Sec-WebSocket-Extensions",
)

// proxyHopByHop is the 15-header true hop-by-hop list used for transparent
// passthrough; Content-Type and Accept are deliberately preserved here.
var proxyHopByHop = sortedSet(
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"TE", "Trailer", "Transfer-Encoding", "Upgrade", "Origin", "Host",
	"Sec-WebSocket-Version", "Sec-WebSocket-Key", "Sec-WebSocket-Accept",
	"Sec-WebSocket-Protocol", "Sec-WebSocket-Extensions",
)

func sortedSet(names ...string) map[string]struct{} {
	sort.Strings(names)
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = struct{}{}
	}
	return set
}

// Proxy forwards requests carrying a client-supplied Anthropic bearer
// token straight through to the Anthropic API, unchanged apart from
// hop-by-hop header stripping.
type Proxy struct {
	baseURL  *url.URL
	basePath string
	client   *http.Client
}

// New builds a Proxy rooted at anthropicBaseURL, stripping basePath (the
// gateway-side mount point, e.g. "/v1") from the inbound request path
// before joining the remainder onto the upstream base.
func New(anthropicBaseURL, basePath string, client *http.Client) (*Proxy, error) {
	u, err := url.Parse(anthropicBaseURL)
	if err != nil {
		return nil, err
	}
	return &Proxy{baseURL: u, basePath: basePath, client: client}, nil
}

// ServeHTTP implements http.Handler, forwarding the request body and
// headers to Anthropic and streaming the response back unchanged.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := p.targetURL(r)

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, "Could not connect to Anthropic API", http.StatusInternalServerError)
		return
	}
	copyProxiedHeaders(outReq.Header, r.Header)

	resp, err := p.client.Do(outReq)
	if err != nil {
		log.Error().Err(err).Msg("failed to send request to Anthropic")
		http.Error(w, "Could not connect to Anthropic API", http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if flusher, ok := w.(http.Flusher); ok {
		copyAndFlush(w, resp.Body, flusher)
		return
	}
	io.Copy(w, resp.Body)
}

func (p *Proxy) targetURL(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, p.basePath)
	joined := *p.baseURL
	joined.Path = strings.TrimSuffix(joined.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	joined.RawQuery = r.URL.RawQuery
	return joined.String()
}

// copyProxiedHeaders copies every header except the transparent-proxy
// hop-by-hop set, preserving Content-Type and Accept (spec §4.2: "unlike
// the stricter non-proxy filter which also drops them").
func copyProxiedHeaders(dst, src http.Header) {
	for name, values := range src {
		if _, hop := proxyHopByHop[strings.ToLower(name)]; hop {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// StrictFilterHeaders copies headers using the 21-header strict list,
// used by non-proxy forwarding paths that also drop Accept*/Content-Length/
// Content-Type because the gateway re-encodes the body itself.
func StrictFilterHeaders(dst, src http.Header) {
	for name, values := range src {
		if _, hop := strictHopByHop[strings.ToLower(name)]; hop {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func copyAndFlush(w io.Writer, r io.Reader, flusher http.Flusher) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
			flusher.Flush()
		}
		if err != nil {
			return
		}
	}
}
