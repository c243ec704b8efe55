package httputil

import (
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const DefaultTimeout = 10 * time.Second
const MaxResponseBody = 2 << 20 // 2 MiB

func NewClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// DrainBody ensures the connection can be reused for keep-alive.
func DrainBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

// ReadBody reads at most MaxResponseBody bytes of the response body.
func ReadBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody))
}

// Truncate converts a byte slice to string and truncates to maxRunes runes,
// appending "..." if truncated.
func Truncate(b []byte, maxRunes int) string {
	r := []rune(string(b))
	if len(r) > maxRunes {
		return string(r[:maxRunes]) + "..."
	}
	return string(r)
}

// ClientIP identifies the caller for rate limiting: the first X-Forwarded-For
// hop when present (the gateway runs behind a reverse proxy), else the remote host.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
