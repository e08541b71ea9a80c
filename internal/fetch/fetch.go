// Package fetch retrieves captcha image assets as base64 payloads. It honors
// per-request custom headers and an optional HTTP(S) or SOCKS5 proxy, and
// short-circuits data: URLs without touching the network.
package fetch

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/proxy"

	"github.com/okto-sec/tiksolve/internal/captcha"
)

// maxImageBytes caps how much of a response body is read. Captcha images are
// small; anything larger is a misbehaving endpoint.
const maxImageBytes = 16 << 20

// Error wraps a failed asset retrieval with the URL it was for.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %q: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options configure a Fetcher.
type Options struct {
	// Headers are sent verbatim with every request.
	Headers map[string]string
	// ProxyURL routes requests through a proxy. Schemes http, https and
	// socks5 are supported. Empty means direct.
	ProxyURL string
	// Timeout bounds a single fetch. Zero means 30 seconds.
	Timeout time.Duration
}

// Fetcher downloads image resources. It satisfies captcha.Fetcher.
type Fetcher struct {
	client  *http.Client
	headers map[string]string
	logger  *zap.Logger
}

var _ captcha.Fetcher = (*Fetcher)(nil)

// New builds a Fetcher from opts.
func New(opts Options, logger *zap.Logger) (*Fetcher, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{}
	if opts.ProxyURL != "" {
		u, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", opts.ProxyURL, err)
		}
		switch u.Scheme {
		case "http", "https":
			transport.Proxy = http.ProxyURL(u)
		case "socks5":
			dialer, err := proxy.FromURL(u, proxy.Direct)
			if err != nil {
				return nil, fmt.Errorf("building socks5 dialer: %w", err)
			}
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				if cd, ok := dialer.(proxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			}
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
	}

	return &Fetcher{
		client:  &http.Client{Transport: transport, Timeout: timeout},
		headers: opts.Headers,
		logger:  logger,
	}, nil
}

// Fetch retrieves the resource at rawURL and returns it base64 encoded.
// data: URLs are decoded in place; the page already embeds those images, so
// there is nothing to download.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (captcha.ImageAsset, error) {
	if strings.HasPrefix(rawURL, "data:image") {
		return assetFromDataURL(rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return captcha.ImageAsset{}, &Error{URL: rawURL, Err: err}
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return captcha.ImageAsset{}, &Error{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return captcha.ImageAsset{}, &Error{URL: rawURL, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return captcha.ImageAsset{}, &Error{URL: rawURL, Err: err}
	}

	f.logger.Debug("Fetched image asset",
		zap.String("url", rawURL),
		zap.Int("bytes", len(data)))

	return captcha.ImageAsset{
		B64: base64.StdEncoding.EncodeToString(data),
		URL: rawURL,
	}, nil
}

// assetFromDataURL extracts the payload of a data:image/...;base64,... URL.
func assetFromDataURL(rawURL string) (captcha.ImageAsset, error) {
	idx := strings.Index(rawURL, ",")
	if idx < 0 {
		return captcha.ImageAsset{}, &Error{URL: truncate(rawURL, 64), Err: fmt.Errorf("malformed data url")}
	}
	payload := rawURL[idx+1:]
	if !strings.Contains(rawURL[:idx], ";base64") {
		// Percent-encoded textual payload; re-encode it to keep the
		// transport contract uniform.
		decoded, err := url.PathUnescape(payload)
		if err != nil {
			return captcha.ImageAsset{}, &Error{URL: truncate(rawURL, 64), Err: err}
		}
		payload = base64.StdEncoding.EncodeToString([]byte(decoded))
	} else if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return captcha.ImageAsset{}, &Error{URL: truncate(rawURL, 64), Err: fmt.Errorf("invalid base64 payload: %w", err)}
	}
	return captcha.ImageAsset{B64: payload, URL: "data-url"}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
