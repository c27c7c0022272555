// Package transfer fetches single chunk tasks to disk with resume and retry.
package transfer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/proxy"

	"github.com/surge-downloader/offline/internal/engine/types"
)

// NewClient creates an http.Client tuned for many small segment requests.
// The client has no overall timeout: connect and response-header timeouts
// live on the transport and read stalls are detected per transfer.
func NewClient(cfg *types.RuntimeConfig, logger *zap.Logger) *http.Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	maxConns := cfg.GetMaxConcurrentDownloads()
	dialer := &net.Dialer{
		Timeout:   cfg.GetConnectTimeout(),
		KeepAlive: types.KeepAliveDuration,
	}

	transport := &http.Transport{
		// Connection pooling
		MaxIdleConns:        types.DefaultMaxIdleConns,
		MaxIdleConnsPerHost: maxConns + 2,

		// Timeouts to prevent hung connections
		IdleConnTimeout:       types.DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   types.DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.GetReadTimeout(),
		ExpectContinueTimeout: types.DefaultExpectContinueTimeout,

		// Segments are already compressed media
		DisableCompression: true,
		DialContext:        dialer.DialContext,
		Proxy:              http.ProxyFromEnvironment,
	}

	if cfg != nil && cfg.ProxyURL != "" {
		if err := applyProxy(transport, cfg.ProxyURL); err != nil {
			logger.Warn("invalid proxy, using environment", zap.String("proxy", cfg.ProxyURL), zap.Error(err))
		}
	}

	if cfg != nil && cfg.SkipTLSVerification {
		logger.Warn("TLS verification disabled")
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			// Keep adapter-supplied headers (auth, cookies) across redirects
			for key, vals := range via[0].Header {
				if _, ok := req.Header[key]; !ok {
					req.Header[key] = vals
				}
			}
			return nil
		},
	}
}

func applyProxy(transport *http.Transport, rawProxy string) error {
	parsed, err := url.Parse(rawProxy)
	if err != nil {
		return err
	}
	if parsed.Host == "" {
		return fmt.Errorf("proxy %q has no host", rawProxy)
	}

	if !strings.HasPrefix(parsed.Scheme, "socks5") {
		transport.Proxy = http.ProxyURL(parsed)
		return nil
	}

	var auth *proxy.Auth
	if parsed.User != nil {
		pass, _ := parsed.User.Password()
		auth = &proxy.Auth{User: parsed.User.Username(), Password: pass}
	}
	dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
	if err != nil {
		return err
	}

	transport.Proxy = nil
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = cd.DialContext
	} else {
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}
	return nil
}
