package tlsutil

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"
)

// DefaultMaxRedirects caps redirects followed by the fetch client.
const DefaultMaxRedirects = 5

// ErrDestinationBlocked is returned when the fetch client refuses to dial
// a non-public address.
var ErrDestinationBlocked = errors.New("destination address is not public")

// hardened TLS 1.2+，仅 AEAD
func hardened() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// ServerTLSConfig loads the relay's certificate pair. Executors and
// observers then connect over wss://.
func ServerTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	cfg := hardened()
	cfg.Certificates = []tls.Certificate{cert}
	return cfg, nil
}

func transport(dialer *net.Dialer) *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSClientConfig:       hardened(),
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// ProviderClient is the HTTP client of the LLM providers. Provider calls
// are long-lived streams, so a zero timeout leaves the deadline to the
// request context.
func ProviderClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: transport(&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}),
	}
}

// FetchOptions configures FetchClient.
type FetchOptions struct {
	Timeout      time.Duration
	MaxRedirects int
	// AllowPrivate 允许抓取回环、内网与链路本地地址（仅用于本机部署）
	AllowPrivate bool
}

// FetchClient is the HTTP client of the fetch_url tool. Unless AllowPrivate
// is set, the dialer refuses every address that is not globally routable,
// on the first request and on each redirect hop. Proxies are not used.
func FetchClient(opts FetchOptions) *http.Client {
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if !opts.AllowPrivate {
		dialer.Control = publicOnly
	}
	tr := transport(dialer)
	tr.Proxy = nil

	maxRedirects := opts.MaxRedirects
	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: tr,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// publicOnly 在 DNS 解析之后执行，address 总是 ip:port
func publicOnly(network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDestinationBlocked, address)
	}
	if !IsPublic(ap.Addr()) {
		return fmt.Errorf("%w: %s", ErrDestinationBlocked, ap.Addr())
	}
	return nil
}

// cgnat 100.64.0.0/10
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// IsPublic reports whether addr is globally routable.
func IsPublic(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid(),
		addr.IsUnspecified(),
		addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(),
		addr.IsMulticast(),
		cgnat.Contains(addr):
		return false
	}
	return true
}
