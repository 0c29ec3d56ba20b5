package appconfig

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ParseProxyConfig parses a proxy URL of the form
// scheme://[user[:pass]@]host:port into a ProxyConfig. Recognized schemes
// are "socks5" and "http"; socks5 defaults to port 1080 when the URL omits
// one. An empty username is treated as "no credentials", matching the
// original source's behavior of collapsing an empty user component to None.
func ParseProxyConfig(raw string) (ProxyConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ProxyConfig{}, fmt.Errorf("appconfig: parsing proxy url %q: %w", raw, err)
	}

	var proto ProxyProtocol
	switch strings.ToLower(u.Scheme) {
	case "socks5":
		proto = ProxySocks5
	case "http":
		proto = ProxyHTTP
	default:
		return ProxyConfig{}, fmt.Errorf("appconfig: unsupported proxy scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return ProxyConfig{}, fmt.Errorf("appconfig: proxy url %q has no host", raw)
	}

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if proto != ProxySocks5 {
			return ProxyConfig{}, fmt.Errorf("appconfig: proxy url %q has no port", raw)
		}
		port = strconv.Itoa(defaultSocks5Port)
	}

	cfg := ProxyConfig{
		Protocol: proto,
		Server:   net.JoinHostPort(host, port),
	}

	if u.User != nil {
		username := u.User.Username()
		if username != "" {
			cfg.Username = username
			if password, ok := u.User.Password(); ok {
				cfg.Password = password
			}
		}
	}

	return cfg, nil
}
