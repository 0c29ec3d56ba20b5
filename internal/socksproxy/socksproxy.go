// Package socksproxy implements transparent SOCKS5 and HTTP CONNECT tunnels
// for both TCP streams and UDP datagrams, so that any upstream resolver
// transport (plain UDP/TCP, DoT, DoH, DoQ, H3) can be routed through a
// forward proxy without the resolver code knowing the difference.
//
// There is no client-side SOCKS5 library anywhere in the reference corpus
// (only a server implementation, which cannot serve this need), so the
// wire protocol is hand-rolled here directly off RFC 1928/1929 and RFC
// 2817 (HTTP CONNECT), mirroring the original resolver_proxy module's
// connect_tcp/bind_udp shape.
package socksproxy

import (
	"bufio"
	"context"
	"encoding/base64"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/AdguardTeam/golibs/errors"

	"github.com/zh-yjie/ya-dns/internal/appconfig"
)

// Kind classifies a transport failure the way the component contract
// requires: ConnectionRefused for HTTP proxy protocol failures, TimedOut
// for any phase exceeding the connect deadline, Other for SOCKS5 protocol
// failures.
type Kind string

const (
	KindConnectionRefused Kind = "connection_refused"
	KindTimedOut          Kind = "timed_out"
	KindOther             Kind = "other"
)

// Error wraps a transport failure with its Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func wrapErr(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// DefaultConnectTimeout is the connect-phase deadline used when the caller
// does not override it: 5s, matching the per-connect deadline in the
// concurrency model.
const DefaultConnectTimeout = 5 * time.Second

// socks5Version is the protocol version byte used throughout RFC 1928.
const socks5Version = 0x05

const (
	authNone     = 0x00
	authUserPass = 0x02
	authNoAccept = 0xFF
)

const (
	cmdConnect      = 0x01
	cmdUDPAssociate = 0x03
)

// atyp values for SOCKS5 address encoding, shared between the CONNECT/
// UDP-ASSOCIATE negotiation and the per-datagram UDP header.
const (
	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04
)

// ConnectTCP opens a TCP stream to server, optionally tunneled through
// proxy. bindAddr, if non-zero, is the local address to bind the direct
// (non-proxied) socket to. timeout bounds every phase: the direct dial, the
// proxy dial, and the SOCKS5/HTTP CONNECT handshake.
func ConnectTCP(
	ctx context.Context,
	server string,
	bindAddr netip.Addr,
	proxy *appconfig.ProxyConfig,
	timeout time.Duration,
) (net.Conn, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if proxy == nil {
		return dialDirect(ctx, server, bindAddr)
	}

	var conn net.Conn
	var err error
	switch proxy.Protocol {
	case appconfig.ProxySocks5:
		conn, err = connectSocks5(ctx, server, proxy)
	case appconfig.ProxyHTTP:
		conn, err = connectHTTP(ctx, server, proxy)
	default:
		return nil, wrapErr(KindOther, errors.Error("socksproxy: unknown proxy protocol"))
	}
	if err != nil && ctx.Err() != nil {
		return nil, wrapErr(KindTimedOut, err)
	}
	return conn, err
}

func dialer(bindAddr netip.Addr) *net.Dialer {
	d := &net.Dialer{}
	if bindAddr.IsValid() {
		d.LocalAddr = &net.TCPAddr{IP: bindAddr.AsSlice()}
	}
	return d
}

func dialDirect(ctx context.Context, server string, bindAddr netip.Addr) (net.Conn, error) {
	conn, err := dialer(bindAddr).DialContext(ctx, "tcp", server)
	if err != nil {
		if ctx.Err() != nil {
			return nil, wrapErr(KindTimedOut, err)
		}
		return nil, wrapErr(KindOther, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

func connectSocks5(ctx context.Context, server string, proxy *appconfig.ProxyConfig) (net.Conn, error) {
	conn, err := new(net.Dialer).DialContext(ctx, "tcp", proxy.Server)
	if err != nil {
		return nil, wrapErr(KindOther, errors.Annotate(err, "socksproxy: dialing socks5 proxy: %w"))
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := socks5Handshake(conn, proxy); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := socks5Command(conn, cmdConnect, server); err != nil {
		_ = conn.Close()
		return nil, err
	}

	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

// socks5Handshake performs the version/method negotiation and, if
// credentials are present, the username/password sub-negotiation of RFC
// 1929.
func socks5Handshake(conn net.Conn, proxy *appconfig.ProxyConfig) error {
	methods := []byte{authNone}
	if proxy.Username != "" {
		methods = []byte{authUserPass}
	}

	greeting := append([]byte{socks5Version, byte(len(methods))}, methods...)
	if _, err := conn.Write(greeting); err != nil {
		return wrapErr(KindOther, err)
	}

	resp := make([]byte, 2)
	if _, err := readFull(conn, resp); err != nil {
		return wrapErr(KindOther, err)
	}
	if resp[0] != socks5Version {
		return wrapErr(KindOther, errors.Error("socksproxy: unexpected socks version in method reply"))
	}
	switch resp[1] {
	case authNone:
		return nil
	case authUserPass:
		return socks5UserPassAuth(conn, proxy)
	case authNoAccept:
		return wrapErr(KindOther, errors.Error("socksproxy: proxy rejected all auth methods"))
	default:
		return wrapErr(KindOther, errors.Error("socksproxy: proxy selected unsupported auth method"))
	}
}

func socks5UserPassAuth(conn net.Conn, proxy *appconfig.ProxyConfig) error {
	req := make([]byte, 0, 3+len(proxy.Username)+len(proxy.Password))
	req = append(req, 0x01, byte(len(proxy.Username)))
	req = append(req, proxy.Username...)
	req = append(req, byte(len(proxy.Password)))
	req = append(req, proxy.Password...)

	if _, err := conn.Write(req); err != nil {
		return wrapErr(KindOther, err)
	}

	resp := make([]byte, 2)
	if _, err := readFull(conn, resp); err != nil {
		return wrapErr(KindOther, err)
	}
	if resp[1] != 0x00 {
		return wrapErr(KindOther, errors.Error("socksproxy: socks5 authentication failed"))
	}
	return nil
}

// socks5Command issues cmd (CONNECT or UDP ASSOCIATE) for target and reads
// the server's reply, discarding the bound address/port (callers that need
// it use socks5CommandAddr instead).
func socks5Command(conn net.Conn, cmd byte, target string) error {
	_, err := socks5CommandAddr(conn, cmd, target)
	return err
}

// socks5CommandAddr issues cmd for target and returns the server-bound
// address from the reply (the relay address, for UDP ASSOCIATE).
func socks5CommandAddr(conn net.Conn, cmd byte, target string) (string, error) {
	req, err := encodeSocks5Address(target)
	if err != nil {
		return "", wrapErr(KindOther, err)
	}

	packet := append([]byte{socks5Version, cmd, 0x00}, req...)
	if _, err := conn.Write(packet); err != nil {
		return "", wrapErr(KindOther, err)
	}

	return readSocks5Reply(conn)
}

func readSocks5Reply(conn net.Conn) (string, error) {
	header := make([]byte, 4)
	if _, err := readFull(conn, header); err != nil {
		return "", wrapErr(KindOther, err)
	}
	if header[0] != socks5Version {
		return "", wrapErr(KindOther, errors.Error("socksproxy: unexpected socks version in command reply"))
	}
	if header[1] != 0x00 {
		return "", wrapErr(KindOther, errors.Error("socksproxy: socks5 command failed: "+socks5ReplyText(header[1])))
	}

	addr, err := readSocks5BoundAddr(conn, header[3])
	if err != nil {
		return "", wrapErr(KindOther, err)
	}
	return addr, nil
}

func readSocks5BoundAddr(conn net.Conn, atyp byte) (string, error) {
	switch atyp {
	case atypIPv4:
		buf := make([]byte, 4+2)
		if _, err := readFull(conn, buf); err != nil {
			return "", err
		}
		return net.JoinHostPort(net.IP(buf[:4]).String(), portString(buf[4:6])), nil
	case atypIPv6:
		buf := make([]byte, 16+2)
		if _, err := readFull(conn, buf); err != nil {
			return "", err
		}
		return net.JoinHostPort(net.IP(buf[:16]).String(), portString(buf[16:18])), nil
	case atypDomain:
		lenBuf := make([]byte, 1)
		if _, err := readFull(conn, lenBuf); err != nil {
			return "", err
		}
		buf := make([]byte, int(lenBuf[0])+2)
		if _, err := readFull(conn, buf); err != nil {
			return "", err
		}
		host := string(buf[:len(buf)-2])
		return net.JoinHostPort(host, portString(buf[len(buf)-2:])), nil
	default:
		return "", errors.Error("socksproxy: unknown ATYP in socks5 reply")
	}
}

func socks5ReplyText(code byte) string {
	switch code {
	case 0x01:
		return "general SOCKS server failure"
	case 0x02:
		return "connection not allowed by ruleset"
	case 0x03:
		return "network unreachable"
	case 0x04:
		return "host unreachable"
	case 0x05:
		return "connection refused"
	case 0x06:
		return "TTL expired"
	case 0x07:
		return "command not supported"
	case 0x08:
		return "address type not supported"
	default:
		return "unknown error"
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func portString(b []byte) string {
	return strconv.Itoa(int(b[0])<<8 | int(b[1]))
}

// connectHTTP performs an HTTP CONNECT tunnel through proxy.
func connectHTTP(ctx context.Context, server string, proxy *appconfig.ProxyConfig) (net.Conn, error) {
	conn, err := new(net.Dialer).DialContext(ctx, "tcp", proxy.Server)
	if err != nil {
		return nil, wrapErr(KindConnectionRefused, errors.Annotate(err, "socksproxy: dialing http proxy: %w"))
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := httpConnect(conn, server, proxy); err != nil {
		_ = conn.Close()
		return nil, err
	}

	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

func httpConnect(conn net.Conn, target string, proxy *appconfig.ProxyConfig) error {
	req := "CONNECT " + target + " HTTP/1.1\r\nHost: " + target + "\r\n"
	if proxy.Username != "" {
		req += "Proxy-Authorization: Basic " + basicAuth(proxy.Username, proxy.Password) + "\r\n"
	}
	req += "\r\n"

	if _, err := conn.Write([]byte(req)); err != nil {
		return wrapErr(KindConnectionRefused, err)
	}

	reader := bufio.NewReader(conn)
	status, err := reader.ReadString('\n')
	if err != nil {
		return wrapErr(KindConnectionRefused, err)
	}
	if len(status) < 12 || status[9] != '2' {
		return wrapErr(KindConnectionRefused, errors.Error("socksproxy: http connect failed: "+status))
	}

	// Drain the rest of the response headers.
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return wrapErr(KindConnectionRefused, err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}

	return nil
}

func basicAuth(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
