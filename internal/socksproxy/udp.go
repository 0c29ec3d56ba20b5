package socksproxy

import (
	"context"
	"net"
	"time"

	"github.com/AdguardTeam/golibs/errors"

	"github.com/zh-yjie/ya-dns/internal/appconfig"
)

// MaxDatagramSize is the largest UDP payload this package will buffer when
// unframing a SOCKS5-relayed datagram; big enough for a QUIC long-header
// packet on top of the RFC 1928 §7 header.
const MaxDatagramSize = 65535

// FrameUDP prepends the RFC 1928 §7 SOCKS5 UDP request header to payload,
// addressed to target ("host:port"): RSV(2)=0 | FRAG(1)=0 | ATYP | DST.ADDR
// | DST.PORT | DATA.
func FrameUDP(target string, payload []byte) ([]byte, error) {
	addr, err := encodeSocks5Address(target)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 3+len(addr)+len(payload))
	out = append(out, 0x00, 0x00, 0x00)
	out = append(out, addr...)
	out = append(out, payload...)
	return out, nil
}

// ParseUDP strips a SOCKS5 UDP header off the front of packet, returning
// the decoded source/destination address and the remaining payload.
// Fragmented datagrams (FRAG != 0) are rejected, matching the "reject by
// discarding" contract: the caller should drop the packet.
func ParseUDP(packet []byte) (addr string, payload []byte, err error) {
	if len(packet) < 4 {
		return "", nil, errors.Error("socksproxy: truncated socks5 udp header")
	}
	if packet[2] != 0x00 {
		return "", nil, errors.Error("socksproxy: fragmented socks5 udp datagram")
	}

	addr, n, err := decodeSocks5Address(packet[3:])
	if err != nil {
		return "", nil, err
	}

	return addr, packet[3+n:], nil
}

// UDPEndpoint is a UDP socket tunneled through a SOCKS5 UDP-ASSOCIATE
// relay. The control TCP connection must stay open for the lifetime of the
// association; Close tears both down.
type UDPEndpoint struct {
	// Conn is connected to the proxy's relay address (SOCKS5) or bound
	// directly to the destination-facing interface (no proxy / non-socks5
	// proxy). Every datagram written to a proxied endpoint must already be
	// wrapped with FrameUDP; every datagram read from one is still wrapped
	// and must be unwrapped with ParseUDP.
	Conn net.PacketConn

	control net.Conn // nil unless tunneled through SOCKS5
}

// Close tears down the UDP socket and, if present, the control connection
// keeping a SOCKS5 UDP association alive.
func (e *UDPEndpoint) Close() error {
	var errs []error
	if e.Conn != nil {
		errs = append(errs, e.Conn.Close())
	}
	if e.control != nil {
		errs = append(errs, e.control.Close())
	}
	return errors.Join(errs...)
}

// BindUDP opens a UDP endpoint capable of reaching server. With no proxy
// (or a non-SOCKS5 proxy, which has no UDP semantics), it binds a plain UDP
// socket at local. With a SOCKS5 proxy, it performs the full UDP-ASSOCIATE
// handshake: a control TCP connection authenticates and requests the
// association, then the local UDP socket is connected to the relay address
// the proxy returns. The control connection is kept alive for the
// endpoint's lifetime; closing the endpoint tears down the association.
func BindUDP(
	ctx context.Context,
	local string,
	server string,
	proxy *appconfig.ProxyConfig,
	timeout time.Duration,
) (*UDPEndpoint, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	if proxy == nil || proxy.Protocol != appconfig.ProxySocks5 {
		var localAddr *net.UDPAddr
		if local != "" {
			var err error
			localAddr, err = net.ResolveUDPAddr("udp", local)
			if err != nil {
				return nil, wrapErr(KindOther, err)
			}
		}

		serverAddr, err := net.ResolveUDPAddr("udp", server)
		if err != nil {
			return nil, wrapErr(KindOther, err)
		}

		conn, err := net.DialUDP("udp", localAddr, serverAddr)
		if err != nil {
			return nil, wrapErr(KindOther, err)
		}
		return &UDPEndpoint{Conn: conn}, nil
	}

	return bindUDPSocks5(ctx, local, proxy, timeout)
}

// IsSocks5 reports whether endpoint e is tunneled through a SOCKS5
// UDP-ASSOCIATE relay (as opposed to a direct socket or a proxy protocol
// with no UDP semantics), i.e. whether its datagrams need SOCKS5 UDP
// framing/deframing.
func (e *UDPEndpoint) IsSocks5() bool { return e.control != nil }

// PacketConn adapts e into a plain net.PacketConn suitable for handing to a
// generic UDP consumer such as quic.Transport: if e is a direct socket,
// ReadFrom/WriteTo pass straight through; if e is tunneled through SOCKS5,
// every outbound datagram is framed with FrameUDP addressed to target and
// every inbound datagram is deframed with ParseUDP before being surfaced,
// exactly as §4.4's "QUIC binding" paragraph requires. e.Conn is always a
// connected socket (dialed either to the true server or to the relay), so
// the addr argument of WriteTo and the addr this returns from ReadFrom are
// informational only — the single fixed peer is what actually receives or
// sent the datagram.
func (e *UDPEndpoint) PacketConn(target string) net.PacketConn {
	return &framedPacketConn{conn: e.Conn.(net.Conn), framed: e.IsSocks5(), target: target}
}

// framedPacketConn is the net.PacketConn adapter described above. The
// underlying conn is always pre-connected, so writes/reads go through
// Write/Read rather than WriteTo/ReadFrom on the embedded net.Conn (a
// connected *net.UDPConn rejects WriteTo with a non-nil address).
type framedPacketConn struct {
	conn   net.Conn
	framed bool
	target string
}

func (c *framedPacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	if !c.framed {
		n, err := c.conn.Read(p)
		return n, c.conn.RemoteAddr(), err
	}

	buf := make([]byte, MaxDatagramSize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return 0, c.conn.RemoteAddr(), err
		}

		_, payload, err := ParseUDP(buf[:n])
		if err != nil {
			// Malformed or fragmented relay datagram: discard it.
			continue
		}
		return copy(p, payload), c.conn.RemoteAddr(), nil
	}
}

func (c *framedPacketConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	if !c.framed {
		return c.conn.Write(p)
	}

	framed, err := FrameUDP(c.target, p)
	if err != nil {
		return 0, err
	}
	if _, err := c.conn.Write(framed); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *framedPacketConn) Close() error                       { return c.conn.Close() }
func (c *framedPacketConn) LocalAddr() net.Addr                { return c.conn.LocalAddr() }
func (c *framedPacketConn) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *framedPacketConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *framedPacketConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

func bindUDPSocks5(
	ctx context.Context,
	local string,
	proxy *appconfig.ProxyConfig,
	timeout time.Duration,
) (ep *UDPEndpoint, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if err != nil && dialCtx.Err() != nil {
			err = wrapErr(KindTimedOut, err)
		}
	}()

	control, err := new(net.Dialer).DialContext(dialCtx, "tcp", proxy.Server)
	if err != nil {
		return nil, wrapErr(KindOther, err)
	}

	if deadline, ok := dialCtx.Deadline(); ok {
		_ = control.SetDeadline(deadline)
	}

	if err := socks5Handshake(control, proxy); err != nil {
		_ = control.Close()
		return nil, err
	}

	relay, err := socks5CommandAddr(control, cmdUDPAssociate, "0.0.0.0:0")
	if err != nil {
		_ = control.Close()
		return nil, err
	}

	_ = control.SetDeadline(time.Time{})

	relayAddr, err := net.ResolveUDPAddr("udp", relay)
	if err != nil {
		_ = control.Close()
		return nil, wrapErr(KindOther, err)
	}

	var localAddr *net.UDPAddr
	if local != "" {
		localAddr, err = net.ResolveUDPAddr("udp", local)
		if err != nil {
			_ = control.Close()
			return nil, wrapErr(KindOther, err)
		}
	}

	// Connecting the local socket to the relay address means every
	// subsequent Read/Write only ever talks to the relay; the true
	// destination travels inside the SOCKS5 UDP header on each datagram.
	conn, err := net.DialUDP("udp", localAddr, relayAddr)
	if err != nil {
		_ = control.Close()
		return nil, wrapErr(KindOther, err)
	}

	return &UDPEndpoint{Conn: conn, control: control}, nil
}
