package resolver

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/miekg/dns"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/zh-yjie/ya-dns/internal/socksproxy"
)

// doqALPN is the RFC 9250 DNS-over-QUIC ALPN token.
var doqALPN = []string{"doq"}

// exchangeDoQ sends msg over a DNS-over-QUIC stream (RFC 9250): one
// bidirectional stream per query, each DNS message length-prefixed by a
// big-endian uint16, matching the DNS-over-TCP/DoT framing convention.
func (r *Resolver) exchangeDoQ(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	server := r.nextAddr()
	pconn, closeEP, err := r.quicPacketConn(ctx, server)
	if err != nil {
		return nil, err
	}
	defer closeEP()

	udpAddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, err
	}

	tr := &quic.Transport{Conn: pconn}
	defer func() { _ = tr.Close() }()

	conn, err := tr.DialEarly(ctx, udpAddr, r.quicTLSConfig(), nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.CloseWithError(0, "") }()

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stream.Close() }()

	wire, err := msg.Pack()
	if err != nil {
		return nil, err
	}

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(wire)))
	if _, err := stream.Write(append(lenBuf[:], wire...)); err != nil {
		return nil, err
	}
	if err := stream.Close(); err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(stream, lenBuf[:]); err != nil {
		return nil, err
	}
	respLen := binary.BigEndian.Uint16(lenBuf[:])

	body := make([]byte, respLen)
	if _, err := io.ReadFull(stream, body); err != nil {
		return nil, err
	}

	resp := new(dns.Msg)
	if err := resp.Unpack(body); err != nil {
		return nil, err
	}
	return resp, nil
}

// exchangeH3 sends msg as a DoH request over HTTP/3, using an
// http3.Transport bound to a proxy-aware UDP socket the same way exchangeDoQ
// does.
func (r *Resolver) exchangeH3(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	server := r.nextAddr()
	pconn, closeEP, err := r.quicPacketConn(ctx, server)
	if err != nil {
		return nil, err
	}
	defer closeEP()

	qtr := &quic.Transport{Conn: pconn}

	tr := &http3.Transport{
		TLSClientConfig: &tls.Config{ServerName: r.tlsHost, MinVersion: tls.VersionTLS13},
		Dial: func(ctx context.Context, addr string, tlsConf *tls.Config, quicConf *quic.Config) (*quic.Conn, error) {
			udpAddr, err := net.ResolveUDPAddr("udp", addr)
			if err != nil {
				return nil, err
			}
			return qtr.DialEarly(ctx, udpAddr, tlsConf, quicConf)
		},
	}
	defer func() { _ = tr.Close() }()
	defer func() { _ = qtr.Close() }()

	wire, err := msg.Pack()
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("https://%s/dns-query", server)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(wire))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", dohContentType)

	httpResp, err := tr.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resolver: h3 doh request failed with status %d", httpResp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, dns.MaxMsgSize))
	if err != nil {
		return nil, err
	}

	resp := new(dns.Msg)
	if err := resp.Unpack(body); err != nil {
		return nil, err
	}
	return resp, nil
}

// quicPacketConn binds a UDP socket suitable for a quic.Transport, tunneled
// through the upstream's proxy (SOCKS5 UDP-ASSOCIATE) when configured. The
// returned net.PacketConn already frames/deframes SOCKS5 UDP datagrams
// addressed to server when the association is proxied; the returned closer
// tears down both the UDP socket and (when proxied) the control connection
// keeping the association alive.
func (r *Resolver) quicPacketConn(ctx context.Context, server string) (net.PacketConn, func(), error) {
	ep, err := socksproxy.BindUDP(ctx, "", server, r.proxy, r.opts.Timeout)
	if err != nil {
		return nil, nil, err
	}
	return ep.PacketConn(server), func() { _ = ep.Close() }, nil
}

func (r *Resolver) quicTLSConfig() *tls.Config {
	return &tls.Config{
		ServerName: r.tlsHost,
		NextProtos: doqALPN,
		MinVersion: tls.VersionTLS13,
	}
}
