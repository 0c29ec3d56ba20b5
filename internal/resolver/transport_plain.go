package resolver

import (
	"context"
	"crypto/tls"
	"net"
	"net/netip"

	"github.com/miekg/dns"

	"github.com/zh-yjie/ya-dns/internal/appconfig"
	"github.com/zh-yjie/ya-dns/internal/socksproxy"
)

// exchangeUDP sends msg over a (possibly SOCKS5-tunneled) UDP socket. A
// truncated reply is retried over TCP, matching the standard DNS
// fallback-on-TC behavior.
func (r *Resolver) exchangeUDP(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	server := r.nextAddr()

	ep, err := socksproxy.BindUDP(ctx, "", server, r.proxy, r.opts.Timeout)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ep.Close() }()

	conn := &dns.Conn{Conn: ep.Conn.(net.Conn)}
	client := &dns.Client{Net: "udp", Timeout: r.opts.Timeout}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var resp *dns.Msg
	if r.proxy != nil && r.proxy.Protocol == appconfig.ProxySocks5 {
		resp, err = r.exchangeUDPFramed(conn, msg)
	} else {
		resp, _, err = client.ExchangeWithConn(msg, conn)
	}
	if err != nil {
		return nil, err
	}
	if resp.Truncated {
		return r.exchangeStream(ctx, msg, "tcp", nil)
	}
	return resp, nil
}

// exchangeUDPFramed is used when the UDP socket is a SOCKS5 association:
// every outbound datagram must carry the SOCKS5 UDP header and every
// inbound one must be stripped of it before the DNS wire codec sees it.
func (r *Resolver) exchangeUDPFramed(conn *dns.Conn, msg *dns.Msg) (*dns.Msg, error) {
	wire, err := msg.Pack()
	if err != nil {
		return nil, err
	}

	framed, err := socksproxy.FrameUDP(r.nextAddr(), wire)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Conn.Write(framed); err != nil {
		return nil, err
	}

	buf := make([]byte, dns.MaxMsgSize)
	for {
		n, err := conn.Conn.Read(buf)
		if err != nil {
			return nil, err
		}

		_, payload, err := socksproxy.ParseUDP(buf[:n])
		if err != nil {
			// Malformed or fragmented relay datagram: discard it and keep
			// waiting for the reply.
			continue
		}

		resp := new(dns.Msg)
		if err := resp.Unpack(payload); err != nil {
			return nil, err
		}
		return resp, nil
	}
}

// exchangeStream sends msg over a TCP or DoT connection, optionally
// proxy-tunneled by internal/socksproxy.
func (r *Resolver) exchangeStream(ctx context.Context, msg *dns.Msg, transport string, tlsConf *tls.Config) (*dns.Msg, error) {
	server := r.nextAddr()

	raw, err := socksproxy.ConnectTCP(ctx, server, netip.Addr{}, r.proxy, r.opts.Timeout)
	if err != nil {
		return nil, err
	}
	defer func() { _ = raw.Close() }()

	if tlsConf != nil {
		raw = tls.Client(raw, tlsConf)
	}

	conn := &dns.Conn{Conn: raw}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client := &dns.Client{Net: transport, Timeout: r.opts.Timeout}
	resp, _, err := client.ExchangeWithConn(msg, conn)
	return resp, err
}
