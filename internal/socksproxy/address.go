package socksproxy

import (
	"net"
	"net/netip"
	"strconv"

	"github.com/AdguardTeam/golibs/errors"
)

// encodeSocks5Address renders target ("host:port") as a SOCKS5 address
// field: ATYP | ADDR | PORT, with ATYP 1 for IPv4, 4 for IPv6, or 3
// (length-prefixed) for a domain name that didn't parse as a literal IP.
func encodeSocks5Address(target string) ([]byte, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return nil, errors.Annotate(err, "socksproxy: splitting target address: %w")
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, errors.Annotate(err, "socksproxy: parsing target port: %w")
	}

	out := make([]byte, 0, 1+16+2)
	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.Is4() {
			out = append(out, atypIPv4)
			b := addr.As4()
			out = append(out, b[:]...)
		} else {
			out = append(out, atypIPv6)
			b := addr.As16()
			out = append(out, b[:]...)
		}
	} else {
		if len(host) > 255 {
			return nil, errors.Error("socksproxy: domain name too long for socks5 address field")
		}
		out = append(out, atypDomain, byte(len(host)))
		out = append(out, host...)
	}

	out = append(out, byte(port>>8), byte(port))
	return out, nil
}

// decodeSocks5Address reads a SOCKS5 address field (ATYP | ADDR | PORT) off
// the front of buf and returns the decoded "host:port" string plus the
// number of bytes consumed.
func decodeSocks5Address(buf []byte) (addr string, n int, err error) {
	if len(buf) < 1 {
		return "", 0, errors.Error("socksproxy: truncated socks5 address field")
	}

	switch buf[0] {
	case atypIPv4:
		if len(buf) < 1+4+2 {
			return "", 0, errors.Error("socksproxy: truncated ipv4 socks5 address field")
		}
		ip := netip.AddrFrom4([4]byte(buf[1:5]))
		port := uint16(buf[5])<<8 | uint16(buf[6])
		return netip.AddrPortFrom(ip, port).String(), 1 + 4 + 2, nil

	case atypIPv6:
		if len(buf) < 1+16+2 {
			return "", 0, errors.Error("socksproxy: truncated ipv6 socks5 address field")
		}
		ip := netip.AddrFrom16([16]byte(buf[1:17]))
		port := uint16(buf[17])<<8 | uint16(buf[18])
		return netip.AddrPortFrom(ip, port).String(), 1 + 16 + 2, nil

	case atypDomain:
		if len(buf) < 2 {
			return "", 0, errors.Error("socksproxy: truncated domain socks5 address field")
		}
		l := int(buf[1])
		if len(buf) < 2+l+2 {
			return "", 0, errors.Error("socksproxy: truncated domain socks5 address field")
		}
		host := string(buf[2 : 2+l])
		port := uint16(buf[2+l])<<8 | uint16(buf[2+l+1])
		return net.JoinHostPort(host, strconv.Itoa(int(port))), 2 + l + 2, nil

	default:
		return "", 0, errors.Error("socksproxy: unknown ATYP in socks5 address field")
	}
}
