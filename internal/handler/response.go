package handler

import (
	"github.com/miekg/dns"

	"github.com/zh-yjie/ya-dns/internal/resolver"
)

// emptyReply builds a reply to req with the given rcode and no records,
// the shape shared by REFUSED, FORMERR, SERVFAIL, and the no-SOA NXDOMAIN
// case.
func emptyReply(req *dns.Msg, rcode int) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetRcode(req, rcode)
	resp.RecursionAvailable = true
	return resp
}

func refused(req *dns.Msg) *dns.Msg { return emptyReply(req, dns.RcodeRefused) }
func formErr(req *dns.Msg) *dns.Msg { return emptyReply(req, dns.RcodeFormatError) }
func servfail(req *dns.Msg) *dns.Msg { return emptyReply(req, dns.RcodeServerFailure) }

func nxdomain(req *dns.Msg, _ dns.RR) *dns.Msg {
	return emptyReply(req, dns.RcodeNameError)
}

// nxdomainWithSOA responds with rcode and places soa in the authority
// section, the soft-failure fallback carried by a resolver error.
func nxdomainWithSOA(req *dns.Msg, soa dns.RR, rcode int) *dns.Msg {
	resp := emptyReply(req, rcode)
	resp.Ns = []dns.RR{soa}
	return resp
}

// assembleAnswer splits the winning lookup's records into answers,
// authority NS records, and authority SOA records per the query type, and
// builds the NOERROR reply.
func assembleAnswer(req *dns.Msg, l *resolver.Lookup, _ string) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.RecursionAvailable = true
	resp.Rcode = dns.RcodeSuccess

	qtype := req.Question[0].Qtype

	var answers, authority []dns.RR
	for _, rr := range l.Answer {
		t := rr.Header().Rrtype
		switch {
		case t == qtype:
			answers = append(answers, rr)
		case t == dns.TypeNS:
			if qtype != dns.TypeNS {
				authority = append(authority, rr)
			}
		case t == dns.TypeSOA:
			if qtype != dns.TypeSOA {
				authority = append(authority, rr)
			}
		default:
			if qtype != dns.TypeNS && qtype != dns.TypeSOA {
				answers = append(answers, rr)
			}
		}
	}

	resp.Answer = answers
	resp.Ns = authority
	return resp
}
