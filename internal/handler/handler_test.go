package handler_test

import (
	"context"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zh-yjie/ya-dns/internal/appconfig"
	"github.com/zh-yjie/ya-dns/internal/handler"
	"github.com/zh-yjie/ya-dns/internal/resolver"
	"github.com/zh-yjie/ya-dns/internal/statsapi"
)

func TestHandle_RefusesNonQuery(t *testing.T) {
	h := handler.New(&appconfig.AppConfig{}, nil, 0, nil)

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	req.Opcode = dns.OpcodeUpdate

	resp := h.Handle(context.Background(), req)
	require.NotNil(t, resp)
	assert.Equal(t, dns.RcodeRefused, resp.Rcode)
	assert.Empty(t, resp.Answer)
}

func TestHandle_FormErrOnNoQuestions(t *testing.T) {
	h := handler.New(&appconfig.AppConfig{}, nil, 0, nil)

	req := new(dns.Msg)
	req.Opcode = dns.OpcodeQuery

	resp := h.Handle(context.Background(), req)
	require.NotNil(t, resp)
	assert.Equal(t, dns.RcodeFormatError, resp.Rcode)
}

func TestHandle_NoMatchingUpstreamsIsNXDomain(t *testing.T) {
	h := handler.New(&appconfig.AppConfig{Defaults: []string{"missing"}}, map[string]*resolver.Resolver{}, 0, nil)

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	resp := h.Handle(context.Background(), req)
	require.NotNil(t, resp)
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
}

func TestHandle_ExactlyOneResponse(t *testing.T) {
	h := handler.New(&appconfig.AppConfig{}, nil, 0, nil)

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	req.Opcode = dns.OpcodeUpdate

	for i := 0; i < 5; i++ {
		resp := h.Handle(context.Background(), req)
		assert.NotNil(t, resp)
	}
}
