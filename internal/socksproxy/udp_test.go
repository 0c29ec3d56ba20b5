package socksproxy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zh-yjie/ya-dns/internal/socksproxy"
)

func TestFrameParseUDP_RoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		target  string
		payload []byte
	}{
		{"ipv4", "1.2.3.4:53", []byte("hello")},
		{"ipv6", "[2001:db8::1]:53", []byte{0x00, 0x01, 0x02}},
		{"domain", "example.com:443", []byte("payload data here")},
		{"empty-payload", "8.8.8.8:53", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			framed, err := socksproxy.FrameUDP(tc.target, tc.payload)
			require.NoError(t, err)

			addr, payload, err := socksproxy.ParseUDP(framed)
			require.NoError(t, err)

			assert.Equal(t, tc.payload, payload)
			assert.NotEmpty(t, addr)
		})
	}
}

func TestParseUDP_RejectsFragment(t *testing.T) {
	framed, err := socksproxy.FrameUDP("1.2.3.4:53", []byte("x"))
	require.NoError(t, err)

	framed[2] = 0x01 // set FRAG != 0

	_, _, err = socksproxy.ParseUDP(framed)
	assert.Error(t, err)
}

func TestParseUDP_Truncated(t *testing.T) {
	_, _, err := socksproxy.ParseUDP([]byte{0x00, 0x00})
	assert.Error(t, err)
}

func TestFrameUDP_IPv4HeaderShape(t *testing.T) {
	framed, err := socksproxy.FrameUDP("1.2.3.4:53", []byte("x"))
	require.NoError(t, err)

	require.Len(t, framed, 3+1+4+2+1)
	assert.Equal(t, byte(0x00), framed[0])
	assert.Equal(t, byte(0x00), framed[1])
	assert.Equal(t, byte(0x00), framed[2])
	assert.Equal(t, byte(0x01), framed[3]) // ATYP IPv4
	assert.Equal(t, []byte{1, 2, 3, 4}, framed[4:8])
	assert.Equal(t, byte('x'), framed[len(framed)-1])
}
