package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectedBroadcast(t *testing.T) {
	tests := []struct {
		cidr string
		want string
		ok   bool
	}{
		{"192.168.1.40/24", "192.168.1.255", true},
		{"10.1.2.3/8", "10.255.255.255", true},
		{"172.16.5.9/20", "172.16.15.255", true},
		{"192.168.1.40/30", "192.168.1.43", true},
		{"192.168.1.40/31", "", false},
		{"192.168.1.40/32", "", false},
		{"fe80::1/64", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.cidr, func(t *testing.T) {
			ip, ipnet, err := net.ParseCIDR(tt.cidr)
			assert.NoError(t, err)
			ipnet.IP = ip

			got, ok := directedBroadcast(ipnet)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got.String())
			}
		})
	}
}

func TestResolveBroadcast(t *testing.T) {
	assert.Equal(t, "192.168.7.255", ResolveBroadcast("192.168.7.255"))
	assert.Equal(t, BroadcastAddress, ResolveBroadcast(""))

	auto := ResolveBroadcast(AutoBroadcast)
	assert.NotEmpty(t, auto)
	assert.NotNil(t, net.ParseIP(auto))
}

func TestIsVirtual(t *testing.T) {
	assert.True(t, isVirtual("docker0"))
	assert.True(t, isVirtual("veth12ab"))
	assert.True(t, isVirtual("br-4f2a"))
	assert.False(t, isVirtual("eth0"))
	assert.False(t, isVirtual("wlan0"))
}
