package discovery

import (
	"net"
	"testing"

	"github.com/brutella/dnssd"
	"github.com/stretchr/testify/assert"
)

func TestFromEntry(t *testing.T) {
	e := dnssd.BrowseEntry{
		Name: "bench-scope-1",
		Host: "bench-scope-1.local.",
		Port: 5025,
		IPs:  []net.IP{net.ParseIP("192.168.1.50")},
		Text: map[string]string{"model": "W1SIG-DSO"},
	}
	inst := fromEntry(e)
	assert.Equal(t, "bench-scope-1", inst.Name)
	assert.Equal(t, "bench-scope-1.local.", inst.Host)
	assert.Equal(t, 5025, inst.Port)
	assert.Equal(t, "W1SIG-DSO", inst.Text["model"])
	assert.Len(t, inst.IPs, 1)
}

func TestServiceType(t *testing.T) {
	assert.Equal(t, "_sigtap-capture._tcp", ServiceType)
}
