// Package discovery wraps github.com/brutella/dnssd for finding and
// announcing capture-capable instruments on the local network over
// mDNS/DNS-SD. Announcing a service and browsing for one share almost
// all of their setup, so both directions live in one small package:
// browsing for instruments advertising themselves, since a bench
// instrument is the one being discovered here, and announcing this
// process as one too for symmetric testing.
package discovery

import (
	"context"
	"net"

	"github.com/brutella/dnssd"

	"github.com/w1sig/sigtap/internal/sigerr"
)

const module = "discovery"

// ServiceType is the DNS-SD service type capture-capable instruments
// advertise themselves under.
const ServiceType = "_sigtap-capture._tcp"

// Instrument is a discovered or announced capture-capable endpoint.
type Instrument struct {
	Name string
	Host string
	Port int
	IPs  []net.IP
	Text map[string]string
}

func fromEntry(e dnssd.BrowseEntry) Instrument {
	return Instrument{Name: e.Name, Host: e.Host, Port: e.Port, IPs: e.IPs, Text: e.Text}
}

// Browse watches for ServiceType instruments until ctx is canceled,
// calling onAdd as each one appears and onRemove as each one
// disappears. It blocks until ctx is done or the underlying lookup
// fails.
func Browse(ctx context.Context, onAdd, onRemove func(Instrument)) error {
	add := func(e dnssd.BrowseEntry) {
		if onAdd != nil {
			onAdd(fromEntry(e))
		}
	}
	rmv := func(e dnssd.BrowseEntry) {
		if onRemove != nil {
			onRemove(fromEntry(e))
		}
	}
	if err := dnssd.LookupType(ctx, ServiceType, add, rmv); err != nil {
		return sigerr.Wrap(sigerr.NA, module, "browse "+ServiceType, err)
	}
	return nil
}

// Announce advertises this process as a ServiceType instrument on
// port, returning the running responder's stop function.
func Announce(ctx context.Context, name string, port int) (stop func(), err error) {
	cfg := dnssd.Config{Name: name, Type: ServiceType, Port: port}
	sv, err := dnssd.NewService(cfg)
	if err != nil {
		return nil, sigerr.Wrap(sigerr.NA, module, "create service", err)
	}
	rp, err := dnssd.NewResponder()
	if err != nil {
		return nil, sigerr.Wrap(sigerr.NA, module, "create responder", err)
	}
	if _, err := rp.Add(sv); err != nil {
		return nil, sigerr.Wrap(sigerr.NA, module, "add service", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- rp.Respond(runCtx) }()

	return func() {
		cancel()
		<-done
	}, nil
}
