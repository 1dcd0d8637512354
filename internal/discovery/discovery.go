// Package discovery advertises and browses for VKVM hosts over mDNS,
// so a controlling application can find a bridge without a hardcoded
// address. This is purely a convenience layer on top of the serial
// link and is never part of the wire protocol itself (§6).
package discovery

import (
	"context"
	"fmt"

	"github.com/brutella/dnssd"
)

// ServiceType is the mDNS/DNS-SD service type VKVM hosts advertise
// under.
const ServiceType = "_vkvm._tcp"

// Advertisement is a running mDNS responder for one VKVM host.
type Advertisement struct {
	responder dnssd.Responder
	cancel    context.CancelFunc
}

// Advertise publishes instanceName on port over mDNS and returns once
// the responder is running in the background. Call Shutdown to stop.
func Advertise(ctx context.Context, instanceName string, port int) (*Advertisement, error) {
	cfg := dnssd.Config{
		Name: instanceName,
		Type: ServiceType,
		Port: port,
	}
	service, err := dnssd.NewService(cfg)
	if err != nil {
		return nil, fmt.Errorf("discovery: new service: %w", err)
	}
	responder, err := dnssd.NewResponder()
	if err != nil {
		return nil, fmt.Errorf("discovery: new responder: %w", err)
	}
	if _, err := responder.Add(service); err != nil {
		return nil, fmt.Errorf("discovery: add service: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		_ = responder.Respond(runCtx)
	}()
	return &Advertisement{responder: responder, cancel: cancel}, nil
}

// Shutdown stops advertising.
func (a *Advertisement) Shutdown() {
	a.cancel()
}

// Found is one discovered VKVM host.
type Found struct {
	Name string
	Host string
	Port int
}

// Browse searches for VKVM hosts on the local network until ctx is
// done, calling onFound for each one discovered.
func Browse(ctx context.Context, onFound func(Found)) error {
	addFn := func(srv dnssd.BrowseEntry) {
		onFound(Found{Name: srv.Name, Host: srv.IPs[0].String(), Port: srv.Port})
	}
	rmvFn := func(srv dnssd.BrowseEntry) {}
	return dnssd.LookupType(ctx, ServiceType, addFn, rmvFn)
}
