package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

// startMDNS advertises the intake listener's address so agency clients on
// the local network can discover where to connect. It publishes the
// configured expected client count K as a TXT record, but K itself is never
// derived from the network -- it remains a startup configuration value, per
// the non-goal against dynamic client-count discovery.
const mdnsServiceType = "_lottery-server._tcp"

func startMDNS(ctx context.Context, cfg *appConfig, port int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("lottery-server-%s", host)
	}
	meta := []string{
		"expected_clients=" + fmt.Sprint(cfg.expectedClients),
		"version=" + version,
		"commit=" + commit,
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}
