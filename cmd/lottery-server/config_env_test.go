package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := &appConfig{
		listenAddr:      ":20000",
		backlog:         1024,
		expectedClients: 1,
		storePath:       "bets.log",
		winningNumber:   0,
		logFormat:       "text",
		logLevel:        "info",
		metricsAddr:     "",
		clientReadTO:    60 * time.Second,
		logMetricsEvery: 0,
		mdnsEnable:      false,
		mdnsName:        "",
	}

	os.Setenv("LOTTERY_SERVER_EXPECTED_CLIENTS", "5")
	os.Setenv("LOTTERY_SERVER_MDNS_ENABLE", "true")
	os.Setenv("LOTTERY_SERVER_CLIENT_READ_TIMEOUT", "100ms")
	os.Setenv("LOTTERY_SERVER_LOG_METRICS_INTERVAL", "5s")
	os.Setenv("LOTTERY_SERVER_WINNING_NUMBER", "7477")
	t.Cleanup(func() {
		os.Unsetenv("LOTTERY_SERVER_EXPECTED_CLIENTS")
		os.Unsetenv("LOTTERY_SERVER_MDNS_ENABLE")
		os.Unsetenv("LOTTERY_SERVER_CLIENT_READ_TIMEOUT")
		os.Unsetenv("LOTTERY_SERVER_LOG_METRICS_INTERVAL")
		os.Unsetenv("LOTTERY_SERVER_WINNING_NUMBER")
	})
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.expectedClients != 5 {
		t.Fatalf("expected expectedClients override, got %d", base.expectedClients)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.clientReadTO != 100*time.Millisecond {
		t.Fatalf("expected clientReadTO 100ms got %v", base.clientReadTO)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
	if base.winningNumber != 7477 {
		t.Fatalf("expected winningNumber 7477 got %d", base.winningNumber)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &appConfig{expectedClients: 1}
	os.Setenv("LOTTERY_SERVER_EXPECTED_CLIENTS", "9")
	t.Cleanup(func() { os.Unsetenv("LOTTERY_SERVER_EXPECTED_CLIENTS") })
	if err := applyEnvOverrides(base, map[string]struct{}{"expected-clients": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.expectedClients != 1 {
		t.Fatalf("expected expectedClients unchanged 1, got %d", base.expectedClients)
	}
}

func TestApplyEnvOverrides_BadInt(t *testing.T) {
	base := &appConfig{backlog: 512}
	os.Setenv("LOTTERY_SERVER_BACKLOG", "notint")
	t.Cleanup(func() { os.Unsetenv("LOTTERY_SERVER_BACKLOG") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}
