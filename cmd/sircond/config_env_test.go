package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := &appConfig{
		serialDev:       "/dev/null",
		baud:            57600,
		listenAddr:      ":6114",
		serialReadTO:    50 * time.Millisecond,
		logFormat:       "text",
		logLevel:        "info",
		metricsAddr:     "",
		busBuffer:       512,
		busPolicy:       "drop",
		maxClients:      0,
		handshakeTO:     3 * time.Second,
		clientReadTO:    60 * time.Second,
		logMetricsEvery: 0,
		mdnsEnable:      false,
		mdnsName:        "",
	}

	os.Setenv("SIRCOND_BAUD", "115200")
	os.Setenv("SIRCOND_MDNS_ENABLE", "true")
	os.Setenv("SIRCOND_SERIAL_READ_TIMEOUT", "100ms")
	os.Setenv("SIRCOND_LOG_METRICS_INTERVAL", "5s")
	t.Cleanup(func() {
		os.Unsetenv("SIRCOND_BAUD")
		os.Unsetenv("SIRCOND_MDNS_ENABLE")
		os.Unsetenv("SIRCOND_SERIAL_READ_TIMEOUT")
		os.Unsetenv("SIRCOND_LOG_METRICS_INTERVAL")
	})
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.baud != 115200 {
		t.Fatalf("expected baud override, got %d", base.baud)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.serialReadTO != 100*time.Millisecond {
		t.Fatalf("expected serialReadTO 100ms got %v", base.serialReadTO)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &appConfig{baud: 57600}
	os.Setenv("SIRCOND_BAUD", "115200")
	t.Cleanup(func() { os.Unsetenv("SIRCOND_BAUD") })
	if err := applyEnvOverrides(base, map[string]struct{}{"baud": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.baud != 57600 {
		t.Fatalf("expected baud unchanged 57600 got %d", base.baud)
	}
}

func TestApplyEnvOverrides_BadInt(t *testing.T) {
	base := &appConfig{busBuffer: 512}
	os.Setenv("SIRCOND_BUS_BUFFER", "notint")
	t.Cleanup(func() { os.Unsetenv("SIRCOND_BUS_BUFFER") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}

func TestApplyEnvOverrides_PidFile(t *testing.T) {
	base := &appConfig{}
	os.Setenv("SIRCOND_PID_FILE", "/tmp/sircond.pid")
	t.Cleanup(func() { os.Unsetenv("SIRCOND_PID_FILE") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.pidFile != "/tmp/sircond.pid" {
		t.Fatalf("expected pidFile override got %q", base.pidFile)
	}
}
