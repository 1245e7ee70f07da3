package main

import (
	"testing"
	"time"
)

func TestConfigValidate_OK(t *testing.T) {
	c := &appConfig{
		serialDev:    "/dev/null",
		baud:         57600,
		listenAddr:   ":6114",
		serialReadTO: 10 * time.Millisecond,
		logFormat:    "text",
		logLevel:     "info",
		busBuffer:    8,
		busPolicy:    "drop",
		maxClients:   0,
		handshakeTO:  time.Second,
		clientReadTO: time.Second,
	}
	if err := c.validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"noSerialDev", func(c *appConfig) { c.serialDev = "" }},
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badPolicy", func(c *appConfig) { c.busPolicy = "x" }},
		{"badBusBuf", func(c *appConfig) { c.busBuffer = 0 }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badSerialTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"badHandshakeTO", func(c *appConfig) { c.handshakeTO = 0 }},
		{"badClientReadTO", func(c *appConfig) { c.clientReadTO = 0 }},
		{"badMaxClients", func(c *appConfig) { c.maxClients = -1 }},
	}
	for _, tc := range tests {
		base := &appConfig{
			serialDev: "/dev/null", baud: 57600, listenAddr: ":6114", serialReadTO: 10 * time.Millisecond,
			logFormat: "text", logLevel: "info", busBuffer: 8, busPolicy: "drop",
			maxClients: 0, handshakeTO: time.Second, clientReadTO: time.Second,
		}
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
