package wire

import (
	"context"
	"net"
	"testing"
)

func TestNewHostPortDefaultsPortByScheme(t *testing.T) {
	hp, err := NewHostPort("https", "example.com", 0)
	if err != nil {
		t.Fatalf("new host port: %v", err)
	}
	if hp.Port != 443 || !hp.TLS {
		t.Fatalf("got %+v", hp)
	}

	hp, err = NewHostPort("http", "example.com", 0)
	if err != nil {
		t.Fatalf("new host port: %v", err)
	}
	if hp.Port != 80 || hp.TLS {
		t.Fatalf("got %+v", hp)
	}
}

func TestNewHostPortRejectsEmptyHost(t *testing.T) {
	if _, err := NewHostPort("http", "", 0); err == nil {
		t.Fatalf("expected empty host to error")
	}
}

func TestHostPortEqual(t *testing.T) {
	a := HostPort{Host: "example.com", Port: 443, TLS: true}
	b := HostPort{Host: "example.com", Port: 443, TLS: true}
	c := HostPort{Host: "example.com", Port: 80, TLS: false}
	if !a.Equal(b) {
		t.Fatalf("expected equal host ports to match")
	}
	if a.Equal(c) {
		t.Fatalf("expected different host ports not to match")
	}
}

func TestParseHostPort(t *testing.T) {
	hp, err := ParseHostPort("https", "example.com:8443")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if hp.Host != "example.com" || hp.Port != 8443 {
		t.Fatalf("got %+v", hp)
	}

	hp, err = ParseHostPort("https", "example.com")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if hp.Port != 443 {
		t.Fatalf("expected default https port, got %d", hp.Port)
	}
}

func TestConnectPlaintext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	hp, err := ParseHostPort("http", host+":"+portStr)
	if err != nil {
		t.Fatalf("parse host port: %v", err)
	}

	conn, meta, err := Connect(context.Background(), Config{HostPort: hp})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()
	if meta.RemoteAddr == "" {
		t.Fatalf("expected connection metadata to be populated")
	}
}
