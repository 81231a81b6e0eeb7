package util

import (
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestClientIP(t *testing.T) {
	proxies, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	tests := []struct {
		name    string
		remote  string
		xff     string
		realIP  string
		trusted *TrustedProxies
		want    string
	}{
		{name: "untrusted peer ignores forwarding headers", remote: "198.51.100.10:1234", xff: "203.0.113.5", realIP: "203.0.113.6", want: "198.51.100.10"},
		{name: "trusted peer uses forwarded client", remote: "10.0.0.20:1234", xff: "203.0.113.5", trusted: proxies, want: "203.0.113.5"},
		{name: "skips trusted hops from the right", remote: "10.0.0.20:1234", xff: "203.0.113.5, 10.0.0.10", trusted: proxies, want: "203.0.113.5"},
		{name: "single trusted host entry", remote: "192.168.1.10:80", xff: "203.0.113.9", trusted: proxies, want: "203.0.113.9"},
		{name: "x-real-ip when forwarded-for is garbage", remote: "10.0.0.20:1234", xff: "garbage", realIP: "203.0.113.7", trusted: proxies, want: "203.0.113.7"},
		{name: "every hop trusted returns leftmost", remote: "10.0.0.20:1234", xff: "10.0.0.5, 10.0.0.10", trusted: proxies, want: "10.0.0.5"},
		{name: "unparseable remote addr passes through", remote: "pipe", want: "pipe"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://example.com", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	proxies, err := NewTrustedProxies([]string{" 10.0.0.0/8 ", "::ffff:192.168.1.1"})
	if err != nil {
		t.Fatalf("expected valid entries, got err: %v", err)
	}
	if !proxies.Contains(netip.MustParseAddr("192.168.1.1")) {
		t.Fatalf("ipv4-mapped entry should match plain ipv4")
	}
	if _, err := NewTrustedProxies([]string{"bad-cidr"}); err == nil {
		t.Fatalf("expected parse error for invalid entry")
	}
	if p, err := NewTrustedProxies([]string{"", "  "}); err != nil || p != nil {
		t.Fatalf("empty entries should yield nil, got %v %v", p, err)
	}
}
