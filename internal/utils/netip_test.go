package utils

import (
	"net/http/httptest"
	"testing"
)

func TestIPMatcher(t *testing.T) {
	m := NewIPMatcher([]string{"10.0.0.0/8", " 192.168.1.4 ", "::1", "garbage", ""})

	tests := []struct {
		ip   string
		want bool
	}{
		{"10.1.2.3", true},
		{"11.0.0.1", false},
		{"192.168.1.4", true},
		{"192.168.1.5", false},
		{"::1", true},
		{"::ffff:10.0.0.7", true},
		{"not-an-ip", false},
	}
	for _, tt := range tests {
		if got := m.Allow(tt.ip); got != tt.want {
			t.Errorf("Allow(%q) = %v, want %v", tt.ip, got, tt.want)
		}
	}

	if m.IsEmpty() {
		t.Error("IsEmpty() = true for a populated matcher")
	}
	if !NewIPMatcher([]string{"nope"}).IsEmpty() {
		t.Error("IsEmpty() = false for a matcher without valid entries")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remote     string
		xff        string
		realIP     string
		trustProxy bool
		want       string
	}{
		{name: "remote only", remote: "1.2.3.4:5678", want: "1.2.3.4"},
		{name: "proxy headers ignored", remote: "1.2.3.4:5678", xff: "9.9.9.9", want: "1.2.3.4"},
		{name: "forwarded for", remote: "127.0.0.1:1", xff: " 9.9.9.9 , 8.8.8.8", trustProxy: true, want: "9.9.9.9"},
		{name: "real ip fallback", remote: "127.0.0.1:1", realIP: "7.7.7.7", trustProxy: true, want: "7.7.7.7"},
		{name: "ipv6 remote", remote: "[::1]:80", want: "::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := ClientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
