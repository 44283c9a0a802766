package origin

import "testing"

func TestNormalizeHeader(t *testing.T) {
	cases := []struct {
		in         string
		normalized string
		host       string
		ok         bool
	}{
		{in: "HTTPS://Example.COM:443", normalized: "https://example.com", host: "example.com", ok: true},
		{in: "http://localhost:5173/", normalized: "http://localhost:5173", host: "localhost:5173", ok: true},
		{in: "http://[::1]:8080", normalized: "http://[::1]:8080", host: "[::1]:8080", ok: true},
		{in: "null", normalized: "null", host: "", ok: true},
		{in: "", ok: false},
		{in: "ftp://example.com", ok: false},
		{in: "https://example.com/path", ok: false},
		{in: "https://example.com/?q=1", ok: false},
		{in: "https://user@example.com", ok: false},
		{in: "https://example.com/#frag", ok: false},
		{in: "https://example.com:0", ok: false},
	}
	for _, tc := range cases {
		normalized, host, ok := NormalizeHeader(tc.in)
		if ok != tc.ok {
			t.Fatalf("NormalizeHeader(%q) ok=%v, want %v", tc.in, ok, tc.ok)
		}
		if !ok {
			continue
		}
		if normalized != tc.normalized || host != tc.host {
			t.Fatalf("NormalizeHeader(%q)=(%q,%q), want (%q,%q)", tc.in, normalized, host, tc.normalized, tc.host)
		}
	}
}

func TestIsAllowed(t *testing.T) {
	t.Run("same host by default", func(t *testing.T) {
		if !IsAllowed("https://room.example", "room.example", "room.example:443", nil) {
			t.Fatalf("expected same host to be allowed")
		}
		if IsAllowed("https://evil.example", "evil.example", "room.example", nil) {
			t.Fatalf("expected other host to be rejected")
		}
	})

	t.Run("null never matches a host", func(t *testing.T) {
		if IsAllowed("null", "", "room.example", nil) {
			t.Fatalf("expected null origin to be rejected")
		}
	})

	t.Run("allowlist", func(t *testing.T) {
		allowed := []string{"http://localhost:4200"}
		if !IsAllowed("http://localhost:4200", "localhost:4200", "room.example", allowed) {
			t.Fatalf("expected allowlisted origin to pass")
		}
		if IsAllowed("http://localhost:3000", "localhost:3000", "localhost:3000", allowed) {
			t.Fatalf("allowlist must replace the same-host default")
		}
		if !IsAllowed("https://any.example", "any.example", "room.example", []string{"*"}) {
			t.Fatalf("expected wildcard to allow any origin")
		}
	})
}
