package ipfilter

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		want    int
		wantErr bool
	}{
		{name: "empty list", entries: nil, want: 0},
		{name: "single IP", entries: []string{"192.168.1.1"}, want: 1},
		{name: "CIDR and whitespace", entries: []string{" 10.0.0.0/8 ", "", "172.16.0.0/12"}, want: 2},
		{name: "IPv6", entries: []string{"::1", "2001:db8::/32"}, want: 2},
		{name: "invalid IP", entries: []string{"192.168.1.1", "gateway"}, wantErr: true},
		{name: "invalid CIDR", entries: []string{"10.0.0.0/33"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.entries)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("Parse() = %v, want %d prefixes", got, tt.want)
			}
		})
	}
}

func TestFilterAllows(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		addr    string
		want    bool
	}{
		{name: "empty filter allows all", addr: "1.2.3.4", want: true},
		{name: "exact match", entries: []string{"192.168.1.1"}, addr: "192.168.1.1", want: true},
		{name: "exact no match", entries: []string{"192.168.1.1"}, addr: "192.168.1.2", want: false},
		{name: "CIDR contains", entries: []string{"192.168.0.0/16"}, addr: "192.168.1.100", want: true},
		{name: "CIDR not contains", entries: []string{"192.168.0.0/16"}, addr: "10.0.0.1", want: false},
		{name: "mapped IPv4", entries: []string{"10.0.0.0/8"}, addr: "::ffff:10.1.2.3", want: true},
		{name: "IPv6 CIDR", entries: []string{"2001:db8::/32"}, addr: "2001:db8::1", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.entries, false, newTestLogger())
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if got := f.Allows(netip.MustParseAddr(tt.addr)); got != tt.want {
				t.Errorf("Allows(%s) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestClientAddr(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		xff        string
		xri        string
		remoteAddr string
		want       string
	}{
		{name: "forwarded chain", trustProxy: true, xff: "203.0.113.50, 70.41.3.18", remoteAddr: "127.0.0.1:1", want: "203.0.113.50"},
		{name: "real ip", trustProxy: true, xri: "198.51.100.25", remoteAddr: "127.0.0.1:1", want: "198.51.100.25"},
		{name: "headers ignored without proxy", xff: "203.0.113.50", remoteAddr: "192.168.1.100:54321", want: "192.168.1.100"},
		{name: "remote without port", remoteAddr: "192.168.1.100", want: "192.168.1.100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}

			got, ok := ClientAddr(req, tt.trustProxy)
			if !ok {
				t.Fatal("ClientAddr() found no address")
			}
			if got.String() != tt.want {
				t.Errorf("ClientAddr() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		entries    []string
		remoteAddr string
		wantStatus int
	}{
		{name: "empty filter allows all", remoteAddr: "1.2.3.4:12345", wantStatus: http.StatusOK},
		{name: "allowed", entries: []string{"192.168.0.0/16"}, remoteAddr: "192.168.1.100:12345", wantStatus: http.StatusOK},
		{name: "denied", entries: []string{"192.168.0.0/16"}, remoteAddr: "10.0.0.1:12345", wantStatus: http.StatusForbidden},
		{name: "unparsable", entries: []string{"192.168.0.0/16"}, remoteAddr: "pipe", wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.entries, false, newTestLogger())
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			req := httptest.NewRequest(http.MethodPost, "/webhook/evolution", nil)
			req.RemoteAddr = tt.remoteAddr
			rr := httptest.NewRecorder()
			f.Middleware(handler).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}
