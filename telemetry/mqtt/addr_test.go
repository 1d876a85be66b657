package mqtt

import "testing"

func TestSplitHostPort(t *testing.T) {
	tests := []struct {
		addr, host, port string
		wantErr          bool
	}{
		{addr: "10.0.0.9:1883", host: "10.0.0.9", port: "1883"},
		{addr: "broker.local:8883", host: "broker.local", port: "8883"},
		{addr: "::1:1883", host: "::1", port: "1883"},
		{addr: "broker", wantErr: true},
		{addr: ":1883", wantErr: true},
		{addr: "broker:", wantErr: true},
	}
	for _, tt := range tests {
		host, port, err := splitHostPort(tt.addr)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: err = %v", tt.addr, err)
			continue
		}
		if host != tt.host || port != tt.port {
			t.Errorf("%q = %q %q", tt.addr, host, port)
		}
	}
}

func TestParsePort(t *testing.T) {
	tests := map[string]uint16{"1883": 1883, "65535": 65535, "65536": 0, "18a3": 0, "": 0}
	for in, want := range tests {
		if got := parsePort(in); got != want {
			t.Errorf("parsePort(%q) = %d, want %d", in, got, want)
		}
	}
}
