package mqtt

import (
	"net/url"
	"testing"
)

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantTLS bool
		wantErr bool
	}{
		{in: "mqtt://broker:1883", want: "tcp://broker:1883"},
		{in: "mqtts://broker:8883", want: "ssl://broker:8883", wantTLS: true},
		{in: "ws://broker:9001/mqtt", want: "ws://broker:9001/mqtt"},
		{in: "wss://broker/mqtt", want: "wss://broker/mqtt", wantTLS: true},
		{in: "http://broker", wantErr: true},
	}

	for _, tt := range tests {
		u, err := url.Parse(tt.in)
		if err != nil {
			t.Fatalf("url.Parse(%q): %v", tt.in, err)
		}
		got, useTLS, err := brokerURL(u)
		if tt.wantErr {
			if err == nil {
				t.Errorf("brokerURL(%q) error = nil, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("brokerURL(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want || useTLS != tt.wantTLS {
			t.Errorf("brokerURL(%q) = %q, %v; want %q, %v", tt.in, got, useTLS, tt.want, tt.wantTLS)
		}
	}
}
