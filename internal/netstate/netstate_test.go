package netstate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const routeHeader = "Iface\tDestination\tGateway \tFlags\tRefCnt\tUse\tMetric\tMask\t\tMTU\tWindow\tIRTT\n"

// fakeHost builds /proc and /sys trees with a default route over iface.
func fakeHost(t *testing.T, iface string, files map[string]string) (string, string) {
	t.Helper()
	root := t.TempDir()
	proc := filepath.Join(root, "proc")
	sys := filepath.Join(root, "sys")

	if err := os.MkdirAll(filepath.Join(proc, "net"), 0755); err != nil {
		t.Fatal(err)
	}
	route := routeHeader
	if iface != "" {
		route += iface + "\t0010A8C0\t00000000\t0001\t0\t0\t0\t00FFFFFF\t0\t0\t0\n"
		route += iface + "\t00000000\t0100A8C0\t0003\t0\t0\t600\t00000000\t0\t0\t0\n"
	}
	if err := os.WriteFile(filepath.Join(proc, "net", "route"), []byte(route), 0644); err != nil {
		t.Fatal(err)
	}

	if iface != "" {
		if err := os.MkdirAll(filepath.Join(sys, "class", "net", iface), 0755); err != nil {
			t.Fatal(err)
		}
	}
	for name, content := range files {
		path := filepath.Join(sys, "class", "net", iface, name)
		if content == "" {
			if err := os.MkdirAll(path, 0755); err != nil {
				t.Fatal(err)
			}
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return proc, sys
}

func TestChecker_Current(t *testing.T) {
	tests := []struct {
		name  string
		iface string
		files map[string]string
		want  Type
	}{
		{"wireless dir", "wlp2s0", map[string]string{"wireless": ""}, WiFi},
		{"wlan uevent", "wlan0", map[string]string{"uevent": "DEVTYPE=wlan\nINTERFACE=wlan0\n"}, WiFi},
		{"wwan prefix", "wwan0", nil, Cellular},
		{"rmnet prefix", "rmnet_data0", nil, Cellular},
		{"wwan uevent", "usb0", map[string]string{"uevent": "DEVTYPE=wwan\n"}, Cellular},
		{"wired", "enp3s0", map[string]string{"uevent": "INTERFACE=enp3s0\n"}, Ethernet},
		{"no default route", "", nil, Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc, sys := fakeHost(t, tt.iface, tt.files)
			c := NewChecker(true, nil, WithRoots(proc, sys))
			if got := c.Current(); got != tt.want {
				t.Errorf("Current() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChecker_MissingRoutingTable(t *testing.T) {
	root := t.TempDir()
	c := NewChecker(true, nil, WithRoots(filepath.Join(root, "proc"), filepath.Join(root, "sys")))
	if got := c.Current(); got != Unknown {
		t.Errorf("expected unknown, got %v", got)
	}
	if !c.BulkTransferAllowed(context.Background()) {
		t.Error("unknown networks must allow transfers")
	}
}

func TestChecker_BulkTransferAllowed(t *testing.T) {
	ctx := context.Background()

	proc, sys := fakeHost(t, "wwan0", nil)
	if NewChecker(true, nil, WithRoots(proc, sys)).BulkTransferAllowed(ctx) {
		t.Error("expected cellular to be refused with wifi_only")
	}
	if !NewChecker(false, nil, WithRoots(proc, sys)).BulkTransferAllowed(ctx) {
		t.Error("expected cellular to be allowed without wifi_only")
	}

	proc, sys = fakeHost(t, "wlan0", map[string]string{"wireless": ""})
	if !NewChecker(true, nil, WithRoots(proc, sys)).BulkTransferAllowed(ctx) {
		t.Error("expected wifi to be allowed")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if NewChecker(false, nil, WithRoots(proc, sys)).BulkTransferAllowed(cancelled) {
		t.Error("expected cancelled context to refuse")
	}
}
