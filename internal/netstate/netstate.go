// Package netstate classifies the active network connection so bulk
// transfers can be limited to unmetered links.
package netstate

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/csams/podcast-offline/internal/logging"
)

// Type is the kind of the active network connection.
type Type int

const (
	Unknown Type = iota
	WiFi
	Ethernet
	Cellular
)

func (t Type) String() string {
	switch t {
	case WiFi:
		return "wifi"
	case Ethernet:
		return "ethernet"
	case Cellular:
		return "cellular"
	default:
		return "unknown"
	}
}

// Checker decides whether bulk transfers may run on the current network.
type Checker struct {
	procRoot string
	sysRoot  string
	wifiOnly bool
	logger   *log.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithRoots points the checker at alternative /proc and /sys trees.
func WithRoots(procRoot, sysRoot string) Option {
	return func(c *Checker) {
		c.procRoot = procRoot
		c.sysRoot = sysRoot
	}
}

// NewChecker creates a checker. With wifiOnly set, bulk transfers are
// refused on cellular connections.
func NewChecker(wifiOnly bool, logger *log.Logger, opts ...Option) *Checker {
	c := &Checker{
		procRoot: "/proc",
		sysRoot:  "/sys",
		wifiOnly: wifiOnly,
		logger:   logging.OrDiscard(logger).WithPrefix("netstate"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BulkTransferAllowed reports whether large downloads may start now. An
// undetermined network type is treated as allowed.
func (c *Checker) BulkTransferAllowed(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if !c.wifiOnly {
		return true
	}
	t := c.Current()
	switch t {
	case WiFi, Ethernet, Unknown:
		return true
	default:
		c.logger.Info("bulk transfer deferred", "network", t)
		return false
	}
}

// Current classifies the interface carrying the default route.
func (c *Checker) Current() Type {
	if runtime.GOOS != "linux" && c.procRoot == "/proc" {
		return Unknown
	}
	iface := c.defaultInterface()
	if iface == "" {
		return Unknown
	}
	return c.classify(iface)
}

// defaultInterface returns the interface of the default route from the
// kernel routing table, or "" when there is none.
func (c *Checker) defaultInterface() string {
	f, err := os.Open(filepath.Join(c.procRoot, "net", "route"))
	if err != nil {
		c.logger.Debug("routing table unavailable", "err", err)
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Scan() // header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		// Iface Destination Gateway Flags ...
		if len(fields) < 2 {
			continue
		}
		if fields[1] == "00000000" {
			return fields[0]
		}
	}
	return ""
}

func (c *Checker) classify(iface string) Type {
	dir := filepath.Join(c.sysRoot, "class", "net", iface)
	if _, err := os.Stat(dir); err != nil {
		return Unknown
	}
	if _, err := os.Stat(filepath.Join(dir, "wireless")); err == nil {
		return WiFi
	}
	for _, prefix := range []string{"wwan", "rmnet", "ccmni"} {
		if strings.HasPrefix(iface, prefix) {
			return Cellular
		}
	}
	if data, err := os.ReadFile(filepath.Join(dir, "uevent")); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			switch strings.TrimSpace(line) {
			case "DEVTYPE=wwan":
				return Cellular
			case "DEVTYPE=wlan":
				return WiFi
			}
		}
	}
	return Ethernet
}
