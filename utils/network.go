package utils

import (
	"context"
	"log"
	"net"
	"os"
	"sync"
	"time"

	ping "github.com/prometheus-community/pro-bing"
	"github.com/vishvananda/netlink"
)

// Hostname returns the system hostname or "unknown".
func Hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}

// IPAddress returns the first IPv4 address of iface, or of any up,
// non-loopback interface when iface has none. fallback is returned when
// nothing is configured (the access-point address on a fresh install).
func IPAddress(iface, fallback string) string {
	if iface != "" {
		if link, err := netlink.LinkByName(iface); err == nil {
			if ip := linkIPv4(link); ip != "" {
				return ip
			}
		}
	}

	links, err := netlink.LinkList()
	if err != nil {
		log.Printf("NET: Failed to list links: %v", err)
		return fallback
	}
	for _, link := range links {
		attrs := link.Attrs()
		if attrs.Flags&net.FlagLoopback != 0 || attrs.Flags&net.FlagUp == 0 {
			continue
		}
		if ip := linkIPv4(link); ip != "" {
			return ip
		}
	}
	return fallback
}

func linkIPv4(link netlink.Link) string {
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return ""
	}
	return firstIPv4(addrs)
}

func firstIPv4(addrs []netlink.Addr) string {
	for _, addr := range addrs {
		if addr.IPNet == nil {
			continue
		}
		ip := addr.IPNet.IP.To4()
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		return ip.String()
	}
	return ""
}

// NetworkChecker pings an uplink host to tell whether the receiver has
// internet access, or is only serving its own access point.
type NetworkChecker struct {
	host          string
	interval      time.Duration
	failThreshold int
	probe         func(host string) bool
	onChange      func(online bool)

	mu     sync.RWMutex
	online bool
}

// NewNetworkChecker creates a checker; onChange may be nil.
func NewNetworkChecker(host string, onChange func(online bool)) *NetworkChecker {
	return &NetworkChecker{
		host:          host,
		interval:      10 * time.Second,
		failThreshold: 3,
		probe:         pingOnce,
		onChange:      onChange,
	}
}

func (c *NetworkChecker) Online() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// Run probes until ctx is done. One success marks the uplink online;
// failThreshold consecutive failures mark it offline.
func (c *NetworkChecker) Run(ctx context.Context) {
	failCount := 0
	c.update(c.probe(c.host), &failCount)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.update(c.probe(c.host), &failCount)
		}
	}
}

func (c *NetworkChecker) update(ok bool, failCount *int) {
	c.mu.Lock()
	changed := false
	if ok {
		*failCount = 0
		if !c.online {
			c.online = true
			changed = true
		}
	} else {
		*failCount++
		if *failCount >= c.failThreshold && c.online {
			c.online = false
			changed = true
		}
	}
	online := c.online
	c.mu.Unlock()

	if changed {
		log.Printf("NET: Uplink %s", statusString(online))
		if c.onChange != nil {
			c.onChange(online)
		}
	}
}

func statusString(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

func pingOnce(host string) bool {
	pinger, err := ping.NewPinger(host)
	if err != nil {
		log.Printf("NET: Failed to create pinger: %v", err)
		return false
	}
	pinger.Count = 1
	pinger.Timeout = time.Second
	pinger.Interval = time.Second
	pinger.SetPrivileged(true)
	if err := pinger.Run(); err != nil {
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}

// SystemInfo reports what the status page shows about the host.
type SystemInfo struct {
	Interface  string
	FallbackIP string
	Checker    *NetworkChecker
}

func (s *SystemInfo) Hostname() string {
	return Hostname()
}

func (s *SystemInfo) IPAddress() string {
	return IPAddress(s.Interface, s.FallbackIP)
}

func (s *SystemInfo) Online() bool {
	if s.Checker == nil {
		return false
	}
	return s.Checker.Online()
}
