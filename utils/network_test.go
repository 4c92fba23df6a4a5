package utils

import (
	"net"
	"testing"

	"github.com/vishvananda/netlink"
)

func addr(cidr string) netlink.Addr {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	ipnet.IP = ip
	return netlink.Addr{IPNet: ipnet}
}

func TestFirstIPv4(t *testing.T) {
	tests := []struct {
		name  string
		addrs []netlink.Addr
		want  string
	}{
		{name: "single", addrs: []netlink.Addr{addr("192.168.4.1/24")}, want: "192.168.4.1"},
		{name: "skips link local", addrs: []netlink.Addr{addr("169.254.10.2/16"), addr("10.0.0.7/8")}, want: "10.0.0.7"},
		{name: "skips loopback", addrs: []netlink.Addr{addr("127.0.0.1/8")}, want: ""},
		{name: "empty", addrs: nil, want: ""},
		{name: "nil ipnet", addrs: []netlink.Addr{{}}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := firstIPv4(tt.addrs); got != tt.want {
				t.Errorf("firstIPv4 = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNetworkCheckerThreshold(t *testing.T) {
	var changes []bool
	c := NewNetworkChecker("1.1.1.1", func(online bool) { changes = append(changes, online) })
	failCount := 0

	c.update(true, &failCount)
	if !c.Online() {
		t.Fatal("Expected online after a successful probe")
	}
	c.update(false, &failCount)
	c.update(false, &failCount)
	if !c.Online() {
		t.Error("Expected to stay online below the failure threshold")
	}
	c.update(false, &failCount)
	if c.Online() {
		t.Error("Expected offline after three failures")
	}
	c.update(true, &failCount)

	want := []bool{true, false, true}
	if len(changes) != len(want) {
		t.Fatalf("Expected %d changes, got %v", len(want), changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("Change %d: expected %v, got %v", i, want[i], changes[i])
		}
	}
}
