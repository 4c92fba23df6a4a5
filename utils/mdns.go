package utils

import (
	"fmt"
	"log"

	"github.com/grandcat/zeroconf"
)

// Advertisement is a registered mDNS service.
type Advertisement struct {
	server *zeroconf.Server
}

// AdvertiseHTTP announces the control panel as _http._tcp on the local
// link so phones can find it without knowing the IP.
func AdvertiseHTTP(instance string, port int, txt []string) (*Advertisement, error) {
	if instance == "" {
		return nil, fmt.Errorf("mdns: empty instance name")
	}
	server, err := zeroconf.Register(instance, "_http._tcp", "local.", port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns: register %q: %w", instance, err)
	}
	log.Printf("MDNS: Advertising %q on port %d", instance, port)
	return &Advertisement{server: server}, nil
}

func (a *Advertisement) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	log.Println("MDNS: Advertisement withdrawn")
}
