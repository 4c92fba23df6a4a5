package bluetooth

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/godbus/dbus/v5"
)

// EventType names a device or adapter change decoded from BlueZ signals.
// The values double as WebSocket event types.
type EventType string

const (
	EventDeviceAdded        EventType = "bluetooth/device_added"
	EventDeviceRemoved      EventType = "bluetooth/device_removed"
	EventDeviceConnected    EventType = "bluetooth/device_connected"
	EventDeviceDisconnected EventType = "bluetooth/device_disconnected"
	EventDevicePaired       EventType = "bluetooth/device_paired"
	EventAdapterChanged     EventType = "bluetooth/adapter_changed"
)

// Event is a typed BlueZ change notification.
type Event struct {
	Type    EventType              `json:"type"`
	Address string                 `json:"address,omitempty"`
	Name    string                 `json:"name,omitempty"`
	Changes map[string]interface{} `json:"changes,omitempty"`
}

// adapterWatchedProps are the Adapter1 properties worth an event.
var adapterWatchedProps = []string{"Powered", "Discoverable", "Pairable", "Discovering"}

// EventWatcher turns the asynchronous BlueZ signal stream into a single
// channel of Events. One goroutine decodes; one consumer reads.
type EventWatcher struct {
	conn        *dbus.Conn
	adapterPath dbus.ObjectPath
}

func NewEventWatcher(conn *dbus.Conn, adapter string) *EventWatcher {
	return &EventWatcher{conn: conn, adapterPath: adapterObjectPath(adapter)}
}

// Watch subscribes to PropertiesChanged, InterfacesAdded and
// InterfacesRemoved under /org/bluez. The returned channel is closed when
// ctx is done or the bus connection goes away.
func (w *EventWatcher) Watch(ctx context.Context) (<-chan Event, error) {
	matches := [][]dbus.MatchOption{
		{
			dbus.WithMatchInterface(DBUS_PROPERTIES),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchPathNamespace(BLUEZ_OBJECT_PATH),
		},
		{
			dbus.WithMatchInterface(DBUS_OBJECT_MANAGER),
			dbus.WithMatchMember("InterfacesAdded"),
			dbus.WithMatchSender(BLUEZ_BUS_NAME),
		},
		{
			dbus.WithMatchInterface(DBUS_OBJECT_MANAGER),
			dbus.WithMatchMember("InterfacesRemoved"),
			dbus.WithMatchSender(BLUEZ_BUS_NAME),
		},
	}
	for _, m := range matches {
		if err := w.conn.AddMatchSignal(m...); err != nil {
			return nil, fmt.Errorf("add match rule: %w", err)
		}
	}

	signals := make(chan *dbus.Signal, 64)
	w.conn.Signal(signals)

	events := make(chan Event, 32)
	go func() {
		defer close(events)
		defer w.conn.RemoveSignal(signals)
		defer func() {
			for _, m := range matches {
				_ = w.conn.RemoveMatchSignal(m...)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.conn.Context().Done():
				log.Println("BT_EVT: System bus closed, stopping event watcher")
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				event, ok := decodeSignal(sig, w.adapterPath)
				if !ok {
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	log.Printf("BT_EVT: Watching BlueZ signals under %s", w.adapterPath)
	return events, nil
}

// decodeSignal maps one raw signal to an Event. Signals that concern other
// adapters, other interfaces or unwatched properties are dropped.
func decodeSignal(sig *dbus.Signal, adapterPath dbus.ObjectPath) (Event, bool) {
	if sig == nil {
		return Event{}, false
	}
	devicePrefix := string(adapterPath) + "/dev_"

	switch sig.Name {
	case DBUS_PROPERTIES_CHANGED:
		if len(sig.Body) < 2 {
			return Event{}, false
		}
		iface, _ := sig.Body[0].(string)
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return Event{}, false
		}

		switch {
		case iface == BLUEZ_DEVICE_INTERFACE && strings.HasPrefix(string(sig.Path), devicePrefix):
			address := macFromPath(sig.Path)
			if v, ok := changed["Connected"]; ok {
				if connected, ok := v.Value().(bool); ok {
					if connected {
						return Event{Type: EventDeviceConnected, Address: address}, true
					}
					return Event{Type: EventDeviceDisconnected, Address: address}, true
				}
			}
			if v, ok := changed["Paired"]; ok {
				if paired, ok := v.Value().(bool); ok && paired {
					return Event{Type: EventDevicePaired, Address: address, Name: stringProp(changed, "Name", "")}, true
				}
			}
		case iface == BLUEZ_ADAPTER_INTERFACE && sig.Path == adapterPath:
			changes := make(map[string]interface{})
			for _, name := range adapterWatchedProps {
				if v, ok := changed[name]; ok {
					changes[strings.ToLower(name)] = v.Value()
				}
			}
			if len(changes) > 0 {
				return Event{Type: EventAdapterChanged, Changes: changes}, true
			}
		}

	case DBUS_INTERFACES_ADDED:
		if len(sig.Body) < 2 {
			return Event{}, false
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
		props, ok := ifaces[BLUEZ_DEVICE_INTERFACE]
		if !ok || !strings.HasPrefix(string(path), devicePrefix) {
			return Event{}, false
		}
		device := deviceFromProps(path, props)
		return Event{Type: EventDeviceAdded, Address: device.Address, Name: device.Name}, true

	case DBUS_INTERFACES_REMOVED:
		if len(sig.Body) < 2 {
			return Event{}, false
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].([]string)
		if !strings.HasPrefix(string(path), devicePrefix) {
			return Event{}, false
		}
		for _, iface := range ifaces {
			if iface == BLUEZ_DEVICE_INTERFACE {
				return Event{Type: EventDeviceRemoved, Address: macFromPath(path)}, true
			}
		}
	}
	return Event{}, false
}
