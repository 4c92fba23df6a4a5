package bluetooth

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/godbus/dbus/v5"
)

// Bus is the subset of the org.bluez object tree the registry and agent
// use. systemBus implements it on a real D-Bus connection.
type Bus interface {
	ManagedObjects(ctx context.Context) (ManagedObjects, error)
	Properties(ctx context.Context, path dbus.ObjectPath, iface string) (map[string]dbus.Variant, error)
	SetProperty(ctx context.Context, path dbus.ObjectPath, iface, name string, value interface{}) error
	Call(ctx context.Context, path dbus.ObjectPath, method string, args ...interface{}) error
}

type systemBus struct {
	conn *dbus.Conn
}

// NewBus wraps conn for calls addressed to org.bluez.
func NewBus(conn *dbus.Conn) Bus {
	return &systemBus{conn: conn}
}

func (b *systemBus) ManagedObjects(ctx context.Context) (ManagedObjects, error) {
	var objects ManagedObjects
	obj := b.conn.Object(BLUEZ_BUS_NAME, "/")
	err := obj.CallWithContext(ctx, DBUS_GET_MANAGED_OBJECTS, 0).Store(&objects)
	return objects, err
}

func (b *systemBus) Properties(ctx context.Context, path dbus.ObjectPath, iface string) (map[string]dbus.Variant, error) {
	var props map[string]dbus.Variant
	obj := b.conn.Object(BLUEZ_BUS_NAME, path)
	err := obj.CallWithContext(ctx, DBUS_PROPERTIES+".GetAll", 0, iface).Store(&props)
	return props, err
}

func (b *systemBus) SetProperty(ctx context.Context, path dbus.ObjectPath, iface, name string, value interface{}) error {
	obj := b.conn.Object(BLUEZ_BUS_NAME, path)
	return obj.CallWithContext(ctx, DBUS_PROPERTIES+".Set", 0, iface, name, dbus.MakeVariant(value)).Err
}

func (b *systemBus) Call(ctx context.Context, path dbus.ObjectPath, method string, args ...interface{}) error {
	obj := b.conn.Object(BLUEZ_BUS_NAME, path)
	return obj.CallWithContext(ctx, method, 0, args...).Err
}

// adapterObjectPath returns "/org/bluez/hci0" for adapter "hci0".
func adapterObjectPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath(BLUEZ_OBJECT_PATH + "/" + adapter)
}

// deviceObjectPath converts a MAC address like "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func deviceObjectPath(adapter, addr string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(strings.ToUpper(addr), ":", "_")
	return dbus.ObjectPath(string(adapterObjectPath(adapter)) + "/dev_" + escaped)
}

// macFromPath extracts a MAC address from a BlueZ device object path.
func macFromPath(path dbus.ObjectPath) string {
	s := string(path)
	i := strings.LastIndex(s, "/dev_")
	if i < 0 {
		return ""
	}
	return strings.ReplaceAll(s[i+len("/dev_"):], "_", ":")
}

// normalizeAddress validates a Bluetooth MAC and returns it upper-cased.
func normalizeAddress(addr string) (string, error) {
	hw, err := net.ParseMAC(addr)
	if err != nil || len(hw) != 6 {
		return "", fmt.Errorf("invalid bluetooth address %q", addr)
	}
	return strings.ToUpper(hw.String()), nil
}
