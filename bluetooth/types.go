package bluetooth

import (
	"github.com/godbus/dbus/v5"
)

// AdapterState mirrors the Adapter1 properties the control panel shows.
type AdapterState struct {
	Name         string `json:"name"`
	Address      string `json:"address"`
	Powered      bool   `json:"powered"`
	Discoverable bool   `json:"discoverable"`
	Pairable     bool   `json:"pairable"`
	Discovering  bool   `json:"discovering"`
}

// Device is a BlueZ Device1 object known to the adapter.
type Device struct {
	Path      dbus.ObjectPath `json:"-"`
	Address   string          `json:"address"`
	Name      string          `json:"name"`
	Alias     string          `json:"alias"`
	Paired    bool            `json:"paired"`
	Connected bool            `json:"connected"`
	Trusted   bool            `json:"trusted"`
}

// ManagedObjects is the reply shape of ObjectManager.GetManagedObjects.
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

func adapterFromProps(props map[string]dbus.Variant) AdapterState {
	return AdapterState{
		Name:         stringProp(props, "Name", "Unknown"),
		Address:      stringProp(props, "Address", "Unknown"),
		Powered:      boolProp(props, "Powered"),
		Discoverable: boolProp(props, "Discoverable"),
		Pairable:     boolProp(props, "Pairable"),
		Discovering:  boolProp(props, "Discovering"),
	}
}

func deviceFromProps(path dbus.ObjectPath, props map[string]dbus.Variant) Device {
	address := stringProp(props, "Address", "")
	if address == "" {
		address = macFromPath(path)
	}
	name := stringProp(props, "Name", "")
	alias := stringProp(props, "Alias", "")
	if name == "" {
		name = alias
	}
	if name == "" {
		name = "Unknown"
	}
	return Device{
		Path:      path,
		Address:   address,
		Name:      name,
		Alias:     alias,
		Paired:    boolProp(props, "Paired"),
		Connected: boolProp(props, "Connected"),
		Trusted:   boolProp(props, "Trusted"),
	}
}

func stringProp(props map[string]dbus.Variant, key, fallback string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return fallback
}

func boolProp(props map[string]dbus.Variant, key string) bool {
	if v, ok := props[key]; ok {
		if b, ok := v.Value().(bool); ok {
			return b
		}
	}
	return false
}
