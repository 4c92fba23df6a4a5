package bluetooth

import "strings"

const (
	BLUEZ_BUS_NAME          = "org.bluez"
	BLUEZ_ADAPTER_INTERFACE = "org.bluez.Adapter1"
	BLUEZ_DEVICE_INTERFACE  = "org.bluez.Device1"
	BLUEZ_AGENT_INTERFACE   = "org.bluez.Agent1"
	BLUEZ_AGENT_MANAGER     = "org.bluez.AgentManager1"
	BLUEZ_OBJECT_PATH       = "/org/bluez"

	DBUS_INTERFACE           = "org.freedesktop.DBus"
	DBUS_PROPERTIES          = "org.freedesktop.DBus.Properties"
	DBUS_OBJECT_MANAGER      = "org.freedesktop.DBus.ObjectManager"
	DBUS_PROPERTIES_CHANGED  = DBUS_PROPERTIES + ".PropertiesChanged"
	DBUS_INTERFACES_ADDED    = DBUS_OBJECT_MANAGER + ".InterfacesAdded"
	DBUS_INTERFACES_REMOVED  = DBUS_OBJECT_MANAGER + ".InterfacesRemoved"
	DBUS_NAME_OWNER_CHANGED  = DBUS_INTERFACE + ".NameOwnerChanged"
	DBUS_GET_MANAGED_OBJECTS = DBUS_OBJECT_MANAGER + ".GetManagedObjects"

	// Agent capability advertised to bluetoothd: no display, no keyboard,
	// so every pairing is "just works".
	AGENT_CAPABILITY = "NoInputNoOutput"
)

// BlueZ error names seen in method replies.
const (
	BLUEZ_ERROR_REJECTED       = "org.bluez.Error.Rejected"
	BLUEZ_ERROR_DOES_NOT_EXIST = "org.bluez.Error.DoesNotExist"
	BLUEZ_ERROR_ALREADY_EXISTS = "org.bluez.Error.AlreadyExists"
	BLUEZ_ERROR_NOT_READY      = "org.bluez.Error.NotReady"

	DBUS_ERROR_SERVICE_UNKNOWN = "org.freedesktop.DBus.Error.ServiceUnknown"
	DBUS_ERROR_NO_REPLY        = "org.freedesktop.DBus.Error.NoReply"
	DBUS_ERROR_UNKNOWN_OBJECT  = "org.freedesktop.DBus.Error.UnknownObject"
	DBUS_ERROR_UNKNOWN_METHOD  = "org.freedesktop.DBus.Error.UnknownMethod"
	DBUS_ERROR_DISCONNECTED    = "org.freedesktop.DBus.Error.Disconnected"
)

// Bluetooth Profile UUIDs (standardized 16-bit UUIDs)
const (
	PROFILE_A2DP_SOURCE_UUID = "0000110a-0000-1000-8000-00805f9b34fb" // Audio Source
	PROFILE_A2DP_SINK_UUID   = "0000110b-0000-1000-8000-00805f9b34fb" // Audio Sink
	PROFILE_A2DP_UUID        = "0000110d-0000-1000-8000-00805f9b34fb" // Advanced Audio Distribution Profile
	PROFILE_AVRCP_TG_UUID    = "0000110c-0000-1000-8000-00805f9b34fb" // A/V Remote Control Target
	PROFILE_AVRCP_UUID       = "0000110e-0000-1000-8000-00805f9b34fb" // Audio/Video Remote Control Profile
	PROFILE_AVRCP_CT_UUID    = "0000110f-0000-1000-8000-00805f9b34fb" // A/V Remote Control Controller
	PROFILE_HFP_UUID         = "0000111e-0000-1000-8000-00805f9b34fb" // Hands-Free Profile
	PROFILE_HID_UUID         = "00001124-0000-1000-8000-00805f9b34fb" // Human Interface Device
)

// audioSinkProfiles are the services the agent authorizes. AVRCP rides
// along with A2DP so the phone can drive remote volume and track controls.
var audioSinkProfiles = map[string]bool{
	PROFILE_A2DP_SINK_UUID: true,
	PROFILE_A2DP_UUID:      true,
	PROFILE_AVRCP_TG_UUID:  true,
	PROFILE_AVRCP_UUID:     true,
	PROFILE_AVRCP_CT_UUID:  true,
}

// canonicalUUID expands a 16-bit short UUID ("110b" or "0000110b") to the
// 128-bit Bluetooth base form and lower-cases it.
func canonicalUUID(uuid string) string {
	uuid = strings.ToLower(uuid)
	switch len(uuid) {
	case 4:
		return "0000" + uuid + "-0000-1000-8000-00805f9b34fb"
	case 8:
		return uuid + "-0000-1000-8000-00805f9b34fb"
	}
	return uuid
}
