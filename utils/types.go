package utils

// WebSocket
type WebSocketEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Event types pushed on /ws besides the bluetooth/* ones.
const (
	EventPlaybackStatus = "usb/status"
	EventVolumeChanged  = "volume/changed"
	EventNetworkStatus  = "network_status"
)

type DeviceEventPayload struct {
	Address string                 `json:"address,omitempty"`
	Name    string                 `json:"name,omitempty"`
	Changes map[string]interface{} `json:"changes,omitempty"`
}

type VolumePayload struct {
	Level int `json:"level"`
}

type NetworkStatusPayload struct {
	Status string `json:"status"`
}
