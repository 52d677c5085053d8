package mqtt

import "github.com/nugget/signal-relay/internal/buildinfo"

// DeviceInfo is the Home Assistant device registry block shared by
// every entity this instance publishes, so HA groups them on one
// device page.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// EntityConfig is the discovery payload for one HA entity. Sensors
// leave CommandTopic empty; the model text entity sets it.
type EntityConfig struct {
	Name              string     `json:"name"`
	HasEntityName     bool       `json:"has_entity_name,omitempty"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	CommandTopic      string     `json:"command_topic,omitempty"`
	AvailabilityTopic string     `json:"availability_topic"`
	Device            DeviceInfo `json:"device"`
	Icon              string     `json:"icon,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
	DeviceClass       string     `json:"device_class,omitempty"`
	EntityCategory    string     `json:"entity_category,omitempty"`
	PayloadOn         string     `json:"payload_on,omitempty"`
	PayloadOff        string     `json:"payload_off,omitempty"`
}

// NewDeviceInfo builds the device block. The instance ID is the stable
// identifier; the device name is what HA shows.
func NewDeviceInfo(instanceID, deviceName string) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{instanceID},
		Name:         deviceName,
		Manufacturer: "signal-relay",
		Model:        "Signal ⇄ Ollama relay",
		SWVersion:    buildinfo.Version,
	}
}
