package domain

import (
	"fmt"
	"strings"
)

const (
	FIRMWARE_LATEST_VERSION_PATH = "/firmware/latest_version"
	FIRMWARE_DOWNLOAD_URL_PATH   = "/firmware/download_url"
	FIRMWARE_DIGEST_PATH         = "/firmware/digest"

	DEFAULT_CONTROLLER_NAME = "Aura Controller"

	// APPLIANCE_TYPE_LIGHT is the only appliance type the companion app knows.
	APPLIANCE_TYPE_LIGHT = "Light"
)

// DeviceTwin is the cloud-side projection of the device published on start.
type DeviceTwin struct {
	Ip         string                   `json:"ip"`
	Online     bool                     `json:"online"`
	Version    string                   `json:"version"`
	Name       string                   `json:"name"`
	Appliances map[string]TwinAppliance `json:"appliances"`
}

type TwinAppliance struct {
	Name  string `json:"name"`
	State string `json:"state"`
	Type  string `json:"type"`
}

func NewDeviceTwin(ip, version, name string, appliances []Appliance) DeviceTwin {
	twin := DeviceTwin{
		Ip:         ip,
		Online:     true,
		Version:    version,
		Name:       name,
		Appliances: make(map[string]TwinAppliance, len(appliances)),
	}
	for _, a := range appliances {
		twin.Appliances[a.Id.String()] = TwinAppliance{
			Name:  a.Name,
			State: StateString(a.State),
			Type:  APPLIANCE_TYPE_LIGHT,
		}
	}
	return twin
}

func DevicePath(deviceId string) string {
	return fmt.Sprintf("devices/%s", deviceId)
}

func CommandPath(deviceId string) string {
	return fmt.Sprintf("devices/%s/command", deviceId)
}

func AppliancesPath(deviceId string) string {
	return fmt.Sprintf("devices/%s/appliances", deviceId)
}

func ApplianceStatePath(deviceId string, id ApplianceId) string {
	return fmt.Sprintf("devices/%s/appliances/%s/state", deviceId, id)
}

func DeviceConfigPath(deviceId string) string {
	return fmt.Sprintf("device_configs/%s", deviceId)
}

// ParseApplianceStatePath extracts the appliance id from a path relative to
// the appliances node. Only "<id>/state" leaves qualify.
func ParseApplianceStatePath(relPath string) (ApplianceId, bool) {
	parts := strings.Split(strings.Trim(relPath, "/"), "/")
	if len(parts) != 2 || parts[1] != "state" {
		return 0, false
	}
	id, err := ParseApplianceId(parts[0])
	if err != nil {
		return 0, false
	}
	return id, true
}
