package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DeviceIdentity is the stable id of this installation, sent with every
// remote call so the server can attribute mutations to a device.
type DeviceIdentity struct {
	InstanceID string `json:"instance_id"`
}

var currentIdentity *DeviceIdentity

// GetDeviceIdentity returns the loaded identity, loading it on first use.
func GetDeviceIdentity() *DeviceIdentity {
	if currentIdentity == nil {
		_ = LoadOrGenerateDeviceIdentity()
	}
	return currentIdentity
}

// LoadOrGenerateDeviceIdentity ensures the device has a stable identity
// across restarts. It checks the environment first, then a local file, and
// generates a new id if neither exists.
func LoadOrGenerateDeviceIdentity() error {
	if envID := os.Getenv("INSTANCE_ID"); envID != "" {
		currentIdentity = &DeviceIdentity{InstanceID: envID}
		return nil
	}

	configDir := ".millsync"
	identityFile := filepath.Join(configDir, "device_identity.json")

	if _, err := os.Stat(identityFile); err == nil {
		data, err := os.ReadFile(identityFile)
		if err == nil {
			var identity DeviceIdentity
			if err := json.Unmarshal(data, &identity); err == nil && identity.InstanceID != "" {
				currentIdentity = &identity
				return nil
			}
		}
	}

	currentIdentity = &DeviceIdentity{InstanceID: uuid.New().String()}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, _ := json.MarshalIndent(currentIdentity, "", "  ")
	return os.WriteFile(identityFile, data, 0600)
}
