package update

import (
	"fmt"

	version "github.com/hashicorp/go-version"
)

// Permission is one capability an application requests from the unit
type Permission uint32

const (
	PermissionNone                   Permission = 0
	PermissionPositioning            Permission = 0x1
	PermissionSteps                  Permission = 0x2
	PermissionSensor                 Permission = 0x4
	PermissionFit                    Permission = 0x8
	PermissionCommunications         Permission = 0x10
	PermissionUserProfile            Permission = 0x20
	PermissionPersistedLocations     Permission = 0x40
	PermissionSensorHistory          Permission = 0x80
	PermissionFitContributor         Permission = 0x100
	PermissionPersistedContent       Permission = 0x200
	PermissionBackground             Permission = 0x400
	PermissionAnt                    Permission = 0x800
	PermissionPushNotification       Permission = 0x1000
	PermissionSensorLogging          Permission = 0x2000
	PermissionBluetoothLowEnergy     Permission = 0x4000
	PermissionDataFieldAlert         Permission = 0x8000
	PermissionComplicationPublisher  Permission = 0x10000
	PermissionComplicationSubscriber Permission = 0x20000
)

var permissionNames = map[string]Permission{
	"None":                   PermissionNone,
	"Positioning":            PermissionPositioning,
	"Steps":                  PermissionSteps,
	"Sensor":                 PermissionSensor,
	"Fit":                    PermissionFit,
	"Communications":         PermissionCommunications,
	"UserProfile":            PermissionUserProfile,
	"PersistedLocations":     PermissionPersistedLocations,
	"SensorHistory":          PermissionSensorHistory,
	"FitContributor":         PermissionFitContributor,
	"PersistedContent":       PermissionPersistedContent,
	"Background":             PermissionBackground,
	"Ant":                    PermissionAnt,
	"PushNotification":       PermissionPushNotification,
	"SensorLogging":          PermissionSensorLogging,
	"BluetoothLowEnergy":     PermissionBluetoothLowEnergy,
	"DataFieldAlert":         PermissionDataFieldAlert,
	"ComplicationPublisher":  PermissionComplicationPublisher,
	"ComplicationSubscriber": PermissionComplicationSubscriber,
}

// ParsePermission maps a catalog permission string to a Permission,
// failing on anything outside the closed set
func ParsePermission(s string) (Permission, error) {
	p, ok := permissionNames[s]
	if !ok {
		return PermissionNone, fmt.Errorf("invalid permission: %q", s)
	}
	return p, nil
}

// FirmwareCompatible reports whether the installed firmware version falls
// inside the update's declared [min, max] range. Empty bounds are open.
func (u *AppUpdate) FirmwareCompatible(installed string) (bool, error) {
	fw, err := version.NewVersion(installed)
	if err != nil {
		return false, err
	}
	if u.MinFirmwareVersion != "" {
		min, err := version.NewVersion(u.MinFirmwareVersion)
		if err != nil {
			return false, err
		}
		if fw.LessThan(min) {
			return false, nil
		}
	}
	if u.MaxFirmwareVersion != "" {
		max, err := version.NewVersion(u.MaxFirmwareVersion)
		if err != nil {
			return false, err
		}
		if fw.GreaterThan(max) {
			return false, nil
		}
	}
	return true, nil
}
