// Package app models a Connect IQ application, installed or about to be.
package app

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/abadiet/GarminServerLess/internal/utils"
	"github.com/abadiet/GarminServerLess/pkg/ciq"
	"github.com/apex/log"
	"github.com/pkg/errors"
)

// SettingsDatatypeKey is the manifest datatype holding app settings files
const SettingsDatatypeKey = "IQAppsSettingsFile"

// Type is the declared category of an application
type Type int

const (
	Unknown Type = iota
	WatchFace
	WatchApp
	Widget
	DataField
	MusicApp
	Activity
)

// ParseType maps a manifest/store category string to a Type. Unrecognized
// strings are an error, except the literal "unknown" which the vendor uses
// as a real category. Both the compact and the hyphenated spellings are
// accepted; manifests in the wild carry watch-app and data-field.
func ParseType(s string) (Type, error) {
	switch s {
	case "unknown":
		return Unknown, nil
	case "watchface", "watch-face":
		return WatchFace, nil
	case "watchapp", "watch-app":
		return WatchApp, nil
	case "widget":
		return Widget, nil
	case "datafield", "data-field":
		return DataField, nil
	case "musicapp", "audio-content-provider-app":
		return MusicApp, nil
	case "activity":
		return Activity, nil
	default:
		return Unknown, fmt.Errorf("invalid app type: %q", s)
	}
}

// TypeFromID maps a store typeId to a Type
func TypeFromID(id int) (Type, error) {
	if id < int(Unknown) || id > int(Activity) {
		return Unknown, fmt.Errorf("invalid app type id: %d", id)
	}
	return Type(id), nil
}

// String returns the manifest spelling of the type
func (t Type) String() string {
	switch t {
	case WatchFace:
		return "watchface"
	case WatchApp:
		return "watchapp"
	case Widget:
		return "widget"
	case DataField:
		return "datafield"
	case MusicApp:
		return "audio-content-provider-app"
	case Activity:
		return "activity"
	default:
		return "unknown"
	}
}

// DatatypeKey returns the manifest datatype that stores binaries of this
// app category
func (t Type) DatatypeKey() (string, error) {
	switch t {
	case WatchFace:
		return "IQWatchFaces", nil
	case WatchApp:
		return "IQWatchApps", nil
	case Widget:
		return "IQWidgets", nil
	case DataField:
		return "IQDataFields", nil
	default:
		return "", fmt.Errorf("no datatype for app type %s", t)
	}
}

// App is a Connect IQ application
type App struct {
	GUID        string
	Name        string
	Version     int // internal version number
	VersionGUID string
	Filename    string
	Type        Type

	CompatibleDeviceTypeIDs []int
	// settings editor availability keyed by device type id
	HasSettings map[string]bool

	loaded bool
}

// FromStoreURL builds an App from its store page URL and loads its
// metadata from the store
func FromStoreURL(client *ciq.Client, storeURL string) (*App, error) {
	guid, err := ciq.AppGUIDFromURL(storeURL)
	if err != nil {
		return nil, err
	}
	return FromGUID(client, guid)
}

// FromGUID builds an App from its store GUID and loads its metadata from
// the store
func FromGUID(client *ciq.Client, guid string) (*App, error) {
	a := &App{GUID: guid}
	if err := a.LoadInfo(client); err != nil {
		return nil, err
	}
	return a, nil
}

// LoadInfo fills the app from its store metadata. Values already present
// that disagree with the store are overridden with a warning.
func (a *App) LoadInfo(client *ciq.Client) error {
	info, err := client.AppInfo(a.GUID)
	if err != nil {
		return err
	}

	typ, err := TypeFromID(info.TypeID)
	if err != nil {
		return err
	}

	if a.Version != 0 && a.Version != info.LatestInternalVersion {
		log.Warnf("version mismatch for app %s: expected %d, got %d: overriding", a.GUID, a.Version, info.LatestInternalVersion)
	}
	a.Version = info.LatestInternalVersion
	if a.Type != Unknown && a.Type != typ {
		log.Warnf("type mismatch for app %s: expected %s, got %s: overriding", a.GUID, a.Type, typ)
	}
	a.Type = typ
	if name := info.Name(); name != "" {
		if a.Name != "" && a.Name != name {
			log.Warnf("name mismatch for app %s: expected %q, got %q: overriding", a.GUID, a.Name, name)
		}
		a.Name = name
	}
	a.CompatibleDeviceTypeIDs = info.CompatibleDeviceTypeIDs
	a.HasSettings = info.SettingsAvailabilityInfo.AvailabilityByDeviceTypeID
	a.loaded = true

	return nil
}

// Loaded reports whether the store metadata has been fetched
func (a *App) Loaded() bool {
	return a.loaded
}

// CompatibleWith reports whether the store lists the device type among the
// app's compatible devices
func (a *App) CompatibleWith(deviceTypeID int) bool {
	return utils.IntSliceHas(a.CompatibleDeviceTypeIDs, deviceTypeID)
}

// SettingsAvailableFor reports whether the app exposes a settings editor
// for the device type
func (a *App) SettingsAvailableFor(deviceTypeID int) bool {
	return a.HasSettings[strconv.Itoa(deviceTypeID)]
}

// Download fetches the app binary for a device and writes it to
// outputPath. When the version GUID is unknown it is resolved first, which
// requires the client session cookie.
func (a *App) Download(client *ciq.Client, deviceURLName, outputPath string) error {
	if a.VersionGUID == "" {
		if client.Session == "" {
			return errors.New("session cookie is required to resolve the app version")
		}
		guid, err := client.LatestAppVersionGUID(a.GUID)
		if err != nil {
			return err
		}
		a.VersionGUID = guid
	}

	data, err := client.DownloadApp(a.GUID, a.VersionGUID, deviceURLName)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write the app binary to %s", outputPath)
	}

	return nil
}

// DownloadSettings runs the interactive settings capture for a device and
// writes the binary settings payload to outputPath
func (a *App) DownloadSettings(client *ciq.Client, devicePartNumber, locale, outputPath string) error {
	return client.DownloadAppSettings(a.GUID, a.Version, devicePartNumber, locale, outputPath)
}

// ManifestFragment renders the <App> fragment spliced into the device
// manifest's app list
func (a *App) ManifestFragment() string {
	var name strings.Builder
	xml.EscapeText(&name, []byte(a.Name))
	return fmt.Sprintf("<App><AppName>%s</AppName><StoreId>%s</StoreId><AppId></AppId><AppType>%s</AppType><Version>%d</Version><FileName>%s</FileName></App>",
		name.String(), a.GUID, a.Type, a.Version, a.Filename)
}
