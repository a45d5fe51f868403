// Package device models a unit's on-disk descriptor (GarminDevice.xml) and
// drives update reconciliation and app installs against it. The in-memory
// model is re-read from disk after every committed mutation so the two
// views never diverge for more than one operation.
package device

import (
	"os"
	"path"
	"path/filepath"

	"github.com/abadiet/GarminServerLess/pkg/app"
	"github.com/abadiet/GarminServerLess/pkg/ciq"
	"github.com/abadiet/GarminServerLess/pkg/update"
	"github.com/apex/log"
	"github.com/pkg/errors"
)

// ManifestRelPath is where the descriptor lives under the device root
const ManifestRelPath = "GARMIN/GarminDevice.xml"

// Extension defaults used when a datatype's manifest entry declares none
const (
	defaultBinaryExtension   = "PRG"
	defaultSettingsExtension = "SET"
)

var (
	// ErrAlreadyInstalled is returned when installing an app whose GUID
	// is already present on the unit
	ErrAlreadyInstalled = errors.New("the app is already installed")
	// ErrCapacityExceeded is returned when the unit's app list is full
	ErrCapacityExceeded = errors.New("the maximum number of apps is already installed")
	// ErrAmbiguousDatatype is returned when a datatype key resolves to
	// zero or more than one file location
	ErrAmbiguousDatatype = errors.New("ambiguous datatype")
	// ErrNotCompatible is returned when the store does not list the unit
	// among an app's compatible devices
	ErrNotCompatible = errors.New("the app is not compatible with this device")
	// ErrManifestParse is returned for a malformed descriptor
	ErrManifestParse = errors.New("failed to parse the device manifest")
	// ErrUnsupportedSchema is returned when the descriptor parses but is
	// missing required sections
	ErrUnsupportedSchema = errors.New("unsupported device manifest schema")
)

// FirmwareVersion is an installed (major, minor) firmware version pair
type FirmwareVersion struct {
	Major int
	Minor int
}

// Less orders version pairs lexicographically
func (v FirmwareVersion) Less(o FirmwareVersion) bool {
	return v.Major < o.Major || (v.Major == o.Major && v.Minor < o.Minor)
}

// DownloadOptions configure the HTTP behavior of firmware downloads
type DownloadOptions struct {
	Proxy    string
	Insecure bool
	Progress bool
}

// Device is the parsed descriptor of a mounted unit plus its identity from
// the device-type directory
type Device struct {
	Path         string
	ManifestPath string

	PartNumber      string
	SoftwareVersion string
	Name            string
	URLName         string
	ImageURL        string
	AdditionalNames []string
	TypeID          int

	MaxApps          int
	Apps             []*app.App
	FirmwareVersions map[string]FirmwareVersion
	Datatypes        DatatypeTable

	Downloads DownloadOptions

	client *ciq.Client
	raw    string

	firmwareUpdates []*update.FirmwareUpdate
	appUpdates      []*update.AppUpdate
}

// New parses the descriptor of the unit mounted at devicePath and resolves
// its identity through the client's device-type directory
func New(devicePath string, client *ciq.Client) (*Device, error) {
	d := &Device{
		Path:         devicePath,
		ManifestPath: filepath.Join(devicePath, ManifestRelPath),
		client:       client,
	}

	if err := d.Reload(); err != nil {
		return nil, err
	}

	info, err := client.DeviceInfoByPartNumber(d.PartNumber)
	if err != nil {
		return nil, err
	}
	d.Name = info.Name
	d.URLName = info.URLName
	d.ImageURL = info.ImageURL
	d.AdditionalNames = info.AdditionalNames
	d.TypeID = info.ID

	return d, nil
}

// Reload re-reads the manifest from disk and rebuilds the descriptor
// model. Identity fields and pending update lists are left alone.
func (d *Device) Reload() error {
	raw, err := os.ReadFile(d.ManifestPath)
	if err != nil {
		return errors.Wrapf(err, "cannot read %s", d.ManifestPath)
	}

	m, err := parseManifest(raw)
	if err != nil {
		return err
	}

	d.raw = string(raw)
	d.PartNumber = m.Model.PartNumber
	d.SoftwareVersion = m.Model.SoftwareVersion
	d.MaxApps = m.Extensions.IQAppExt.MaxApps

	d.Apps = make([]*app.App, 0, len(m.Extensions.IQAppExt.Apps))
	for _, a := range m.Extensions.IQAppExt.Apps {
		typ, err := app.ParseType(a.AppType)
		if err != nil {
			return errors.Wrap(ErrManifestParse, err.Error())
		}
		d.Apps = append(d.Apps, &app.App{
			GUID:     a.StoreID,
			Name:     a.AppName,
			Version:  a.Version,
			Filename: a.FileName,
			Type:     typ,
		})
	}

	d.FirmwareVersions = make(map[string]FirmwareVersion, len(m.MassStorageMode.UpdateFiles))
	for _, f := range m.MassStorageMode.UpdateFiles {
		d.FirmwareVersions[f.PartNumber] = FirmwareVersion{Major: f.Version.Major, Minor: f.Version.Minor}
	}

	d.Datatypes = make(DatatypeTable, len(m.MassStorageMode.DataTypes))
	for _, dt := range m.MassStorageMode.DataTypes {
		locs := make([]FileLocation, 0, len(dt.Files))
		for _, f := range dt.Files {
			loc := FileLocation{
				Path:           f.Location.Path,
				Extension:      f.Location.FileExtension,
				BaseName:       f.Location.BaseName,
				Identifier:     f.Specification.Identifier,
				SupportsBackup: f.Location.SupportsBackup == "true",
				ExternalPath:   f.Location.ExternalPath,
			}
			if f.TransferDirection != "" {
				dir, err := ParseTransferDirection(f.TransferDirection)
				if err != nil {
					return errors.Wrap(ErrManifestParse, err.Error())
				}
				loc.Direction = dir
			}
			locs = append(locs, loc)
		}
		d.Datatypes[dt.Name] = locs
	}

	return nil
}

// Redacted returns the privacy-scrubbed manifest copy sent to the firmware
// update check
func (d *Device) Redacted() string {
	return redactManifest(d.raw)
}

// AppByGUID finds an installed app by store GUID
func (d *Device) AppByGUID(guid string) *app.App {
	for _, a := range d.Apps {
		if a.GUID == guid {
			return a
		}
	}
	return nil
}

func (d *Device) persist(raw string) error {
	if err := os.WriteFile(d.ManifestPath, []byte(raw), 0644); err != nil {
		return errors.Wrapf(err, "cannot write %s", d.ManifestPath)
	}
	return d.Reload()
}

// CommitFirmware records a successfully applied firmware update in the
// descriptor: the unique UpdateFile fragment with the update's part number
// gets its version sub-fields rewritten in place, the manifest is
// persisted and the model re-read.
func (d *Device) CommitFirmware(u *update.FirmwareUpdate) error {
	patched, err := patchFirmwareVersion(d.raw, u.PartNumber, u.Major, u.Minor)
	if err != nil {
		return err
	}
	return d.persist(patched)
}

// CommitAppUpdate records a successfully applied app update in the
// descriptor by rewriting the version of the unique App fragment with the
// update's store id
func (d *Device) CommitAppUpdate(u *update.AppUpdate) error {
	patched, err := patchAppVersion(d.raw, u.AppGUID, u.Version)
	if err != nil {
		return err
	}
	return d.persist(patched)
}

// resolveWriteLocation resolves a datatype to its single file location,
// defaults the extension when the manifest omits it, and rejects datatypes
// the unit only ever writes itself
func (d *Device) resolveWriteLocation(key, defaultExt string) (dir, ext string, err error) {
	loc, err := d.Datatypes.Resolve(key)
	if err != nil {
		return "", "", err
	}
	ext = loc.Extension
	if ext == "" {
		log.Warnf("the file extension for %s is not defined in the manifest: defaulting to .%s", key, defaultExt)
		ext = defaultExt
	}
	switch loc.Direction {
	case OutputFromUnit:
		return "", "", errors.Errorf("datatype %s is an output from the unit, cannot write to it", key)
	case DirectionUnspecified:
		log.Debugf("no transfer direction for %s in the manifest: assuming the unit accepts writes", key)
	}
	return loc.Path, ext, nil
}

// Install validates, downloads and records a new application on the unit.
// Nothing is committed to the descriptor until every download has
// succeeded, so a failed install never leaves a partial app behind.
func (d *Device) Install(a *app.App, locale string) (*app.App, error) {
	if len(d.Apps) >= d.MaxApps {
		return nil, errors.Wrapf(ErrCapacityExceeded, "%d of %d apps installed", len(d.Apps), d.MaxApps)
	}
	if d.AppByGUID(a.GUID) != nil {
		return nil, errors.Wrapf(ErrAlreadyInstalled, "app %s", a.GUID)
	}

	if !a.Loaded() {
		if err := a.LoadInfo(d.client); err != nil {
			return nil, err
		}
	}
	if !a.CompatibleWith(d.TypeID) {
		return nil, errors.Wrapf(ErrNotCompatible, "app %s does not support device type %d (%s)", a.GUID, d.TypeID, d.Name)
	}

	key, err := a.Type.DatatypeKey()
	if err != nil {
		return nil, err
	}
	binDir, binExt, err := d.resolveWriteLocation(key, defaultBinaryExtension)
	if err != nil {
		return nil, err
	}
	a.Filename = a.GUID + "." + binExt
	binPath := filepath.Join(d.Path, filepath.FromSlash(binDir), a.Filename)
	if err := os.MkdirAll(filepath.Dir(binPath), 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", filepath.Dir(binPath))
	}

	if err := a.Download(d.client, d.URLName, binPath); err != nil {
		return nil, err
	}

	if a.SettingsAvailableFor(d.TypeID) {
		setDir, setExt, err := d.resolveWriteLocation(app.SettingsDatatypeKey, defaultSettingsExtension)
		if err != nil {
			return nil, err
		}
		setPath := filepath.Join(d.Path, filepath.FromSlash(setDir), a.GUID+"."+setExt)
		if err := os.MkdirAll(filepath.Dir(setPath), 0755); err != nil {
			return nil, errors.Wrapf(err, "failed to create %s", filepath.Dir(setPath))
		}
		if err := a.DownloadSettings(d.client, d.PartNumber, locale, setPath); err != nil {
			return nil, err
		}
	}

	patched, err := spliceApp(d.raw, a.ManifestFragment())
	if err != nil {
		return nil, err
	}
	if err := d.persist(patched); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"app":    a.Name,
		"guid":   a.GUID,
		"device": d.Name,
	}).Info("installed")

	return d.AppByGUID(a.GUID), nil
}

// unitPath joins a datatype location with an on-device filename using the
// unit's forward-slash convention
func unitPath(dir, filename string) string {
	return path.Join(dir, filename)
}
