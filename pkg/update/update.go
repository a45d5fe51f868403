// Package update implements the pending update entities. Each knows how to
// fetch, verify and materialize itself onto the device filesystem; patching
// the device manifest afterwards is the caller's job.
package update

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/abadiet/GarminServerLess/internal/download"
	"github.com/abadiet/GarminServerLess/pkg/app"
	"github.com/abadiet/GarminServerLess/pkg/ciq"
	"github.com/pkg/errors"
)

// AppContainerOverhead is the fixed byte count the vendor's binary
// container adds on top of the size the app update check declares. Why 520
// is anyone's guess, but without it every app update fails its size check.
const AppContainerOverhead = 520

var (
	// ErrRelativeURL is returned when a firmware candidate carries a
	// relative download URL, which the catalog marks but never resolves
	ErrRelativeURL = errors.New("relative URLs are not supported")
	// ErrSizeMismatch is returned when a downloaded artifact's byte count
	// disagrees with the declared size
	ErrSizeMismatch = download.ErrSizeMismatch
	// ErrChecksumMismatch is returned when a downloaded artifact's hash
	// disagrees with the declared checksum
	ErrChecksumMismatch = download.ErrChecksumMismatch
)

// Update is a pending firmware or application update
type Update interface {
	// Name is the display name used for by-name selection
	Name() string
	// Process fetches, verifies and writes the update under the device
	// root, returning the written path. It does not patch the manifest.
	Process(devicePath string) (string, error)
}

// ParseVersion splits a decimal firmware version string ("5.70") into its
// (major, minor) pair
func ParseVersion(s string) (major, minor int, err error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "invalid version %q", s)
	}
	return int(v), int(math.Round(v*100)) % 100, nil
}

// Severity is a firmware update's change severity
type Severity int

const (
	SeverityUnspecified Severity = iota
	SeverityCritical
	SeverityRecommended
	SeverityOptional
)

// ParseSeverity maps a catalog severity string to a Severity, failing on
// anything outside the closed set
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "Unspecified", "UNSPECIFIED", "":
		return SeverityUnspecified, nil
	case "Critical", "CRITICAL":
		return SeverityCritical, nil
	case "Recommended", "RECOMMENDED":
		return SeverityRecommended, nil
	case "Optional", "OPTIONAL":
		return SeverityOptional, nil
	default:
		return SeverityUnspecified, fmt.Errorf("invalid change severity: %q", s)
	}
}

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityRecommended:
		return "recommended"
	case SeverityOptional:
		return "optional"
	default:
		return "unspecified"
	}
}

// FirmwareType is the kind of artifact a firmware candidate delivers
type FirmwareType int

const (
	PrimaryFirmware FirmwareType = iota
	Firmware
	Map
	Garage
	Computer
	LanguagePack
	ConnectItem
	Application
	SafetyCamera
	MarineChart
	GeneralDlc
)

var firmwareTypeNames = map[string]FirmwareType{
	"PrimaryFirmware": PrimaryFirmware,
	"Firmware":        Firmware,
	"Map":             Map,
	"Garage":          Garage,
	"Computer":        Computer,
	"LanguagePack":    LanguagePack,
	"ConnectItem":     ConnectItem,
	"Application":     Application,
	"SafetyCamera":    SafetyCamera,
	"MarineChart":     MarineChart,
	"GeneralDlc":      GeneralDlc,
}

// ParseFirmwareType maps a catalog data-type tag to a FirmwareType,
// failing on anything outside the closed set
func ParseFirmwareType(s string) (FirmwareType, error) {
	t, ok := firmwareTypeNames[s]
	if !ok {
		return PrimaryFirmware, fmt.Errorf("invalid update type: %q", s)
	}
	return t, nil
}

// FirmwareUpdate is one pending firmware update for a unit
type FirmwareUpdate struct {
	PartNumber        string
	Major             int
	Minor             int
	DisplayName       string
	URL               string
	URLIsRelative     bool
	MD5               string
	Size              int64
	UnitFilepath      string
	InstallationOrder int
	Changes           []string
	EulaURL           string
	IsRecommended     bool
	IsRestartRequired bool
	IsPrimaryFirmware bool
	IsReinstall       bool
	Locale            string
	Severity          Severity
	Type              FirmwareType

	// download behavior, set by the owning device
	Proxy    string
	Insecure bool
	Progress bool
}

// Name returns the catalog display name
func (u *FirmwareUpdate) Name() string {
	return u.DisplayName
}

// Version returns the claimed version as a display string
func (u *FirmwareUpdate) Version() string {
	return fmt.Sprintf("%d.%02d", u.Major, u.Minor)
}

// Process downloads the firmware binary, verifies its size and MD5 against
// the catalog claims, and writes it to the unit path under the device
// root. Nothing is written under the device root until both checks pass.
func (u *FirmwareUpdate) Process(devicePath string) (string, error) {
	if u.URLIsRelative {
		return "", errors.Wrapf(ErrRelativeURL, "cannot download %s", u.DisplayName)
	}

	staging, err := os.MkdirTemp("", "gsl-firmware")
	if err != nil {
		return "", errors.Wrap(err, "failed to create staging dir")
	}
	defer os.RemoveAll(staging)

	dl := download.NewDownload(u.Proxy, u.Insecure, u.Progress)
	dl.URL = u.URL
	dl.MD5 = u.MD5
	dl.Size = u.Size
	dl.DestName = filepath.Join(staging, filepath.Base(u.UnitFilepath))
	if err := dl.Do(); err != nil {
		return "", errors.Wrapf(err, "failed to download the update %s", u.DisplayName)
	}

	data, err := os.ReadFile(dl.DestName)
	if err != nil {
		return "", errors.Wrap(err, "failed to read staged update")
	}

	dest := filepath.Join(devicePath, u.UnitFilepath)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create %s", filepath.Dir(dest))
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write the update to %s", dest)
	}

	return dest, nil
}

// AppUpdate is one pending application update for a unit
type AppUpdate struct {
	AppGUID            string
	DeviceURLName      string
	UnitFilepath       string
	DisplayName        string
	DeveloperName      string
	Type               app.Type
	Size               int64
	Version            int
	VersionName        string
	PermissionsChanged bool
	Permissions        []Permission
	HasSettings        bool
	MinFirmwareVersion string
	MaxFirmwareVersion string

	Client *ciq.Client
}

// Name returns the store display name
func (u *AppUpdate) Name() string {
	return u.DisplayName
}

// Process resolves the latest version of the app, downloads it, verifies
// its size against the declared size plus the container overhead, and
// replaces the on-device file. The old file is only removed once the new
// binary has been verified.
func (u *AppUpdate) Process(devicePath string) (string, error) {
	versionGUID, err := u.Client.LatestAppVersionGUID(u.AppGUID)
	if err != nil {
		return "", err
	}

	data, err := u.Client.DownloadApp(u.AppGUID, versionGUID, u.DeviceURLName)
	if err != nil {
		return "", err
	}

	if u.Size > 0 && int64(len(data)) != u.Size+AppContainerOverhead {
		return "", errors.Wrapf(ErrSizeMismatch, "failed to download the app %s: got %d bytes, expected %d+%d",
			u.DisplayName, len(data), u.Size, AppContainerOverhead)
	}

	dest := filepath.Join(devicePath, u.UnitFilepath)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create %s", filepath.Dir(dest))
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return "", errors.Wrapf(err, "failed to remove the previous binary %s", dest)
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write the app to %s", dest)
	}

	return dest, nil
}
