// Package ciq is a client for the Connect IQ store and the Garmin software
// update services. It covers the anonymous catalog endpoints, the
// session-cookie authenticated endpoints and the app settings editor.
package ciq

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	appsAPI     = "https://apps.garmin.com"
	servicesAPI = "https://services.garmin.com"
	omtAPI      = "https://omt.garmin.com"

	sessionCookie = "session"
)

var (
	// ErrTransport is returned on a non-success HTTP status from any
	// Garmin endpoint
	ErrTransport = errors.New("transport failure")
	// ErrInvalidReference is returned for a malformed store URL or GUID
	ErrInvalidReference = errors.New("invalid store reference")
)

// Client talks to the Garmin cloud services. The base URLs are fields so
// tests can point the client at local servers. It also carries the
// device-type catalog snapshot, populated on first use and never
// invalidated within a run.
type Client struct {
	AppsURL     string
	ServicesURL string
	OmtURL      string

	Session string

	deviceTypes []DeviceType
	nameIdx     map[string]int
	partNumIdx  map[string]int

	hc *http.Client
}

// NewClient creates a Connect IQ store client. The session cookie value is
// only needed for version resolution and app update checks; the anonymous
// endpoints work with an empty one.
func NewClient(session string) *Client {
	return &Client{
		AppsURL:     appsAPI,
		ServicesURL: servicesAPI,
		OmtURL:      omtAPI,
		Session:     session,
		hc:          http.DefaultClient,
	}
}

// AppLocalization is one localized name of a store app
type AppLocalization struct {
	Locale string `json:"locale,omitempty"`
	Name   string `json:"name,omitempty"`
}

// AppInfo is the store metadata record for an app
type AppInfo struct {
	LatestInternalVersion    int   `json:"latestInternalVersion,omitempty"`
	CompatibleDeviceTypeIDs  []int `json:"compatibleDeviceTypeIds,omitempty"`
	TypeID                   int   `json:"typeId,omitempty"`
	SettingsAvailabilityInfo struct {
		AvailabilityByDeviceTypeID map[string]bool `json:"availabilityByDeviceTypeId,omitempty"`
	} `json:"settingsAvailabilityInfo,omitempty"`
	Localizations []AppLocalization `json:"appLocalizations,omitempty"`
}

// Name returns the app's english display name
func (i *AppInfo) Name() string {
	for _, loc := range i.Localizations {
		if loc.Locale == "en" {
			return loc.Name
		}
	}
	return ""
}

// AppGUIDFromURL extracts the application GUID from a store URL
// (i.e. https://apps.garmin.com/en-US/apps/<guid>)
func AppGUIDFromURL(ciqURL string) (string, error) {
	_, guid, found := strings.Cut(ciqURL, "/apps/")
	if !found {
		return "", errors.Wrapf(ErrInvalidReference, "invalid store URL %q", ciqURL)
	}
	guid, _, _ = strings.Cut(guid, "/")
	if _, err := uuid.Parse(guid); err != nil {
		return "", errors.Wrapf(ErrInvalidReference, "%q is not a GUID", guid)
	}
	return guid, nil
}

// AppInfo fetches the store metadata for an app (anonymous)
func (c *Client) AppInfo(appGUID string) (*AppInfo, error) {
	res, err := c.hc.Get(c.AppsURL + "/api/appsLibraryExternalServices/api/asw/apps/" + appGUID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get app info")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrTransport, "app info api returned status: %s", res.Status)
	}

	info := &AppInfo{}
	if err := json.NewDecoder(res.Body).Decode(info); err != nil {
		return nil, errors.Wrap(err, "failed to parse app info")
	}

	return info, nil
}

// LatestAppVersionGUID resolves the most recent version GUID of an app.
// Requires the session cookie (any logged in account will do).
func (c *Client) LatestAppVersionGUID(appGUID string) (string, error) {
	url := c.AppsURL + "/api/appsLibraryExternalServices/api/asw/apps/" + appGUID + "/install?unitId=a"
	req, err := http.NewRequest("POST", url, nil)
	if err != nil {
		return "", errors.Wrap(err, "cannot create http request")
	}
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.Session})

	res, err := c.hc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve app version")
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", errors.Wrap(err, "failed to read response body")
	}

	// the endpoint answers with a redirect style payload that embeds
	// "appVersionId=<guid>," rather than JSON
	arr := strings.SplitN(string(body), "appVersionId=", 2)
	if len(arr) != 2 {
		return "", errors.Wrapf(ErrTransport, "failed to get app version for %s: %s", appGUID, string(body))
	}
	guid, _, _ := strings.Cut(arr[1], ",")

	return guid, nil
}

// DownloadApp fetches an app binary for a device (identified by its URL
// safe name) and returns the raw bytes
func (c *Client) DownloadApp(appGUID, versionGUID, deviceURLName string) ([]byte, error) {
	deviceURLName = strings.ToLower(strings.ReplaceAll(deviceURLName, " ", ""))

	res, err := c.hc.Get(c.ServicesURL + "/appsLibraryBusinessServices_v0/rest/apps/" +
		appGUID + "/versions/" + versionGUID + "/binaries/" + deviceURLName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to download app")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrTransport, "app download returned status: %s", res.Status)
	}

	return io.ReadAll(res.Body)
}

// SettingsForm fetches the interactive HTML settings editor of an app
func (c *Client) SettingsForm(appGUID string, version int, firmwarePartNumber, locale string) (string, error) {
	res, err := c.hc.Get(c.settingsURL(appGUID, version, firmwarePartNumber, locale) + "/edit")
	if err != nil {
		return "", errors.Wrap(err, "failed to get the settings form")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", errors.Wrapf(ErrTransport, "settings form returned status: %s", res.Status)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", errors.Wrap(err, "failed to read settings form")
	}

	return string(body), nil
}

// SettingsBinary compiles a serialized settings form into the binary
// settings payload the device understands
func (c *Client) SettingsBinary(appGUID string, version int, firmwarePartNumber, locale string, form []byte) ([]byte, error) {
	res, err := c.hc.Post(c.settingsURL(appGUID, version, firmwarePartNumber, locale)+"/binary",
		"application/x-www-form-urlencoded", bytes.NewReader(form))
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile settings")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrTransport, "settings binary returned status: %s", res.Status)
	}

	return io.ReadAll(res.Body)
}

func (c *Client) settingsURL(appGUID string, version int, firmwarePartNumber, locale string) string {
	return fmt.Sprintf("%s/%s/appSettings2/%s/versions/%d/devices/%s",
		c.AppsURL, locale, appGUID, version, firmwarePartNumber)
}

// FirmwareUpdateURL is the download descriptor of one firmware candidate
type FirmwareUpdateURL struct {
	URL        string `json:"Url,omitempty"`
	IsRelative bool   `json:"IsRelative,omitempty"`
	MD5        string `json:"Md5,omitempty"`
	Size       int64  `json:"Size,omitempty"`
}

// FirmwareUpdateOption is one candidate returned by the unit software
// update check
type FirmwareUpdateOption struct {
	URL               FirmwareUpdateURL `json:"Url,omitempty"`
	FilePathOnUnit    string            `json:"FilePathOnUnit,omitempty"`
	Changes           []string          `json:"Changes,omitempty"`
	DisplayName       string            `json:"DisplayName,omitempty"`
	EulaURL           string            `json:"EulaUrl,omitempty"`
	IsRecommended     bool              `json:"IsRecommended,omitempty"`
	SoftwareVersion   string            `json:"SoftwareVersion,omitempty"`
	PartNumber        string            `json:"PartNumber,omitempty"`
	IsRestartRequired bool              `json:"IsRestartRequired,omitempty"`
	IsPrimaryFirmware bool              `json:"IsPrimaryFirmware,omitempty"`
	Locale            string            `json:"Locale,omitempty"`
	ChangeSeverity    string            `json:"ChangeSeverity,omitempty"`
	IsReinstall       bool              `json:"IsReinstall,omitempty"`
	DataType          string            `json:"DataType,omitempty"`
	InstallationOrder int               `json:"InstallationOrder,omitempty"`
}

// FirmwareUpdates runs the unit software update check against a device
// manifest. Callers are expected to pass the privacy scrubbed form of the
// manifest, not the raw one.
func (c *Client) FirmwareUpdates(deviceXML string) ([]FirmwareUpdateOption, error) {
	payload, err := json.Marshal(map[string]any{
		"ClientInfo":        map[string]any{},
		"GarminDeviceXml":   deviceXML,
		"IsUserInteractive": false,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal update check payload")
	}

	req, err := http.NewRequest("POST",
		c.OmtURL+"/Rce/ProtobufApi/SoftwareUpdateService/GetAllUnitSoftwareUpdates",
		bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "cannot create http request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check for firmware updates")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrTransport, "update check returned status: %s", res.Status)
	}

	var out struct {
		SoftwareUpdateOptions []FirmwareUpdateOption `json:"SoftwareUpdateOptions,omitempty"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "failed to parse update check response")
	}

	return out.SoftwareUpdateOptions, nil
}

// InstalledApp is one (GUID, version) pair sent to the app update check
type InstalledApp struct {
	AppID                 string `json:"appId"`
	InternalVersionNumber int    `json:"internalVersionNumber"`
}

// AppUpdateInfo is one candidate returned by the app update check
type AppUpdateInfo struct {
	AppID                       string   `json:"appId,omitempty"`
	Type                        string   `json:"type,omitempty"`
	Name                        string   `json:"name,omitempty"`
	DeveloperName               string   `json:"developerName,omitempty"`
	Size                        int64    `json:"size,omitempty"`
	LatestInternalVersionNumber int      `json:"latestInternalVersionNumber,omitempty"`
	LatestVersionName           string   `json:"latestVersionName,omitempty"`
	PermissionsChanged          bool     `json:"permissionsChanged,omitempty"`
	Permissions                 []string `json:"permissions,omitempty"`
	HasSettings                 bool     `json:"hasSettings,omitempty"`
	MinFirmwareVersion          string   `json:"minFirmwareVersion,omitempty"`
	MaxFirmwareVersion          string   `json:"maxFirmwareVersion,omitempty"`
}

// AppUpdates runs the app update check for a set of installed apps.
// Requires the session cookie.
func (c *Client) AppUpdates(installed []InstalledApp, deviceSKU string) ([]AppUpdateInfo, error) {
	payload, err := json.Marshal(map[string]any{
		"apps":      installed,
		"deviceSKU": deviceSKU,
		"locale":    "",
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal app update check payload")
	}

	req, err := http.NewRequest("POST", c.ServicesURL+"/express/appstore/rest/apps/updates", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "cannot create http request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-garmin-client-id", "EXPRESS")
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.Session})

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check for app updates")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrTransport, "app update check returned status: %s", res.Status)
	}

	var out []AppUpdateInfo
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "failed to parse app update check response")
	}

	return out, nil
}
