package device

import (
	"fmt"
	"sort"
	"strings"

	"github.com/abadiet/GarminServerLess/pkg/app"
	"github.com/abadiet/GarminServerLess/pkg/ciq"
	"github.com/abadiet/GarminServerLess/pkg/update"
	"github.com/apex/log"
	"github.com/pkg/errors"
)

// FirmwareUpdates diffs the vendor's unit software catalog against the
// installed firmware versions and returns the pending updates sorted by
// installation order. The result is cached on the device; a bad individual
// candidate is logged and skipped, never aborting the whole diff.
func (d *Device) FirmwareUpdates(forceReload bool) ([]*update.FirmwareUpdate, error) {
	if d.firmwareUpdates != nil && !forceReload {
		return d.firmwareUpdates, nil
	}

	options, err := d.client.FirmwareUpdates(d.Redacted())
	if err != nil {
		return nil, err
	}

	updates := make([]*update.FirmwareUpdate, 0, len(options))
	for _, opt := range options {
		u, err := d.buildFirmwareUpdate(opt)
		if err != nil {
			log.WithError(err).Warnf("skipping firmware candidate %s", opt.DisplayName)
			continue
		}
		if u == nil {
			continue // already installed
		}
		updates = append(updates, u)
	}

	// later updates may depend on earlier ones having already patched the
	// unit, so the order must survive all the way to apply time
	sort.SliceStable(updates, func(i, j int) bool {
		return updates[i].InstallationOrder < updates[j].InstallationOrder
	})

	d.firmwareUpdates = updates
	return d.firmwareUpdates, nil
}

func (d *Device) buildFirmwareUpdate(opt ciq.FirmwareUpdateOption) (*update.FirmwareUpdate, error) {
	major, minor, err := update.ParseVersion(opt.SoftwareVersion)
	if err != nil {
		return nil, err
	}

	if installed, ok := d.FirmwareVersions[opt.PartNumber]; ok {
		if !installed.Less(FirmwareVersion{Major: major, Minor: minor}) {
			return nil, nil
		}
	}

	severity, err := update.ParseSeverity(opt.ChangeSeverity)
	if err != nil {
		return nil, err
	}
	typ, err := update.ParseFirmwareType(opt.DataType)
	if err != nil {
		return nil, err
	}

	return &update.FirmwareUpdate{
		PartNumber:        opt.PartNumber,
		Major:             major,
		Minor:             minor,
		DisplayName:       opt.DisplayName,
		URL:               opt.URL.URL,
		URLIsRelative:     opt.URL.IsRelative,
		MD5:               opt.URL.MD5,
		Size:              opt.URL.Size,
		UnitFilepath:      strings.ReplaceAll(opt.FilePathOnUnit, `\`, "/"),
		InstallationOrder: opt.InstallationOrder,
		Changes:           opt.Changes,
		EulaURL:           opt.EulaURL,
		IsRecommended:     opt.IsRecommended,
		IsRestartRequired: opt.IsRestartRequired,
		IsPrimaryFirmware: opt.IsPrimaryFirmware,
		IsReinstall:       opt.IsReinstall,
		Locale:            opt.Locale,
		Severity:          severity,
		Type:              typ,
		Proxy:             d.Downloads.Proxy,
		Insecure:          d.Downloads.Insecure,
		Progress:          d.Downloads.Progress,
	}, nil
}

// AppUpdates diffs the store's app update check against the installed app
// list and returns the pending updates. Requires the client session
// cookie. Per-entry failures are isolated the same way as firmware.
func (d *Device) AppUpdates(forceReload bool) ([]*update.AppUpdate, error) {
	if d.appUpdates != nil && !forceReload {
		return d.appUpdates, nil
	}
	if d.client.Session == "" {
		return nil, errors.New("session cookie is required to get the app updates")
	}

	installed := make([]ciq.InstalledApp, 0, len(d.Apps))
	for _, a := range d.Apps {
		installed = append(installed, ciq.InstalledApp{AppID: a.GUID, InternalVersionNumber: a.Version})
	}

	infos, err := d.client.AppUpdates(installed, d.PartNumber)
	if err != nil {
		return nil, err
	}

	updates := make([]*update.AppUpdate, 0, len(infos))
	for _, info := range infos {
		u, err := d.buildAppUpdate(info)
		if err != nil {
			log.WithError(err).Warnf("skipping app update candidate %s", info.AppID)
			continue
		}
		if u == nil {
			continue // up to date
		}
		updates = append(updates, u)
	}

	d.appUpdates = updates
	return d.appUpdates, nil
}

func (d *Device) buildAppUpdate(info ciq.AppUpdateInfo) (*update.AppUpdate, error) {
	typ, err := app.ParseType(info.Type)
	if err != nil {
		return nil, err
	}
	key, err := typ.DatatypeKey()
	if err != nil {
		return nil, err
	}
	loc, err := d.Datatypes.Resolve(key)
	if err != nil {
		return nil, err
	}

	installed := d.AppByGUID(info.AppID)
	if installed == nil {
		// the store may reference apps outside the local set
		return nil, fmt.Errorf("app %s is not installed on this device", info.AppID)
	}
	if info.LatestInternalVersionNumber <= installed.Version {
		return nil, nil
	}

	permissions := make([]update.Permission, 0, len(info.Permissions))
	for _, p := range info.Permissions {
		perm, err := update.ParsePermission(p)
		if err != nil {
			return nil, err
		}
		permissions = append(permissions, perm)
	}

	u := &update.AppUpdate{
		AppGUID:            info.AppID,
		DeviceURLName:      d.URLName,
		UnitFilepath:       unitPath(loc.Path, installed.Filename),
		DisplayName:        info.Name,
		DeveloperName:      info.DeveloperName,
		Type:               typ,
		Size:               info.Size,
		Version:            info.LatestInternalVersionNumber,
		VersionName:        info.LatestVersionName,
		PermissionsChanged: info.PermissionsChanged,
		Permissions:        permissions,
		HasSettings:        info.HasSettings,
		MinFirmwareVersion: info.MinFirmwareVersion,
		MaxFirmwareVersion: info.MaxFirmwareVersion,
		Client:             d.client,
	}

	d.warnFirmwareRange(u)

	return u, nil
}

// warnFirmwareRange flags app updates whose declared firmware range does
// not cover the unit's installed primary firmware. Advisory only.
func (d *Device) warnFirmwareRange(u *update.AppUpdate) {
	fw, ok := d.FirmwareVersions[d.PartNumber]
	if !ok || (u.MinFirmwareVersion == "" && u.MaxFirmwareVersion == "") {
		return
	}
	compatible, err := u.FirmwareCompatible(fmt.Sprintf("%d.%d", fw.Major, fw.Minor))
	if err != nil {
		log.WithError(err).Debugf("cannot check the firmware range of %s", u.DisplayName)
		return
	}
	if !compatible {
		log.Warnf("app update %s wants firmware %s..%s, unit runs %d.%02d",
			u.DisplayName, u.MinFirmwareVersion, u.MaxFirmwareVersion, fw.Major, fw.Minor)
	}
}

// Updates returns the pending firmware updates followed by the pending app
// updates
func (d *Device) Updates(forceReload bool) ([]update.Update, error) {
	fw, err := d.FirmwareUpdates(forceReload)
	if err != nil {
		return nil, err
	}
	apps, err := d.AppUpdates(forceReload)
	if err != nil {
		return nil, err
	}
	all := make([]update.Update, 0, len(fw)+len(apps))
	for _, u := range fw {
		all = append(all, u)
	}
	for _, u := range apps {
		all = append(all, u)
	}
	return all, nil
}

// Selection picks updates out of a pending list: everything, one by
// numeric id, or one by display name. Id and name are mutually exclusive.
type Selection struct {
	ID   int // index into the pending list, -1 for unset
	Name string
}

// All selects every pending update
func All() Selection {
	return Selection{ID: -1}
}

// ByID selects the pending update at an index
func ByID(id int) Selection {
	return Selection{ID: id}
}

// ByName selects the pending update with a display name
func ByName(name string) Selection {
	return Selection{ID: -1, Name: name}
}

func (s Selection) validate(pending int) error {
	if s.ID >= 0 && s.Name != "" {
		return errors.New("update id and name are mutually exclusive")
	}
	if s.ID >= pending {
		return fmt.Errorf("invalid update id: %d", s.ID)
	}
	return nil
}

// UpdateFirmwares applies pending firmware updates. Each successful update
// is immediately committed to the descriptor and removed from the pending
// list; the manifest is re-read before the next one so later updates
// observe the latest persisted state. Returns the written paths.
func (d *Device) UpdateFirmwares(sel Selection, forceReload bool) ([]string, error) {
	pending, err := d.FirmwareUpdates(forceReload)
	if err != nil {
		return nil, err
	}
	if err := sel.validate(len(pending)); err != nil {
		return nil, err
	}

	apply := func(i int) (string, error) {
		u := d.firmwareUpdates[i]
		path, err := u.Process(d.Path)
		if err != nil {
			return "", err
		}
		if err := d.CommitFirmware(u); err != nil {
			return "", err
		}
		d.firmwareUpdates = append(d.firmwareUpdates[:i], d.firmwareUpdates[i+1:]...)
		return path, nil
	}

	if sel.Name != "" {
		for i, u := range pending {
			if u.Name() == sel.Name {
				path, err := apply(i)
				if err != nil {
					return nil, err
				}
				return []string{path}, nil
			}
		}
		return nil, fmt.Errorf("invalid update name: %s", sel.Name)
	}

	if sel.ID >= 0 {
		path, err := apply(sel.ID)
		if err != nil {
			return nil, err
		}
		return []string{path}, nil
	}

	var paths []string
	for len(d.firmwareUpdates) > 0 {
		path, err := apply(0)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// UpdateApps applies pending app updates, with the same commit/reload
// cycle as UpdateFirmwares
func (d *Device) UpdateApps(sel Selection, forceReload bool) ([]string, error) {
	pending, err := d.AppUpdates(forceReload)
	if err != nil {
		return nil, err
	}
	if err := sel.validate(len(pending)); err != nil {
		return nil, err
	}

	apply := func(i int) (string, error) {
		u := d.appUpdates[i]
		path, err := u.Process(d.Path)
		if err != nil {
			return "", err
		}
		if err := d.CommitAppUpdate(u); err != nil {
			return "", err
		}
		d.appUpdates = append(d.appUpdates[:i], d.appUpdates[i+1:]...)
		return path, nil
	}

	if sel.Name != "" {
		for i, u := range pending {
			if u.Name() == sel.Name {
				path, err := apply(i)
				if err != nil {
					return nil, err
				}
				return []string{path}, nil
			}
		}
		return nil, fmt.Errorf("invalid update name: %s", sel.Name)
	}

	if sel.ID >= 0 {
		path, err := apply(sel.ID)
		if err != nil {
			return nil, err
		}
		return []string{path}, nil
	}

	var paths []string
	for len(d.appUpdates) > 0 {
		path, err := apply(0)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// UpdateAll applies pending firmware updates first, then pending app
// updates. With a name or id selection the firmware list is searched
// first, matching the combined list order; ids index into the combined
// list.
func (d *Device) UpdateAll(sel Selection, forceReload bool) ([]string, error) {
	if _, err := d.Updates(forceReload); err != nil {
		return nil, err
	}
	if err := sel.validate(len(d.firmwareUpdates) + len(d.appUpdates)); err != nil {
		return nil, err
	}

	if sel.Name != "" {
		for _, u := range d.firmwareUpdates {
			if u.Name() == sel.Name {
				return d.UpdateFirmwares(sel, false)
			}
		}
		for _, u := range d.appUpdates {
			if u.Name() == sel.Name {
				return d.UpdateApps(sel, false)
			}
		}
		return nil, fmt.Errorf("invalid update name: %s", sel.Name)
	}

	if sel.ID >= 0 {
		if sel.ID < len(d.firmwareUpdates) {
			return d.UpdateFirmwares(sel, false)
		}
		return d.UpdateApps(ByID(sel.ID-len(d.firmwareUpdates)), false)
	}

	paths, err := d.UpdateFirmwares(All(), false)
	if err != nil {
		return paths, err
	}
	appPaths, err := d.UpdateApps(All(), false)
	paths = append(paths, appPaths...)
	return paths, err
}
