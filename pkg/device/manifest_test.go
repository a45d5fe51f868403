package device

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifest(t *testing.T) {
	m, err := parseManifest([]byte(buildManifest(30, defaultApps()...)))
	require.NoError(t, err)

	assert.Equal(t, testPartNumber, m.Model.PartNumber)
	assert.Equal(t, "960", m.Model.SoftwareVersion)
	assert.Equal(t, "3911266164", m.ID)
	assert.Equal(t, 30, m.Extensions.IQAppExt.MaxApps)

	require.Len(t, m.Extensions.IQAppExt.Apps, 2)
	assert.Equal(t, "Face One", m.Extensions.IQAppExt.Apps[0].AppName)
	assert.Equal(t, guidFaceOne, m.Extensions.IQAppExt.Apps[0].StoreID)
	assert.Equal(t, "watchface", m.Extensions.IQAppExt.Apps[0].AppType)
	assert.Equal(t, 3, m.Extensions.IQAppExt.Apps[0].Version)

	require.Len(t, m.MassStorageMode.UpdateFiles, 2)
	assert.Equal(t, testPartNumber, m.MassStorageMode.UpdateFiles[0].PartNumber)
	assert.Equal(t, 9, m.MassStorageMode.UpdateFiles[0].Version.Major)
	assert.Equal(t, 60, m.MassStorageMode.UpdateFiles[0].Version.Minor)

	require.Len(t, m.MassStorageMode.DataTypes, 5)
	assert.Equal(t, "IQWatchFaces", m.MassStorageMode.DataTypes[0].Name)
	assert.Equal(t, "GARMIN/APPS", m.MassStorageMode.DataTypes[0].Files[0].Location.Path)
	assert.Equal(t, "ConnectIQWatchFace", m.MassStorageMode.DataTypes[0].Files[0].Specification.Identifier)
}

func TestParseManifestMalformed(t *testing.T) {
	_, err := parseManifest([]byte("<Device><Model>"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrManifestParse))
}

func TestParseManifestMissingPartNumber(t *testing.T) {
	_, err := parseManifest([]byte("<Device><Model></Model></Device>"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedSchema))
}

func TestPatchFirmwareVersion(t *testing.T) {
	raw := buildManifest(30, defaultApps()...)

	patched, err := patchFirmwareVersion(raw, testPartNumber, 9, 70)
	require.NoError(t, err)

	m, err := parseManifest([]byte(patched))
	require.NoError(t, err)
	assert.Equal(t, 9, m.MassStorageMode.UpdateFiles[0].Version.Major)
	assert.Equal(t, 70, m.MassStorageMode.UpdateFiles[0].Version.Minor)

	// the sibling UpdateFile and everything else stay byte-identical
	assert.Equal(t, 2, m.MassStorageMode.UpdateFiles[1].Version.Major)
	assert.Equal(t, 30, m.MassStorageMode.UpdateFiles[1].Version.Minor)
	assert.Contains(t, patched, "<!-- written by the unit, do not edit -->")
	assert.Equal(t, strings.Index(raw, "<Model>"), strings.Index(patched, "<Model>"))
}

func TestPatchFirmwareVersionUnknownPart(t *testing.T) {
	_, err := patchFirmwareVersion(buildManifest(30), "006-B0000-00", 1, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no matching manifest fragment")
}

func TestPatchFirmwareVersionDuplicateFragments(t *testing.T) {
	raw := strings.ReplaceAll(buildManifest(30), "006-B2697-00", testPartNumber)
	_, err := patchFirmwareVersion(raw, testPartNumber, 1, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected exactly one")
}

func TestPatchFirmwareVersionKeepsNamespacePrefix(t *testing.T) {
	raw := `<g:Device><g:UpdateFile><g:PartNumber>006-B1-00</g:PartNumber>` +
		`<g:Version><g:Major>1</g:Major><g:Minor>20</g:Minor></g:Version></g:UpdateFile></g:Device>`

	patched, err := patchFirmwareVersion(raw, "006-B1-00", 2, 5)
	require.NoError(t, err)
	assert.Contains(t, patched, "<g:Major>2</g:Major>")
	assert.Contains(t, patched, "<g:Minor>5</g:Minor>")
}

func TestPatchAppVersion(t *testing.T) {
	raw := buildManifest(30, defaultApps()...)

	patched, err := patchAppVersion(raw, guidWidgetTwo, 8)
	require.NoError(t, err)

	m, err := parseManifest([]byte(patched))
	require.NoError(t, err)
	assert.Equal(t, 8, m.Extensions.IQAppExt.Apps[1].Version)
	assert.Equal(t, 3, m.Extensions.IQAppExt.Apps[0].Version)
}

func TestPatchAppVersionUnknownGUID(t *testing.T) {
	_, err := patchAppVersion(buildManifest(30, defaultApps()...), "00000000-0000-0000-0000-000000000000", 8)
	require.Error(t, err)
}

func TestSpliceApp(t *testing.T) {
	raw := buildManifest(30, defaultApps()...)
	fragment := "<App><AppName>Third</AppName><StoreId>gid</StoreId><AppId></AppId><AppType>widget</AppType><Version>1</Version><FileName>gid.PRG</FileName></App>"

	patched, err := spliceApp(raw, fragment)
	require.NoError(t, err)
	assert.Less(t, strings.Index(patched, "<AppName>Third</AppName>"), strings.Index(patched, "</Apps>"))
	assert.Contains(t, patched, "<!-- written by the unit, do not edit -->")

	m, err := parseManifest([]byte(patched))
	require.NoError(t, err)
	require.Len(t, m.Extensions.IQAppExt.Apps, 3)
	assert.Equal(t, "Third", m.Extensions.IQAppExt.Apps[2].AppName)
}

func TestSpliceAppNoAppList(t *testing.T) {
	_, err := spliceApp(redactManifest(buildManifest(30, defaultApps()...)), "<App></App>")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedSchema))
}

func TestRedactManifest(t *testing.T) {
	redacted := redactManifest(buildManifest(30, defaultApps()...))

	assert.Contains(t, redacted, "<Id>0000000000</Id>")
	assert.Contains(t, redacted, "<Description></Description>")
	assert.NotContains(t, redacted, "3911266164")
	assert.NotContains(t, redacted, "<DataType>")
	assert.NotContains(t, redacted, "<Extensions>")
	assert.NotContains(t, redacted, guidFaceOne)

	// the update check still needs the installed firmware inventory
	m, err := parseManifest([]byte(redacted))
	require.NoError(t, err)
	assert.Equal(t, testPartNumber, m.Model.PartNumber)
	require.Len(t, m.MassStorageMode.UpdateFiles, 2)
	assert.Equal(t, 60, m.MassStorageMode.UpdateFiles[0].Version.Minor)
}
