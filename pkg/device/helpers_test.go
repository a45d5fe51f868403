package device

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/abadiet/GarminServerLess/pkg/ciq"
	"github.com/stretchr/testify/require"
)

const (
	testPartNumber = "006-B3226-00"
	testDeviceName = "fenix 5X"
	testURLName    = "fenix-5x"
	testTypeID     = 101

	guidFaceOne   = "11111111-2222-3333-4444-555555555555"
	guidWidgetTwo = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
)

type fixtureApp struct {
	Name    string
	GUID    string
	Type    string
	Version int
}

// buildManifest renders a GarminDevice.xml fixture. The comment and the
// second IQDataFields location are load bearing: tests assert byte
// preservation around patches and datatype ambiguity.
func buildManifest(maxApps int, apps ...fixtureApp) string {
	var list strings.Builder
	for _, a := range apps {
		fmt.Fprintf(&list, `
        <App>
          <AppName>%s</AppName>
          <StoreId>%s</StoreId>
          <AppId></AppId>
          <AppType>%s</AppType>
          <Version>%d</Version>
          <FileName>%s.PRG</FileName>
        </App>`, a.Name, a.GUID, a.Type, a.Version, a.GUID)
	}

	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" standalone="no" ?>
<Device xmlns="http://www.garmin.com/xmlschemas/GarminDevice/v2">
  <!-- written by the unit, do not edit -->
  <Model>
    <PartNumber>%s</PartNumber>
    <SoftwareVersion>960</SoftwareVersion>
    <Description>fenix 5X</Description>
  </Model>
  <Id>3911266164</Id>
  <MassStorageMode>
    <DataType>
      <Name>IQWatchFaces</Name>
      <File>
        <Specification>
          <Identifier>ConnectIQWatchFace</Identifier>
        </Specification>
        <Location>
          <Path>GARMIN/APPS</Path>
          <FileExtension>PRG</FileExtension>
        </Location>
        <TransferDirection>InputToUnit</TransferDirection>
      </File>
    </DataType>
    <DataType>
      <Name>IQWatchApps</Name>
      <File>
        <Location>
          <Path>GARMIN/APPS</Path>
        </Location>
        <TransferDirection>OutputFromUnit</TransferDirection>
      </File>
    </DataType>
    <DataType>
      <Name>IQWidgets</Name>
      <File>
        <Location>
          <Path>GARMIN/APPS</Path>
          <FileExtension>PRG</FileExtension>
        </Location>
        <TransferDirection>InputToUnit</TransferDirection>
      </File>
    </DataType>
    <DataType>
      <Name>IQDataFields</Name>
      <File>
        <Location>
          <Path>GARMIN/APPS</Path>
        </Location>
      </File>
      <File>
        <Location>
          <Path>GARMIN/APPS/DATAFIELDS</Path>
        </Location>
      </File>
    </DataType>
    <DataType>
      <Name>IQAppsSettingsFile</Name>
      <File>
        <Location>
          <Path>GARMIN/APPS/SETTINGS</Path>
          <FileExtension>SET</FileExtension>
        </Location>
        <TransferDirection>InputToUnit</TransferDirection>
      </File>
    </DataType>
    <UpdateFile>
      <PartNumber>%s</PartNumber>
      <Version>
        <Major>9</Major>
        <Minor>60</Minor>
      </Version>
    </UpdateFile>
    <UpdateFile>
      <PartNumber>006-B2697-00</PartNumber>
      <Version>
        <Major>2</Major>
        <Minor>30</Minor>
      </Version>
    </UpdateFile>
  </MassStorageMode>
  <Extensions>
    <IQAppExt xmlns="http://www.garmin.com/xmlschemas/IqExt/v1">
      <MaxApps>%d</MaxApps>
      <Apps>%s
      </Apps>
    </IQAppExt>
  </Extensions>
</Device>
`, testPartNumber, testPartNumber, maxApps, list.String())
}

func defaultApps() []fixtureApp {
	return []fixtureApp{
		{Name: "Face One", GUID: guidFaceOne, Type: "watchface", Version: 3},
		{Name: "Widget Two", GUID: guidWidgetTwo, Type: "widget", Version: 7},
	}
}

// writeManifest lays a manifest out under a fresh device root
func writeManifest(t *testing.T, manifest string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "GARMIN"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ManifestRelPath), []byte(manifest), 0644))
	return root
}

// testVendor is an httptest stand-in for the Garmin cloud. Handlers are
// registered per path; the device-type directory is always served.
func testVendor(t *testing.T, handlers map[string]http.HandlerFunc) (*httptest.Server, *ciq.Client) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/appsLibraryExternalServices/api/asw/deviceTypes", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"id":%d,"name":"%s","partNumber":"%s","urlName":"%s"}]`,
			testTypeID, testDeviceName, testPartNumber, testURLName)
	})
	for path, h := range handlers {
		mux.HandleFunc(path, h)
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := ciq.NewClient("test-session")
	client.AppsURL = srv.URL
	client.ServicesURL = srv.URL
	client.OmtURL = srv.URL

	return srv, client
}

func newTestDevice(t *testing.T, manifest string, handlers map[string]http.HandlerFunc) *Device {
	t.Helper()
	root := writeManifest(t, manifest)
	_, client := testVendor(t, handlers)
	d, err := New(root, client)
	require.NoError(t, err)
	return d
}
