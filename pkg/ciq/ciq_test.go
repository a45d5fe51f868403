package ciq

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGUID = "11111111-2222-3333-4444-555555555555"

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("test-session")
	c.AppsURL = srv.URL
	c.ServicesURL = srv.URL
	c.OmtURL = srv.URL
	return c
}

func TestAppGUIDFromURL(t *testing.T) {
	guid, err := AppGUIDFromURL("https://apps.garmin.com/en-US/apps/" + testGUID)
	require.NoError(t, err)
	assert.Equal(t, testGUID, guid)

	// trailing path components are tolerated
	guid, err = AppGUIDFromURL("https://apps.garmin.com/en-US/apps/" + testGUID + "/reviews")
	require.NoError(t, err)
	assert.Equal(t, testGUID, guid)

	_, err = AppGUIDFromURL("https://apps.garmin.com/en-US/")
	assert.True(t, errors.Is(err, ErrInvalidReference))

	_, err = AppGUIDFromURL("https://apps.garmin.com/en-US/apps/not-a-guid")
	assert.True(t, errors.Is(err, ErrInvalidReference))
}

func TestDeviceTypesCached(t *testing.T) {
	var hits int
	mux := http.NewServeMux()
	mux.HandleFunc("/api/appsLibraryExternalServices/api/asw/deviceTypes", func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, `[
			{"id":101,"name":"fenix 5X","partNumber":"006-B3226-00","urlName":"fenix-5x"},
			{"id":205,"name":"vivoactive 4","partNumber":"006-B3225-00","urlName":"vivoactive-4","additionalNames":["vivoactive 4S"]}
		]`)
	})
	c := newTestClient(t, mux)

	types, err := c.DeviceTypes()
	require.NoError(t, err)
	assert.Len(t, types, 2)

	info, err := c.DeviceInfo("fenix 5X")
	require.NoError(t, err)
	assert.Equal(t, 101, info.ID)
	assert.Equal(t, "fenix-5x", info.URLName)

	info, err = c.DeviceInfoByPartNumber("006-B3225-00")
	require.NoError(t, err)
	assert.Equal(t, "vivoactive 4", info.Name)

	_, err = c.DeviceInfo("forerunner 945")
	assert.True(t, errors.Is(err, ErrInvalidReference))
	_, err = c.DeviceInfoByPartNumber("006-B0000-00")
	assert.True(t, errors.Is(err, ErrInvalidReference))

	assert.Equal(t, 1, hits, "the directory is fetched once per run")
}

func TestDeviceTypesTransportError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))

	_, err := c.DeviceTypes()
	assert.True(t, errors.Is(err, ErrTransport))
}

func TestAppInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/appsLibraryExternalServices/api/asw/apps/{guid}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testGUID, r.PathValue("guid"))
		fmt.Fprint(w, `{"latestInternalVersion":4,"typeId":1,"appLocalizations":[{"locale":"en","name":"My Face"},{"locale":"de","name":"Zifferblatt"}]}`)
	})
	c := newTestClient(t, mux)

	info, err := c.AppInfo(testGUID)
	require.NoError(t, err)
	assert.Equal(t, 4, info.LatestInternalVersion)
	assert.Equal(t, 1, info.TypeID)
	assert.Equal(t, "My Face", info.Name())
}

func TestAppInfoTransportError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))

	_, err := c.AppInfo(testGUID)
	assert.True(t, errors.Is(err, ErrTransport))
}

func TestLatestAppVersionGUID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/appsLibraryExternalServices/api/asw/apps/{guid}/install", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		require.NoError(t, err)
		assert.Equal(t, "test-session", cookie.Value)
		assert.Equal(t, "a", r.URL.Query().Get("unitId"))
		fmt.Fprint(w, "redirect:/some/path?x=1&appVersionId=version-guid,trailing=stuff")
	})
	c := newTestClient(t, mux)

	guid, err := c.LatestAppVersionGUID(testGUID)
	require.NoError(t, err)
	assert.Equal(t, "version-guid", guid)
}

func TestLatestAppVersionGUIDBadPayload(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "please log in")
	}))

	_, err := c.LatestAppVersionGUID(testGUID)
	assert.True(t, errors.Is(err, ErrTransport))
}

func TestDownloadAppNormalizesDeviceName(t *testing.T) {
	var requestedPath string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		w.Write([]byte("binary"))
	}))

	data, err := c.DownloadApp(testGUID, "version-guid", "Fenix 5X")
	require.NoError(t, err)
	assert.Equal(t, []byte("binary"), data)
	assert.Equal(t, "/appsLibraryBusinessServices_v0/rest/apps/"+testGUID+"/versions/version-guid/binaries/fenix5x", requestedPath)
}

func TestFirmwareUpdates(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /Rce/ProtobufApi/SoftwareUpdateService/GetAllUnitSoftwareUpdates", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &body))
		fmt.Fprint(w, `{"SoftwareUpdateOptions":[{"Url":{"Url":"http://x/fw.gcd","Md5":"aa","Size":10},"SoftwareVersion":"9.70","PartNumber":"006-B3226-00","DataType":"PrimaryFirmware","InstallationOrder":1}]}`)
	})
	c := newTestClient(t, mux)

	options, err := c.FirmwareUpdates("<Device>redacted</Device>")
	require.NoError(t, err)

	assert.Equal(t, "<Device>redacted</Device>", body["GarminDeviceXml"])
	assert.Equal(t, false, body["IsUserInteractive"])

	require.Len(t, options, 1)
	assert.Equal(t, "9.70", options[0].SoftwareVersion)
	assert.Equal(t, int64(10), options[0].URL.Size)
	assert.Equal(t, 1, options[0].InstallationOrder)
}

func TestAppUpdates(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /express/appstore/rest/apps/updates", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "EXPRESS", r.Header.Get("X-garmin-client-id"))
		cookie, err := r.Cookie(sessionCookie)
		require.NoError(t, err)
		assert.Equal(t, "test-session", cookie.Value)

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &body))
		fmt.Fprint(w, `[{"appId":"g1","type":"widget","name":"Widget","size":100,"latestInternalVersionNumber":9,"permissions":["Positioning"]}]`)
	})
	c := newTestClient(t, mux)

	infos, err := c.AppUpdates([]InstalledApp{{AppID: "g1", InternalVersionNumber: 7}}, "006-B3226-00")
	require.NoError(t, err)

	assert.Equal(t, "006-B3226-00", body["deviceSKU"])
	apps := body["apps"].([]any)
	require.Len(t, apps, 1)
	sent := apps[0].(map[string]any)
	assert.Equal(t, "g1", sent["appId"])
	assert.Equal(t, float64(7), sent["internalVersionNumber"])

	require.Len(t, infos, 1)
	assert.Equal(t, "g1", infos[0].AppID)
	assert.Equal(t, int64(100), infos[0].Size)
	assert.Equal(t, []string{"Positioning"}, infos[0].Permissions)
}
