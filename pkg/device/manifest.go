package device

import (
	"encoding/xml"
	"fmt"
	"regexp"

	"github.com/pkg/errors"
)

// GarminDevice.xml schema, namespaced. encoding/xml matches on local names
// so both the default-namespace and the prefixed forms parse.
type manifestVersion struct {
	Major int `xml:"Major"`
	Minor int `xml:"Minor"`
}

type manifestUpdateFile struct {
	PartNumber string          `xml:"PartNumber"`
	Version    manifestVersion `xml:"Version"`
}

type manifestFile struct {
	Location struct {
		Path           string `xml:"Path"`
		FileExtension  string `xml:"FileExtension"`
		BaseName       string `xml:"BaseName"`
		SupportsBackup string `xml:"SupportsBackup"`
		ExternalPath   string `xml:"ExternalPath"`
	} `xml:"Location"`
	Specification struct {
		Identifier string `xml:"Identifier"`
	} `xml:"Specification"`
	TransferDirection string `xml:"TransferDirection"`
}

type manifestDataType struct {
	Name  string         `xml:"Name"`
	Files []manifestFile `xml:"File"`
}

type manifestApp struct {
	AppName  string `xml:"AppName"`
	StoreID  string `xml:"StoreId"`
	AppID    string `xml:"AppId"`
	AppType  string `xml:"AppType"`
	Version  int    `xml:"Version"`
	FileName string `xml:"FileName"`
}

type manifest struct {
	XMLName xml.Name `xml:"Device"`
	Model   struct {
		PartNumber      string `xml:"PartNumber"`
		SoftwareVersion string `xml:"SoftwareVersion"`
		Description     string `xml:"Description"`
	} `xml:"Model"`
	ID              string `xml:"Id"`
	MassStorageMode struct {
		DataTypes   []manifestDataType   `xml:"DataType"`
		UpdateFiles []manifestUpdateFile `xml:"UpdateFile"`
	} `xml:"MassStorageMode"`
	Extensions struct {
		IQAppExt struct {
			MaxApps int           `xml:"MaxApps"`
			Apps    []manifestApp `xml:"Apps>App"`
		} `xml:"IQAppExt"`
	} `xml:"Extensions"`
}

func parseManifest(raw []byte) (*manifest, error) {
	m := &manifest{}
	if err := xml.Unmarshal(raw, m); err != nil {
		return nil, errors.Wrap(ErrManifestParse, err.Error())
	}
	if m.Model.PartNumber == "" {
		return nil, errors.Wrap(ErrUnsupportedSchema, "manifest has no Model/PartNumber")
	}
	return m, nil
}

// Fragment regexps tolerate an optional namespace prefix and capture it so
// rewrites keep the document's own spelling.
var (
	updateFileRe = regexp.MustCompile(`(?s)<(?:\w+:)?UpdateFile\b[^>]*>.*?</(?:\w+:)?UpdateFile>`)
	appRe        = regexp.MustCompile(`(?s)<(?:\w+:)?App\b[^>]*>.*?</(?:\w+:)?App>`)
	appsCloseRe  = regexp.MustCompile(`</(?:\w+:)?Apps>`)

	majorRe       = regexp.MustCompile(`<((?:\w+:)?)Major>[^<]*</(?:\w+:)?Major>`)
	minorRe       = regexp.MustCompile(`<((?:\w+:)?)Minor>[^<]*</(?:\w+:)?Minor>`)
	versionRe     = regexp.MustCompile(`<((?:\w+:)?)Version>[^<]*</(?:\w+:)?Version>`)
	idRe          = regexp.MustCompile(`<((?:\w+:)?)Id>[^<]*</(?:\w+:)?Id>`)
	descriptionRe = regexp.MustCompile(`<((?:\w+:)?)Description>[^<]*</(?:\w+:)?Description>`)
	extensionsRe  = regexp.MustCompile(`(?s)<(?:\w+:)?Extensions\b[^>]*>.*?</(?:\w+:)?Extensions>`)
	dataTypeRe    = regexp.MustCompile(`(?s)<(?:\w+:)?DataType\b[^>]*>.*?</(?:\w+:)?DataType>`)
)

func containsTag(frag, tag, text string) bool {
	re := regexp.MustCompile(`<(?:\w+:)?` + tag + `>\s*` + regexp.QuoteMeta(text) + `\s*</`)
	return re.MatchString(frag)
}

// patchUniqueFragment locates the one fragment of raw that matches fragRe
// and the structural predicate, and replaces only that sub-range with
// rewrite(fragment). Zero or multiple matching fragments is an error;
// every byte outside the identified fragment is preserved.
func patchUniqueFragment(raw string, fragRe *regexp.Regexp, match func(frag string) bool, rewrite func(frag string) string) (string, error) {
	var spans [][]int
	for _, span := range fragRe.FindAllStringIndex(raw, -1) {
		if match(raw[span[0]:span[1]]) {
			spans = append(spans, span)
		}
	}
	if len(spans) == 0 {
		return "", errors.New("no matching manifest fragment")
	}
	if len(spans) > 1 {
		return "", fmt.Errorf("%d matching manifest fragments, expected exactly one", len(spans))
	}
	span := spans[0]
	return raw[:span[0]] + rewrite(raw[span[0]:span[1]]) + raw[span[1]:], nil
}

// patchFirmwareVersion rewrites the Major/Minor sub-fields of the unique
// UpdateFile fragment whose part number matches
func patchFirmwareVersion(raw, partNumber string, major, minor int) (string, error) {
	patched, err := patchUniqueFragment(raw, updateFileRe,
		func(frag string) bool { return containsTag(frag, "PartNumber", partNumber) },
		func(frag string) string {
			frag = majorRe.ReplaceAllString(frag, fmt.Sprintf("<${1}Major>%d</${1}Major>", major))
			frag = minorRe.ReplaceAllString(frag, fmt.Sprintf("<${1}Minor>%d</${1}Minor>", minor))
			return frag
		})
	if err != nil {
		return "", errors.Wrapf(err, "cannot patch firmware version for %s", partNumber)
	}
	return patched, nil
}

// patchAppVersion rewrites the Version sub-field of the unique App
// fragment whose store id matches
func patchAppVersion(raw, storeID string, version int) (string, error) {
	patched, err := patchUniqueFragment(raw, appRe,
		func(frag string) bool { return containsTag(frag, "StoreId", storeID) },
		func(frag string) string {
			return versionRe.ReplaceAllString(frag, fmt.Sprintf("<${1}Version>%d</${1}Version>", version))
		})
	if err != nil {
		return "", errors.Wrapf(err, "cannot patch app version for %s", storeID)
	}
	return patched, nil
}

// spliceApp inserts a rendered <App> fragment right before the app list's
// closing tag
func spliceApp(raw, fragment string) (string, error) {
	spans := appsCloseRe.FindAllStringIndex(raw, -1)
	if len(spans) == 0 {
		return "", errors.Wrap(ErrUnsupportedSchema, "manifest has no app list")
	}
	if len(spans) > 1 {
		return "", errors.Wrapf(ErrUnsupportedSchema, "manifest has %d app lists", len(spans))
	}
	i := spans[0][0]
	return raw[:i] + fragment + raw[i:], nil
}

// redactManifest produces the privacy-scrubbed copy of the manifest sent
// to the firmware update check: unit id zeroed, model description blanked,
// extensions and datatype tables dropped. The update check only needs the
// part numbers and installed versions.
func redactManifest(raw string) string {
	raw = extensionsRe.ReplaceAllString(raw, "")
	raw = dataTypeRe.ReplaceAllString(raw, "")
	raw = idRe.ReplaceAllString(raw, "<${1}Id>0000000000</${1}Id>")
	raw = descriptionRe.ReplaceAllString(raw, "<${1}Description></${1}Description>")
	return raw
}
