package ciq

import (
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/pkg/errors"
)

// validateScript is injected before </head> of the vendor's settings
// editor. It adds a button that serializes the in-page form with the
// page's own handleFormSubmit(), POSTs the result back to the local
// bridge and closes the tab.
const validateScript = "<script type='text/javascript'>document.addEventListener('DOMContentLoaded', function() {let btn = document.createElement('button');btn.innerHTML = 'Validate';btn.style.width = '100%';btn.style.backgroundColor = 'lightgreen';btn.style.minHeight = '70px';btn.style.fontSize = 'large';btn.style.fontWeight = 'bold';btn.addEventListener('click', function() {const settings_str = handleFormSubmit();if (settings_str != '' && settings_str !== undefined) {const xhr = new XMLHttpRequest();xhr.open('POST', '/');xhr.addEventListener('load', function() {close();});xhr.send(settings_str);}});document.body.appendChild(btn);});</script></head>"

// OpenBrowser opens a URL in the user's default browser. Variable so
// tests can drive the bridge without one.
var OpenBrowser = browser.OpenURL

// settingsBridge is the single-use loopback relay that turns the vendor's
// interactive settings editor into a binary settings payload. It serves
// exactly one capture cycle: GETs return the rewritten editor HTML, the
// one POST carries the serialized form out to the vendor and terminates
// the bridge.
type settingsBridge struct {
	html       string
	capture    func(form []byte) error
	done       chan error
	captureHit bool
}

func (b *settingsBridge) handleGet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, b.html)
}

func (b *settingsBridge) handlePost(w http.ResponseWriter, r *http.Request) {
	if b.captureHit {
		http.Error(w, "settings already captured", http.StatusGone)
		return
	}
	b.captureHit = true

	form, err := io.ReadAll(r.Body)
	if err == nil {
		err = b.capture(form)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		b.done <- err
		return
	}

	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
	b.done <- nil
}

// DownloadAppSettings walks the user through the app's settings editor and
// writes the compiled binary settings payload to outputPath. It opens the
// default browser on a local relay and blocks until the in-page Validate
// button has POSTed the serialized form back; an abandoned browser session
// therefore blocks forever.
func (c *Client) DownloadAppSettings(appGUID string, version int, firmwarePartNumber, locale, outputPath string) error {
	form, err := c.SettingsForm(appGUID, version, firmwarePartNumber, locale)
	if err != nil {
		return err
	}

	// the editor is served with origin-relative links, rewrite them to
	// absolute vendor URLs so it renders outside the vendor origin
	form = strings.ReplaceAll(form, `="//`, `="https://`)
	form = strings.ReplaceAll(form, `="/`, `="`+c.AppsURL+`/`)
	form = strings.Replace(form, "</head>", validateScript, 1)

	bridge := &settingsBridge{
		html: form,
		done: make(chan error, 1),
		capture: func(raw []byte) error {
			bin, err := c.SettingsBinary(appGUID, version, firmwarePartNumber, locale, raw)
			if err != nil {
				return err
			}
			if err := os.WriteFile(outputPath, bin, 0644); err != nil {
				return errors.Wrapf(err, "failed to write the settings file to %s", outputPath)
			}
			return nil
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/", bridge.handleGet).Methods("GET")
	r.HandleFunc("/", bridge.handlePost).Methods("POST")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return errors.Wrap(err, "failed to open the settings bridge")
	}

	srv := &http.Server{Handler: r}
	go srv.Serve(ln)
	defer srv.Close()

	addr := "http://" + ln.Addr().String()
	log.WithField("url", addr).Info("waiting for the settings form to be validated in the browser")
	if err := OpenBrowser(addr); err != nil {
		return errors.Wrap(err, "failed to open the browser")
	}

	return <-bridge.done
}
