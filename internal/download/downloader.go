package download

import (
	"bytes"
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/net/http/httpproxy"
)

var (
	// ErrSizeMismatch is returned when a downloaded artifact's byte count
	// disagrees with the size the catalog declared for it
	ErrSizeMismatch = errors.New("size mismatch")
	// ErrChecksumMismatch is returned when a downloaded artifact's content
	// hash disagrees with the catalog checksum
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrBadStatus is returned on a non-success HTTP status
	ErrBadStatus = errors.New("bad server status")
)

// Download is a downloader object
type Download struct {
	URL      string
	MD5      string
	Size     int64 // expected byte count, < 0 when unknown
	DestName string
	Headers  map[string]string

	progress bool
	client   *http.Client
}

// NewDownload creates a new downloader
func NewDownload(proxy string, insecure, progress bool) *Download {
	return &Download{
		Size:     -1,
		progress: progress,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:             GetProxy(proxy),
				TLSClientConfig:   &tls.Config{InsecureSkipVerify: insecure},
				ForceAttemptHTTP2: true,
			},
		},
	}
}

// GetProxy takes either an input string or read the enviornment and returns a proxy function
func GetProxy(proxy string) func(*http.Request) (*url.URL, error) {
	if len(proxy) > 0 {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			log.WithError(err).Error("bad proxy url")
		}
		log.Debugf("proxy set to: %s", proxyURL)

		return http.ProxyURL(proxyURL)
	}

	conf := httpproxy.FromEnvironment()
	if len(conf.HTTPProxy) > 0 || len(conf.HTTPSProxy) > 0 {
		log.WithFields(log.Fields{
			"http_proxy":  conf.HTTPProxy,
			"https_proxy": conf.HTTPSProxy,
			"no_proxy":    conf.NoProxy,
		}).Debugf("proxy info from environment")
	}

	return http.ProxyFromEnvironment
}

// Do will download a url to a local file. It's efficient because it will
// write as it downloads and not load the whole file into memory. We pass an
// io.TeeReader into Copy() to report progress on the download. The size and
// MD5 checks run against the staging file; DestName is only created once
// both have passed.
func (d *Download) Do() error {

	req, err := http.NewRequest("GET", d.URL, nil)
	if err != nil {
		return errors.Wrap(err, "cannot create http request")
	}
	for k, v := range d.Headers {
		req.Header.Add(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to download file")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(ErrBadStatus, "server return status: %s", resp.Status)
	}

	if d.Size >= 0 && resp.ContentLength >= 0 && resp.ContentLength != d.Size {
		return errors.Wrapf(ErrSizeMismatch, "expected %d bytes, server advertises %d", d.Size, resp.ContentLength)
	}

	dest, err := os.Create(d.DestName + ".download")
	if err != nil {
		return errors.Wrapf(err, "cannot create %s", d.DestName+".download")
	}
	defer os.Remove(d.DestName + ".download")

	var p *mpb.Progress
	var reader io.Reader = resp.Body

	if d.progress && resp.ContentLength > 0 {
		p = mpb.New(
			mpb.WithWidth(60),
			mpb.WithRefreshRate(180*time.Millisecond),
		)
		bar := p.New(resp.ContentLength,
			mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("|"),
			mpb.PrependDecorators(
				decor.CountersKibiByte("\t% .2f / % .2f"),
			),
			mpb.AppendDecorators(
				decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "✅ "),
				decor.Name(" ] "),
				decor.AverageSpeed(decor.SizeB1024(0), "% .2f", decor.WCSyncWidth),
			),
		)
		reader = bar.ProxyReader(resp.Body)
	}

	tee := io.TeeReader(reader, dest)

	h := md5.New()
	written, err := io.Copy(h, tee)
	if err != nil {
		dest.Close()
		return errors.Wrap(err, "failed to copy body reader data")
	}

	if p != nil {
		p.Wait()
	}

	dest.Sync()
	if err := dest.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", d.DestName+".download")
	}

	if d.Size >= 0 && written != d.Size {
		return errors.Wrapf(ErrSizeMismatch, "expected %d bytes, downloaded %d", d.Size, written)
	}

	if len(d.MD5) > 0 {
		expected, err := hex.DecodeString(d.MD5)
		if err != nil {
			return errors.Wrapf(err, "bad md5 %q", d.MD5)
		}
		if !bytes.Equal(h.Sum(nil), expected) {
			log.WithFields(log.Fields{
				"expected": d.MD5,
				"actual":   fmt.Sprintf("%x", h.Sum(nil)),
			}).Debug("bad checksum")
			return errors.Wrapf(ErrChecksumMismatch, "md5 of %s is %x, expected %s", d.URL, h.Sum(nil), d.MD5)
		}
	}

	if err := os.Rename(d.DestName+".download", d.DestName); err != nil {
		return errors.Wrapf(err, "failed to rename %s to %s", d.DestName+".download", d.DestName)
	}

	return nil
}
