// Copyright 2025 OpenLabel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Remote media downloader. Every user-supplied URL is validated before any
// connection is opened: only http and https schemes are accepted, and hosts
// that are (or resolve to) loopback, private, link-local or unspecified
// addresses are rejected. The link-local check is what keeps a crafted URL
// from reaching the instance metadata endpoint. Downloads share a token
// bucket so a task with many remote files cannot saturate egress.
//
// Structs:
//   - Downloader: rate-limited HTTP fetcher with URL validation.
//
// Functions:
//   - NewDownloader: constructor from the Limits configuration.
//   - ValidateURL: the pre-connection safety check.
//   - Download: fetches one URL into a directory.
package cloud

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// Downloader fetches remote media files with a shared rate limit.
type Downloader struct {
	client  *http.Client
	limiter *rate.Limiter
	// lookup resolves a hostname to addresses. Swappable in tests.
	lookup func(host string) ([]net.IP, error)
}

// NewDownloader builds a downloader from the configured limits. A zero rate
// limit means unlimited.
//
// Inputs:
//   - limits: the outbound traffic bounds from configuration.
//
// Outputs:
//   - *Downloader: the configured downloader.
func NewDownloader(limits Limits) *Downloader {
	limit := rate.Inf
	if limits.DownloadRateLimit > 0 {
		limit = rate.Limit(limits.DownloadRateLimit)
	}
	burst := limits.DownloadBurst
	if burst < 1 {
		burst = 1
	}
	timeout := time.Duration(limits.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Downloader{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		lookup:  net.LookupIP,
	}
}

// ValidateURL checks a user-supplied URL before any connection is opened.
// Non-http schemes, empty hosts, and hosts that are or resolve to loopback,
// private, link-local or unspecified addresses all fail with a
// SecurityError.
func (d *Downloader) ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return model.NewSecurityError("malformed url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return model.NewSecurityError("unsupported url scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return model.NewSecurityError("url %q has no host", raw)
	}

	// A literal address is judged directly; a hostname is resolved and every
	// address it maps to must pass.
	if addr, err := netip.ParseAddr(host); err == nil {
		return checkAddr(host, addr)
	}
	ips, err := d.lookup(host)
	if err != nil {
		return model.NewSecurityError("cannot resolve host %q", host)
	}
	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			return model.NewSecurityError("unparseable address for host %q", host)
		}
		if err := checkAddr(host, addr.Unmap()); err != nil {
			return err
		}
	}
	return nil
}

func checkAddr(host string, addr netip.Addr) error {
	switch {
	case addr.IsLoopback():
		return model.NewSecurityError("host %q is a loopback address", host)
	case addr.IsPrivate():
		return model.NewSecurityError("host %q is a private address", host)
	case addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast():
		return model.NewSecurityError("host %q is a link-local address", host)
	case addr.IsUnspecified():
		return model.NewSecurityError("host %q is an unspecified address", host)
	}
	return nil
}

// Download validates the URL, waits for a rate token, and fetches the body
// into destDir under the last path element of the URL. Network and HTTP
// failures surface as TransientMediaError so callers can distinguish them
// from rejected URLs.
//
// Inputs:
//   - ctx: governs the rate wait and the request.
//   - rawURL: the remote file location.
//   - destDir: the directory the file is written into.
//
// Outputs:
//   - string: the path of the downloaded file.
//   - error: SecurityError, TransientMediaError or a filesystem error.
func (d *Downloader) Download(ctx context.Context, rawURL string, destDir string) (string, error) {
	if err := d.ValidateURL(rawURL); err != nil {
		return "", err
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", &model.TransientMediaError{Reason: fmt.Sprintf("fetch %s", rawURL), Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", &model.TransientMediaError{Reason: fmt.Sprintf("fetch %s: status %d", rawURL, resp.StatusCode)}
	}

	u, _ := url.Parse(rawURL)
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = "download"
	}
	dest := filepath.Join(destDir, name)
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return "", &model.TransientMediaError{Reason: fmt.Sprintf("read body of %s", rawURL), Cause: err}
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return dest, nil
}
