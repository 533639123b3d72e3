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

package cloud

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

func TestValidateURLRejectsUnsafeTargets(t *testing.T) {
	d := NewDownloader(Limits{})
	d.lookup = func(host string) ([]net.IP, error) {
		// Public hostname for the happy path, internal one for the rebinding case.
		if host == "internal.example.com" {
			return []net.IP{net.ParseIP("10.0.0.5")}, nil
		}
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}

	valid := []string{
		"https://media.example.com/frames/0001.jpg",
		"http://media.example.com/video.mp4",
	}
	for _, u := range valid {
		assert.NoError(t, d.ValidateURL(u), u)
	}

	invalid := []string{
		"ftp://media.example.com/video.mp4",
		"file:///etc/passwd",
		"http://169.254.169.254/computeMetadata/v1/",
		"http://127.0.0.1/secret",
		"http://[::1]/secret",
		"http://10.0.0.8/file.jpg",
		"http://192.168.1.1/file.jpg",
		"http://0.0.0.0/file.jpg",
		"http://internal.example.com/file.jpg",
	}
	for _, u := range invalid {
		err := d.ValidateURL(u)
		require.Error(t, err, u)
		var se *model.SecurityError
		assert.ErrorAs(t, err, &se, u)
	}
}

func TestDownloadFetchesToDirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	d := NewDownloader(Limits{DownloadRateLimit: 100, DownloadBurst: 10})
	// The test server listens on loopback, which validation rejects on
	// purpose. Accept it just for this test.
	d.lookup = func(string) ([]net.IP, error) { return []net.IP{net.ParseIP("93.184.216.34")}, nil }
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	target := "http://host.example.com:" + u.Port() + "/file.bin"
	// Rewrite the request host back to the local server through a transport
	// override so no real network is touched.
	d.client.Transport = &http.Transport{Proxy: func(*http.Request) (*url.URL, error) { return u, nil }}

	dir := t.TempDir()
	path, err := d.Download(context.Background(), target, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "file.bin"), path)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(raw))
}
