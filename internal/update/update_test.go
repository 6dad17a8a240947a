package update

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUpdateDescriptor(t *testing.T) {
	payload := json.RawMessage(`{
		"firmware_url": "https://s3.example.com/fw.fw?token=abc",
		"firmware_meta": {
			"uuid": "abc-123",
			"version": "1.1.0",
			"platform": "rpi4",
			"architecture": "arm",
			"product": "my-product"
		}
	}`)
	d, err := ParseDescriptor(payload)
	require.NoError(t, err)
	assert.Equal(t, "https://s3.example.com/fw.fw?token=abc", d.FirmwareURL)
	assert.Equal(t, "abc-123", d.FirmwareMeta.UUID)
	assert.Equal(t, "1.1.0", d.FirmwareMeta.Version)
	assert.Equal(t, "rpi4", d.FirmwareMeta.Platform)
}

func TestParseInvalidUpdateDescriptor(t *testing.T) {
	_, err := ParseDescriptor(json.RawMessage(`{"missing":"fields"}`))
	require.Error(t, err)
}

func TestProgressPercentBoundaries(t *testing.T) {
	total100 := int64(100)
	total0 := int64(0)

	assert.Equal(t, 0, ProgressPercent(0, &total100))
	assert.Equal(t, 50, ProgressPercent(50, &total100))
	assert.Equal(t, 100, ProgressPercent(100, &total100))
	assert.Equal(t, 100, ProgressPercent(200, &total100)) // clamped
	assert.Equal(t, 0, ProgressPercent(50, nil))
	assert.Equal(t, 0, ProgressPercent(50, &total0))
}

func TestDownloadSucceeds(t *testing.T) {
	const body = "firmware-bytes-here"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "19")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	var lastPct int
	var lastDownloaded int64
	path, err := Download(context.Background(), srv.Client(), srv.URL, dir, func(downloaded int64, total *int64) {
		lastDownloaded = downloaded
		lastPct = ProgressPercent(downloaded, total)
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "firmware.fw"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
	assert.Equal(t, int64(len(body)), lastDownloaded)
	assert.GreaterOrEqual(t, lastPct, 0)
}

func TestDownloadNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := Download(context.Background(), srv.Client(), srv.URL, dir, nil)
	require.Error(t, err)
	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, http.StatusNotFound, uerr.StatusCode)
}

func TestDownloadOverwritesExistingFile(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "firmware.fw")
	require.NoError(t, os.WriteFile(existing, []byte("stale-partial-data"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	_, err := Download(context.Background(), srv.Client(), srv.URL, dir, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestApplyFailureSurfacesExitCodeAndStderr(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell script fixture")
	}
	dir := t.TempDir()
	fakeFwup := filepath.Join(dir, "fwup")
	require.NoError(t, os.WriteFile(fakeFwup, []byte("#!/bin/sh\necho boom >&2\nexit 3\n"), 0o755))

	oldPath := os.Getenv("PATH")
	t.Cleanup(func() { os.Setenv("PATH", oldPath) })
	os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath)

	err := Apply(context.Background(), filepath.Join(dir, "firmware.fw"), "/dev/mmcblk0", "upgrade")
	require.Error(t, err)
	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, 3, uerr.ExitCode)
	assert.Contains(t, uerr.Stderr, "boom")
}

func TestApplySuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell script fixture")
	}
	dir := t.TempDir()
	fakeFwup := filepath.Join(dir, "fwup")
	require.NoError(t, os.WriteFile(fakeFwup, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	oldPath := os.Getenv("PATH")
	t.Cleanup(func() { os.Setenv("PATH", oldPath) })
	os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath)

	err := Apply(context.Background(), filepath.Join(dir, "firmware.fw"), "/dev/mmcblk0", "upgrade")
	require.NoError(t, err)
}

func TestDownloadAbortedByContextCancellation(t *testing.T) {
	started := make(chan struct{})
	blockUntil := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		w.Header().Set("Content-Length", "5")
		_, _ = w.Write([]byte("ab"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-blockUntil
	}))
	defer srv.Close()
	defer close(blockUntil)

	ctx, cancel := context.WithCancel(context.Background())
	dir := t.TempDir()

	errCh := make(chan error, 1)
	go func() {
		_, err := Download(ctx, srv.Client(), srv.URL, dir, nil)
		errCh <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("download did not abort after context cancellation")
	}
}

func TestApplyKilledByContextCancellation(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell script fixture")
	}
	dir := t.TempDir()
	fakeFwup := filepath.Join(dir, "fwup")
	require.NoError(t, os.WriteFile(fakeFwup, []byte("#!/bin/sh\nsleep 5\n"), 0o755))

	oldPath := os.Getenv("PATH")
	t.Cleanup(func() { os.Setenv("PATH", oldPath) })
	os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Apply(ctx, filepath.Join(dir, "firmware.fw"), "/dev/mmcblk0", "upgrade")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
}
