// Package update implements the firmware download-and-install pipeline:
// stream a .fw image to disk, then hand it to fwup.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Descriptor is the update event's payload: {firmware_url, firmware_meta}.
type Descriptor struct {
	FirmwareURL  string             `json:"firmware_url"`
	FirmwareMeta FirmwareDescriptor `json:"firmware_meta"`
}

// FirmwareDescriptor is the five-field firmware identity advertised on
// join and carried on every update event.
type FirmwareDescriptor struct {
	UUID         string `json:"uuid"`
	Version      string `json:"version"`
	Platform     string `json:"platform"`
	Architecture string `json:"architecture"`
	Product      string `json:"product"`
}

// Error is the update pipeline's typed error.
type Error struct {
	Code       string
	Message    string
	StatusCode int
	ExitCode   int
	Stderr     string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s (http %d)", e.Code, e.Message, e.StatusCode)
	case e.ExitCode != 0 || e.Stderr != "":
		return fmt.Sprintf("%s: %s (exit %d: %s)", e.Code, e.Message, e.ExitCode, e.Stderr)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// ParseDescriptor decodes an "update" event payload. Both fields are
// mandatory.
func ParseDescriptor(payload json.RawMessage) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(payload, &d); err != nil {
		return Descriptor{}, &Error{Code: "INVALID_MESSAGE", Message: "failed to parse update payload", Err: err}
	}
	if d.FirmwareURL == "" {
		return Descriptor{}, &Error{Code: "INVALID_MESSAGE", Message: "firmware_url is required"}
	}
	if d.FirmwareMeta == (FirmwareDescriptor{}) {
		return Descriptor{}, &Error{Code: "INVALID_MESSAGE", Message: "firmware_meta is required"}
	}
	return d, nil
}

// ProgressPercent computes the clamped [0,100] percentage for downloaded
// bytes against an optional known total. A nil or non-positive total
// means the total size is unknown, so progress is reported as 0.
func ProgressPercent(downloaded int64, total *int64) int {
	if total == nil || *total <= 0 {
		return 0
	}
	pct := int((downloaded * 100) / *total)
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// Download streams firmwareURL to <dataDir>/firmware.fw, invoking
// onProgress after every chunk with the bytes downloaded so far and the
// declared content length (nil if unknown). It always creates dataDir if
// absent and always overwrites any existing firmware.fw; there is no
// partial-file resumption. Cancelling ctx aborts the in-flight request;
// Download then returns a DOWNLOAD error and leaves the partial
// firmware.fw on disk.
func Download(ctx context.Context, client *http.Client, firmwareURL, dataDir string, onProgress func(downloaded int64, total *int64)) (string, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", &Error{Code: "DOWNLOAD", Message: "failed to create data directory", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, firmwareURL, nil)
	if err != nil {
		return "", &Error{Code: "DOWNLOAD", Message: "failed to build request", Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", &Error{Code: "DOWNLOAD", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{Code: "DOWNLOAD", Message: "non-2xx response", StatusCode: resp.StatusCode}
	}

	var total *int64
	if resp.ContentLength > 0 {
		total = &resp.ContentLength
	}

	destPath := filepath.Join(dataDir, "firmware.fw")
	file, err := os.Create(destPath)
	if err != nil {
		return "", &Error{Code: "DOWNLOAD", Message: "failed to create firmware file", Err: err}
	}
	defer file.Close()

	var downloaded int64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				return "", &Error{Code: "DOWNLOAD", Message: "failed to write firmware file", Err: writeErr}
			}
			downloaded += int64(n)
			if onProgress != nil {
				onProgress(downloaded, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", &Error{Code: "DOWNLOAD", Message: "stream read failed", Err: readErr}
		}
	}

	return destPath, nil
}

// Apply invokes the fwup installer on firmwarePath. Cancelling ctx kills
// the child process; Apply then returns within a second even if a
// grandchild still holds the output pipe open.
func Apply(ctx context.Context, firmwarePath, devpath, task string) error {
	cmd := exec.CommandContext(ctx, "fwup", "-a", "-d", devpath, "-i", firmwarePath, "-t", task)
	cmd.WaitDelay = time.Second
	var stderr []byte
	output, err := cmd.CombinedOutput()
	stderr = output
	if err != nil {
		exitCode := -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		return &Error{
			Code:     "INSTALL",
			Message:  "fwup failed",
			ExitCode: exitCode,
			Stderr:   string(stderr),
			Err:      err,
		}
	}
	return nil
}
