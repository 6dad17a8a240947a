// Package session implements one connect/join/heartbeat/dispatch
// attempt against the device channel: connect, join, then serve reads,
// heartbeats, and firmware update events until the channel closes or
// the caller's context is cancelled.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lawik/hub-link/internal/auth"
	"github.com/lawik/hub-link/internal/channel"
	"github.com/lawik/hub-link/internal/transport"
	"github.com/lawik/hub-link/internal/update"
)

const defaultDeviceAPIVersion = "2.3.0"
const joinTimeout = 30 * time.Second

// Config carries everything one session attempt needs. It is read-only
// for the lifetime of the attempt; the supervisor owns and reuses it
// across reconnects.
type Config struct {
	Host              string
	Identifier        string
	Auth              auth.Provider
	Firmware          update.FirmwareDescriptor
	DeviceAPIVersion  string
	HeartbeatInterval time.Duration
	FwupDevpath       string
	FwupTask          string
	DataDir           string
	HTTPClient        *http.Client
	Logger            *zap.Logger

	// urlOverride replaces the derived wss:// socket URL. It exists so
	// tests can point a session at a plain ws:// httptest.Server; real
	// callers never set it.
	urlOverride string
}

func (c Config) apiVersion() string {
	if c.DeviceAPIVersion == "" {
		return defaultDeviceAPIVersion
	}
	return c.DeviceAPIVersion
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func socketURL(host string) string {
	return fmt.Sprintf("wss://%s/device-socket/websocket", host)
}

// Run executes one connect-join-serve attempt. It returns nil on a clean
// termination (context cancellation or a benign server-initiated close)
// and a non-nil error otherwise. The caller (the supervisor) decides how
// to react: reset its backoff on nil, advance it on error.
func Run(ctx context.Context, cfg Config, events chan<- Event) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runID := uuid.New().String()
	log := cfg.logger().With(zap.String("run_id", runID), zap.String("identifier", cfg.Identifier))

	url := cfg.urlOverride
	if url == "" {
		url = socketURL(cfg.Host)
	}
	dialOpts := transport.DialOptions{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
	}

	switch cfg.Auth.Mode() {
	case auth.ModeMtls:
		tlsCfg, err := cfg.Auth.TLSConfig()
		if err != nil {
			return &Error{Code: "AUTH", Message: "failed to build tls config", Err: err}
		}
		dialOpts.TLSConfig = tlsCfg
	case auth.ModeSharedSecret:
		headers, err := cfg.Auth.ConnectHeaders(cfg.Identifier)
		if err != nil {
			return &Error{Code: "AUTH", Message: "failed to build auth headers", Err: err}
		}
		h := make(http.Header, len(headers)+1)
		for _, k := range auth.HeaderOrder {
			if v, ok := headers[k]; ok {
				h.Set(k, v)
			}
		}
		h.Set("Host", cfg.Host)
		dialOpts.ExtraHeaders = h
	}

	log.Info("connecting", zap.String("url", dialOpts.URL))
	conn, err := transport.Dial(dialOpts)
	if err != nil {
		return &Error{Code: "CONNECTION_FAILED", Message: "dial failed", Err: err}
	}
	defer conn.Close()

	emit(events, Event{Kind: Connected})

	topic := "device:" + cfg.Identifier
	builder := channel.NewBuilder(topic)

	writeCh := make(chan []byte, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for data := range writeCh {
			if werr := conn.WriteText(data); werr != nil {
				log.Warn("write failed", zap.Error(werr))
				return
			}
		}
	}()
	defer func() {
		close(writeCh)
		<-writerDone
	}()

	sendEnvelope := func(env channel.Envelope) error {
		raw, eerr := env.Encode()
		if eerr != nil {
			return eerr
		}
		select {
		case writeCh <- raw:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	joinEnv, err := builder.Join(joinPayload(cfg))
	if err != nil {
		return &Error{Code: "PROTOCOL", Message: "failed to build join frame", Err: err}
	}
	if err := sendEnvelope(joinEnv); err != nil {
		return &Error{Code: "TRANSPORT", Message: "failed to send join frame", Err: err}
	}
	log.Info("sent channel join", zap.String("topic", topic))

	if err := waitForJoinReply(conn, builder.JoinRef, log); err != nil {
		return err
	}
	log.Info("joined device channel")
	emit(events, Event{Kind: Joined})

	heartbeatInterval := cfg.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	heartbeatTimer := time.NewTimer(heartbeatInterval)
	defer heartbeatTimer.Stop()

	inboundCh := make(chan channel.Envelope, 8)
	readErrCh := make(chan error, 1)
	go func() {
		for {
			data, rerr := conn.ReadText()
			if rerr != nil {
				readErrCh <- rerr
				return
			}
			env, perr := channel.ParseEnvelope(data)
			if perr != nil {
				log.Warn("malformed frame", zap.Error(perr))
				continue
			}
			select {
			case inboundCh <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		updating   bool
		progressCh chan int
		resultCh   chan error
		lastPct    int
	)

	for {
		select {
		case <-ctx.Done():
			return nil

		case rerr := <-readErrCh:
			emit(events, Event{Kind: Disconnected, Reason: rerr.Error()})
			if errors.Is(rerr, transport.ErrClosed) {
				return nil
			}
			return &Error{Code: "TRANSPORT", Message: "connection lost", Err: rerr}

		case <-heartbeatTimer.C:
			hb := builder.Heartbeat()
			if err := sendEnvelope(hb); err != nil {
				return &Error{Code: "TRANSPORT", Message: "heartbeat send failed", Err: err}
			}
			heartbeatTimer.Reset(heartbeatInterval)

		case env := <-inboundCh:
			switch env.Event {
			case "update":
				if updating {
					log.Debug("update already in progress, ignoring new update event")
					continue
				}
				desc, derr := update.ParseDescriptor(env.Payload)
				if derr != nil {
					log.Warn("failed to parse update payload", zap.Error(derr))
					continue
				}
				log.Info("received firmware update",
					zap.String("uuid", desc.FirmwareMeta.UUID),
					zap.String("version", desc.FirmwareMeta.Version))
				emit(events, Event{Kind: UpdateAvailable, Descriptor: desc})

				updating = true
				lastPct = 0
				progressCh = make(chan int, 16)
				resultCh = make(chan error, 1)
				go runUpdate(ctx, cfg, desc, progressCh, events, resultCh)

			case "reboot":
				log.Info("received reboot command")
				ack, aerr := builder.Push("rebooting", map[string]interface{}{})
				if aerr == nil {
					_ = sendEnvelope(ack)
				}
				emit(events, Event{Kind: RebootRequested})

			case "phx_reply":
				ref := ""
				if env.MsgRef != nil {
					ref = *env.MsgRef
				}
				log.Debug("received reply", zap.String("ref", ref), zap.String("status", env.ReplyStatus()))

			case "phx_error":
				log.Warn("channel error", zap.String("topic", env.Topic))

			case "phx_close":
				log.Info("channel closed by server", zap.String("topic", env.Topic))
				emit(events, Event{Kind: Disconnected, Reason: "channel closed by server"})
				return &ChannelClosedError{}

			default:
				log.Debug("unhandled event", zap.String("event", env.Event))
			}

		case pct := <-progressCh:
			if pct > lastPct+4 || pct == 100 {
				lastPct = pct
				frame, ferr := builder.ProgressPush("fwup_progress", map[string]int{"value": pct})
				if ferr == nil {
					_ = sendEnvelope(frame)
				}
			}

		case uerr := <-resultCh:
			updating = false
			progressCh = nil
			resultCh = nil
			if uerr != nil {
				log.Warn("update failed", zap.Error(uerr))
				continue
			}
			status, serr := builder.Push("status_update", map[string]string{"status": "update-handled"})
			if serr == nil {
				_ = sendEnvelope(status)
			}
		}
	}
}

func joinPayload(cfg Config) map[string]string {
	return map[string]string{
		"device_api_version":    cfg.apiVersion(),
		"nerves_fw_uuid":         cfg.Firmware.UUID,
		"nerves_fw_version":      cfg.Firmware.Version,
		"nerves_fw_platform":     cfg.Firmware.Platform,
		"nerves_fw_architecture": cfg.Firmware.Architecture,
		"nerves_fw_product":      cfg.Firmware.Product,
	}
}

func waitForJoinReply(conn *transport.Conn, joinRef string, log *zap.Logger) error {
	deadline := time.Now().Add(joinTimeout)
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		data, err := conn.ReadText()
		if err != nil {
			return &Error{Code: "JOIN_TIMEOUT", Message: "no join reply received", Err: err}
		}
		env, perr := channel.ParseEnvelope(data)
		if perr != nil {
			log.Warn("malformed frame while awaiting join reply", zap.Error(perr))
			continue
		}
		if !env.IsReply() || env.MsgRef == nil || *env.MsgRef != joinRef {
			continue
		}
		if !env.ReplyOk() {
			return &JoinRejectedError{Reason: env.ReplyReason()}
		}
		return nil
	}
}

// runUpdate downloads and applies desc's firmware. ctx is the session's
// own context: cancelling it (session teardown) aborts the in-flight
// download and kills the fwup child process on a best-effort basis.
func runUpdate(ctx context.Context, cfg Config, desc update.Descriptor, progressCh chan<- int, events chan<- Event, resultCh chan<- error) {
	path, err := update.Download(ctx, cfg.httpClient(), desc.FirmwareURL, cfg.DataDir, func(downloaded int64, total *int64) {
		pct := update.ProgressPercent(downloaded, total)
		select {
		case progressCh <- pct:
		default:
		}
	})
	if err != nil {
		resultCh <- err
		return
	}
	emit(events, Event{Kind: FirmwareDownloaded, Path: path})

	devpath := cfg.FwupDevpath
	if devpath == "" {
		devpath = "/dev/mmcblk0"
	}
	task := cfg.FwupTask
	if task == "" {
		task = "upgrade"
	}
	if err := update.Apply(ctx, path, devpath, task); err != nil {
		resultCh <- err
		return
	}
	emit(events, Event{Kind: FirmwareApplied})
	resultCh <- nil
}

func emit(events chan<- Event, ev Event) {
	if events == nil {
		return
	}
	events <- ev
}
