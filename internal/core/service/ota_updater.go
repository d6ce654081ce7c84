package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/devkiraa/aura-smart-home/internal/core/domain"
	"github.com/devkiraa/aura-smart-home/internal/core/port"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const OTA_READ_BUFFER_SIZE = 4096

type OTAUpdaterConfig struct {
	RunningVersion string
	// Timeout bounds each manifest read.
	Timeout time.Duration
	// StallTimeout aborts a download that delivers no byte for this long.
	StallTimeout time.Duration
}

type OTAUpdater struct {
	cfg       OTAUpdaterConfig
	tree      port.CloudTree
	source    port.FirmwareSource
	slot      port.FirmwareSlot
	restarter port.Restarter
	logger    *zap.Logger
}

func NewOTAUpdater(cfg OTAUpdaterConfig, tree port.CloudTree, source port.FirmwareSource, slot port.FirmwareSlot,
	restarter port.Restarter, logger *zap.Logger) *OTAUpdater {
	return &OTAUpdater{
		cfg:       cfg,
		tree:      tree,
		source:    source,
		slot:      slot,
		restarter: restarter,
		logger:    logger.With(zap.String("component", "ota")),
	}
}

func (u *OTAUpdater) RunningVersion() string {
	return u.cfg.RunningVersion
}

// CheckForUpdate returns nil when the published version equals the running
// one. Versions are compared as plain strings, so an older published version
// is offered as well.
func (u *OTAUpdater) CheckForUpdate(ctx context.Context) (*domain.UpdateManifest, error) {
	latest, err := u.get(ctx, domain.FIRMWARE_LATEST_VERSION_PATH)
	if errors.Is(err, domain.ErrPathNotFound) {
		u.logger.Debug("ota@check: no firmware published")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read latest version: %w", err)
	}
	if latest == u.cfg.RunningVersion {
		u.logger.Debug("ota@check: up to date", zap.String("version", latest))
		return nil, nil
	}

	url, err := u.get(ctx, domain.FIRMWARE_DOWNLOAD_URL_PATH)
	if errors.Is(err, domain.ErrPathNotFound) || (err == nil && url == "") {
		return nil, fmt.Errorf("%w: version %s published without download url", domain.ErrMalformedRemoteData, latest)
	}
	if err != nil {
		return nil, fmt.Errorf("read download url: %w", err)
	}

	digest, err := u.get(ctx, domain.FIRMWARE_DIGEST_PATH)
	if err != nil && !errors.Is(err, domain.ErrPathNotFound) {
		return nil, fmt.Errorf("read digest: %w", err)
	}

	u.logger.Info("ota@check: update available", zap.String("running", u.cfg.RunningVersion), zap.String("latest", latest))
	return &domain.UpdateManifest{Version: latest, Url: url, Digest: digest}, nil
}

// Apply streams the image into the secondary slot and restarts into it. Any
// failure leaves the running image as the boot target.
func (u *OTAUpdater) Apply(ctx context.Context, manifest domain.UpdateManifest) error {
	session := domain.OTASession{
		Id:      uuid.NewString(),
		Version: manifest.Version,
		Phase:   domain.OTA_PHASE_DOWNLOADING,
	}
	logger := u.logger.With(zap.String("session", session.Id), zap.String("version", manifest.Version))

	body, size, err := u.source.Open(ctx, manifest.Url)
	if err != nil {
		return fmt.Errorf("open firmware download: %w", err)
	}
	defer body.Close()

	if size < 0 {
		return fmt.Errorf("%w: firmware download has no declared length", domain.ErrMalformedRemoteData)
	}
	session.ExpectedSize = size

	capacity, err := u.slot.Capacity()
	if err != nil {
		return fmt.Errorf("read slot capacity: %w", err)
	}
	if size > capacity {
		logger.Warn("ota@apply: image does not fit", zap.Int64("size", size), zap.Int64("capacity", capacity))
		return fmt.Errorf("%w: image %d bytes, slot %d bytes", domain.ErrInsufficientSpace, size, capacity)
	}

	writer, err := u.slot.Begin(manifest.Version, size)
	if err != nil {
		return fmt.Errorf("open slot: %w", err)
	}

	if err := u.download(body, writer, &session); err != nil {
		session.Phase = domain.OTA_PHASE_ABORTED
		if abortErr := writer.Abort(); abortErr != nil {
			logger.Warn("ota@apply: slot abort failed", zap.Error(abortErr))
		}
		logger.Warn("ota@apply: update abandoned", zap.Int64("written", session.BytesWritten), zap.Int64("expected", size), zap.Error(err))
		return err
	}

	session.Phase = domain.OTA_PHASE_VERIFYING
	if err := writer.Commit(manifest.Digest); err != nil {
		session.Phase = domain.OTA_PHASE_ABORTED
		_ = writer.Abort()
		logger.Warn("ota@apply: image rejected", zap.Error(err))
		if errors.Is(err, domain.ErrCorruptImage) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrCorruptImage, err)
	}

	session.Phase = domain.OTA_PHASE_READY
	logger.Info("ota@apply: image ready, restarting", zap.Int64("bytes", session.BytesWritten))
	return u.restarter.Restart(fmt.Sprintf("firmware update to %s", manifest.Version))
}

// CheckAndApply runs one polling round. updated is true when an update was
// installed.
func (u *OTAUpdater) CheckAndApply(ctx context.Context) (bool, error) {
	manifest, err := u.CheckForUpdate(ctx)
	if err != nil || manifest == nil {
		return false, err
	}
	if err := u.Apply(ctx, *manifest); err != nil {
		return false, err
	}
	return true, nil
}

func (u *OTAUpdater) download(body io.ReadCloser, writer io.Writer, session *domain.OTASession) error {
	var stalled atomic.Bool
	if u.cfg.StallTimeout > 0 {
		watchdog := time.AfterFunc(u.cfg.StallTimeout, func() {
			stalled.Store(true)
			body.Close()
		})
		defer watchdog.Stop()
		return u.copy(body, writer, session, func() { watchdog.Reset(u.cfg.StallTimeout) }, &stalled)
	}
	return u.copy(body, writer, session, func() {}, &stalled)
}

// copy only treats EOF with a matching byte count as success. Zero-byte reads
// are retried.
func (u *OTAUpdater) copy(body io.Reader, writer io.Writer, session *domain.OTASession, progress func(), stalled *atomic.Bool) error {
	buf := make([]byte, OTA_READ_BUFFER_SIZE)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			progress()
			if session.BytesWritten+int64(n) > session.ExpectedSize {
				return fmt.Errorf("%w: more than %d declared bytes received", domain.ErrCorruptImage, session.ExpectedSize)
			}
			if _, err := writer.Write(buf[:n]); err != nil {
				return fmt.Errorf("write slot: %w", err)
			}
			session.BytesWritten += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if stalled.Load() {
				return fmt.Errorf("%w: download stalled", domain.ErrConnectionLost)
			}
			return fmt.Errorf("%w: %v", domain.ErrConnectionLost, readErr)
		}
	}
	if session.BytesWritten != session.ExpectedSize {
		return fmt.Errorf("%w: %d of %d bytes", domain.ErrShortRead, session.BytesWritten, session.ExpectedSize)
	}
	return nil
}

func (u *OTAUpdater) get(ctx context.Context, path string) (string, error) {
	if u.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.cfg.Timeout)
		defer cancel()
	}
	return u.tree.Get(ctx, path)
}
