// Package dataset keeps a local copy of the Open Food Facts parquet dump for
// the offline provider.
package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/noot-app/allergen-scanner/internal/config"
	"github.com/noot-app/allergen-scanner/internal/version"
	"github.com/sethvargo/go-retry"
)

// Metadata holds information about the downloaded dataset
type Metadata struct {
	SHA256       string    `json:"sha256"`
	DownloadedAt time.Time `json:"downloaded_at"`
	ETag         string    `json:"etag,omitempty"`
	Size         int64     `json:"size"`
}

// Manager handles dataset downloading and metadata management
type Manager struct {
	parquetURL         string
	parquetPath        string
	metadataPath       string
	lockPath           string
	disableRemoteCheck bool
	ignoreLock         bool

	client       *http.Client
	maxRetries   uint64
	backoff      time.Duration
	pollInterval time.Duration
	waitTimeout  time.Duration
	log          *slog.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithHTTPClient replaces the client used for HEAD and GET requests
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		if client != nil {
			m.client = client
		}
	}
}

// WithRetry sets the download retry budget and base backoff
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(m *Manager) {
		if maxRetries >= 0 {
			m.maxRetries = uint64(maxRetries)
		}
		if backoff > 0 {
			m.backoff = backoff
		}
	}
}

// WithWait sets how often and how long to wait for another instance's download
func WithWait(pollInterval, timeout time.Duration) Option {
	return func(m *Manager) {
		if pollInterval > 0 {
			m.pollInterval = pollInterval
		}
		if timeout > 0 {
			m.waitTimeout = timeout
		}
	}
}

// NewManager creates a new dataset manager from the offline dataset settings
func NewManager(cfg *config.Config, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		parquetURL:         cfg.ParquetURL,
		parquetPath:        cfg.ParquetPath,
		metadataPath:       cfg.MetadataPath,
		lockPath:           cfg.LockFile,
		disableRemoteCheck: cfg.DisableRemoteCheck,
		ignoreLock:         cfg.IgnoreLock,
		client:             &http.Client{Timeout: 30 * time.Minute},
		maxRetries:         3,
		backoff:            2 * time.Second,
		pollInterval:       2 * time.Second,
		waitTimeout:        10 * time.Minute,
		log:                logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ParquetPath returns where the dataset is stored locally
func (m *Manager) ParquetPath() string {
	return m.parquetPath
}

// EnsureDataset ensures the dataset is available and up-to-date
func (m *Manager) EnsureDataset(ctx context.Context) error {
	start := time.Now()
	m.log.Info("Ensuring dataset is available", "parquet_path", m.parquetPath)

	if _, err := os.Stat(m.parquetPath); err == nil {
		if m.disableRemoteCheck {
			m.log.Info("Remote checks disabled, using local dataset", "duration", time.Since(start))
			return nil
		}

		upToDate, err := m.isUpToDate(ctx)
		if err != nil {
			m.log.Warn("Failed to verify dataset freshness", "error", err)
		}
		if upToDate {
			m.log.Info("Dataset is up-to-date", "duration", time.Since(start))
			return nil
		}
	}

	if err := m.downloadWithLock(ctx); err != nil {
		return fmt.Errorf("failed to download dataset: %w", err)
	}

	m.log.Info("Dataset ensured", "duration", time.Since(start))
	return nil
}

// Status returns the metadata of the local copy, if one was recorded
func (m *Manager) Status() (*Metadata, error) {
	return m.loadMetadata()
}

// isUpToDate checks if the local dataset is up-to-date with the remote
func (m *Manager) isUpToDate(ctx context.Context) (bool, error) {
	start := time.Now()
	m.log.Debug("Checking if dataset is up-to-date")

	localMeta, err := m.loadMetadata()
	if err != nil {
		m.log.Debug("No local metadata found", "error", err)
		return false, nil
	}

	remoteMeta, err := m.getRemoteMetadata(ctx)
	if err != nil {
		return false, err
	}

	if remoteMeta.ETag != "" && localMeta.ETag != "" {
		upToDate := remoteMeta.ETag == localMeta.ETag
		m.log.Debug("ETag comparison", "local", localMeta.ETag, "remote", remoteMeta.ETag, "up_to_date", upToDate, "duration", time.Since(start))
		return upToDate, nil
	}

	upToDate := remoteMeta.Size == localMeta.Size
	m.log.Debug("Size comparison", "local", localMeta.Size, "remote", remoteMeta.Size, "up_to_date", upToDate, "duration", time.Since(start))
	return upToDate, nil
}

// getRemoteMetadata fetches metadata from the remote URL using HEAD request
func (m *Manager) getRemoteMetadata(ctx context.Context) (*Metadata, error) {
	start := time.Now()
	m.log.Debug("Fetching remote metadata", "url", m.parquetURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.parquetURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HEAD request failed with status: %d", resp.StatusCode)
	}

	meta := &Metadata{
		ETag: resp.Header.Get("ETag"),
		Size: resp.ContentLength,
	}

	m.log.Debug("Remote metadata fetched", "etag", meta.ETag, "size", meta.Size, "duration", time.Since(start))
	return meta, nil
}

// downloadWithLock downloads the dataset with file locking
func (m *Manager) downloadWithLock(ctx context.Context) error {
	start := time.Now()
	m.log.Info("Attempting to acquire download lock", "lock_path", m.lockPath)

	if m.ignoreLock {
		if _, err := os.Stat(m.lockPath); err == nil {
			m.log.Warn("IGNORE_LOCK enabled, forcefully removing existing lock file", "lock_path", m.lockPath)
			if err := os.Remove(m.lockPath); err != nil {
				m.log.Warn("Failed to remove lock file", "error", err)
			}
		}
	}

	lockFile, err := acquireLock(m.lockPath)
	if err != nil {
		if !m.ignoreLock {
			m.log.Info("Another instance is downloading, waiting", "lock_path", m.lockPath)
			return m.waitForDownload(ctx)
		}
		m.log.Warn("IGNORE_LOCK enabled but still failed to acquire lock, proceeding anyway", "error", err)
	}
	if lockFile != nil {
		defer releaseLock(lockFile, m.lockPath)
	}

	m.log.Info("Lock acquired, starting download", "duration", time.Since(start))

	if err := os.MkdirAll(filepath.Dir(m.parquetPath), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// The temp file lives next to the target so the final rename stays on one filesystem
	tmpPath := m.parquetPath + ".tmp"
	defer os.Remove(tmpPath)

	etag, err := m.downloadFile(ctx, tmpPath)
	if err != nil {
		return err
	}

	sha, err := computeSHA256(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to compute SHA256: %w", err)
	}

	stat, err := os.Stat(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	if err := os.Rename(tmpPath, m.parquetPath); err != nil {
		return fmt.Errorf("failed to move dataset into place: %w", err)
	}

	meta := &Metadata{
		SHA256:       sha,
		DownloadedAt: time.Now().UTC(),
		ETag:         etag,
		Size:         stat.Size(),
	}
	if err := m.saveMetadata(meta); err != nil {
		m.log.Warn("Failed to save metadata", "error", err)
	}

	m.log.Info("Dataset downloaded successfully", "size", stat.Size(), "sha256", shortHash(sha), "duration", time.Since(start))
	return nil
}

// downloadFile streams the remote file to filePath, retrying transient failures,
// and returns the ETag the server reported
func (m *Manager) downloadFile(ctx context.Context, filePath string) (string, error) {
	start := time.Now()
	m.log.Info("Downloading dataset", "url", m.parquetURL, "path", filePath)

	var etag string
	backoff := retry.WithMaxRetries(m.maxRetries, retry.NewExponential(m.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.parquetURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", version.UserAgent())

		resp, err := m.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Warn("Download request failed, retrying", "error", err)
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			m.log.Warn("Download failed, retrying", "status", resp.StatusCode)
			return retry.RetryableError(fmt.Errorf("download failed with status: %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("download failed with status: %d", resp.StatusCode)
		}

		file, err := os.Create(filePath)
		if err != nil {
			return err
		}
		defer file.Close()

		written, err := io.Copy(file, resp.Body)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("download interrupted after %d bytes: %w", written, err))
		}

		etag = resp.Header.Get("ETag")
		m.log.Info("Download completed", "bytes", written, "duration", time.Since(start))
		return nil
	})
	return etag, err
}

// waitForDownload waits for another instance to complete the download
func (m *Manager) waitForDownload(ctx context.Context) error {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	timeout := time.After(m.waitTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return errors.New("timeout waiting for download by other instance")
		case <-ticker.C:
			if _, err := os.Stat(m.lockPath); os.IsNotExist(err) {
				if _, err := os.Stat(m.parquetPath); err == nil {
					m.log.Info("Dataset now available after other instance completed")
					return nil
				}
			}
		}
	}
}

// loadMetadata loads metadata from the metadata file
func (m *Manager) loadMetadata() (*Metadata, error) {
	data, err := os.ReadFile(m.metadataPath)
	if err != nil {
		return nil, err
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

// saveMetadata saves metadata to the metadata file
func (m *Manager) saveMetadata(meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(m.metadataPath, data, 0644)
}

// acquireLock attempts to acquire an exclusive lock
func acquireLock(lockPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	// O_CREATE|O_EXCL will fail if file exists
	return os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
}

// releaseLock releases the lock file
func releaseLock(f *os.File, lockPath string) {
	f.Close()
	os.Remove(lockPath)
}

// computeSHA256 computes the SHA256 hash of a file
func computeSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

func shortHash(sha string) string {
	if len(sha) <= 16 {
		return sha
	}
	return sha[:16] + "..."
}
