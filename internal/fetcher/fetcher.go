package fetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/siderolabs/go-retry/retry"
	"github.com/spf13/afero"

	"github.com/oshokin/envforge/internal/envctx"
	"github.com/oshokin/envforge/internal/logger"
)

// Accelerator invocation parameters. The transfer is segmented across
// parallel connections; partial files are continued, IPv6 is skipped because
// mirrors with broken AAAA records stall the whole download.
const (
	acceleratorCommand      = "aria2c"
	acceleratorConnections  = "--max-connection-per-server=16"
	acceleratorSplit        = "--split=16"
	acceleratorMinSplitSize = "--min-split-size=1M"
	acceleratorNoIPv6       = "--disable-ipv6=true"
	acceleratorContinue     = "--continue=true"
)

const (
	// defaultRetryBudget bounds the total time spent retrying transient
	// failures on the fallback path.
	defaultRetryBudget = 30 * time.Second

	// defaultRetryUnit is the pause between fallback attempts.
	defaultRetryUnit = 2 * time.Second

	// artifactPermissions is the permission mask for downloaded artifacts.
	artifactPermissions = 0o644

	// createFileFlags truncates any partial file left by an interrupted run.
	createFileFlags = os.O_CREATE | os.O_TRUNC | os.O_WRONLY
)

var errBadHTTPStatus = errors.New("unexpected http status")

// commandRunner is the slice of the process runner used for the accelerator.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, int)
}

// Fetcher downloads remote artifacts.
type Fetcher struct {
	fs     afero.Fs
	log    *logger.Session
	run    commandRunner
	env    *envctx.Context
	client *http.Client

	retryBudget time.Duration
	retryUnit   time.Duration
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithRetryBudget overrides the total time spent retrying transient failures.
func WithRetryBudget(budget, unit time.Duration) Option {
	return func(f *Fetcher) {
		f.retryBudget = budget
		f.retryUnit = unit
	}
}

// WithHTTPClient overrides the fallback transfer client, mainly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// New creates a Fetcher. The environment context decides whether the
// accelerator path is available; the runner spawns it.
func New(
	fs afero.Fs,
	log *logger.Session,
	run commandRunner,
	env *envctx.Context,
	opts ...Option,
) *Fetcher {
	f := &Fetcher{
		fs:  fs,
		log: log,
		run: run,
		env: env,
		client: &http.Client{
			Transport: &http.Transport{
				// Refuse legacy TLS on artifact transfers.
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
		retryBudget: defaultRetryBudget,
		retryUnit:   defaultRetryUnit,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch retrieves uri into destPath. An existing destination is a no-op, so
// repeated sessions never transfer the same artifact twice.
func (f *Fetcher) Fetch(ctx context.Context, uri, destPath string) error {
	exists, err := afero.Exists(f.fs, destPath)
	if err != nil {
		return fmt.Errorf("check destination: %w", err)
	}

	if exists {
		f.log.Infof(ctx, "%s already present, skipping download", destPath)
		return nil
	}

	if acceleratorPath, found := f.env.Lookup(f.fs, acceleratorCommand); found {
		if f.fetchAccelerated(ctx, acceleratorPath, uri, destPath) {
			return nil
		}

		f.log.Warnf(ctx, "%s failed, falling back to direct download", acceleratorCommand)
	}

	return f.Direct(ctx, uri, destPath)
}

// fetchAccelerated runs the segmented download and reports whether it
// produced the destination file.
func (f *Fetcher) fetchAccelerated(ctx context.Context, acceleratorPath, uri, destPath string) bool {
	f.log.Infof(ctx, "downloading %s with %s", uri, acceleratorCommand)

	_, exitCode := f.run.Run(ctx, acceleratorPath,
		acceleratorConnections,
		acceleratorSplit,
		acceleratorMinSplitSize,
		acceleratorNoIPv6,
		acceleratorContinue,
		"--dir", filepath.Dir(destPath),
		"--out", filepath.Base(destPath),
		uri,
	)
	if exitCode != 0 {
		return false
	}

	exists, err := afero.Exists(f.fs, destPath)
	if err != nil || !exists {
		return false
	}

	f.log.OKf(ctx, "downloaded %s", destPath)

	return true
}

// Direct transfers uri to destPath with a plain HTTPS GET performed by the
// fetcher itself. It is also the bootstrap path used to obtain the
// accelerator in the first place. Transient failures are retried within the
// configured budget; a partial file never survives a failed transfer.
func (f *Fetcher) Direct(ctx context.Context, uri, destPath string) error {
	f.log.Infof(ctx, "downloading %s", uri)

	if err := f.fs.MkdirAll(filepath.Dir(destPath), logger.LogDirPermissions); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	err := retry.Constant(f.retryBudget, retry.WithUnits(f.retryUnit)).RetryWithContext(ctx,
		func(ctx context.Context) error {
			attemptErr := f.transferOnce(ctx, uri, destPath)
			if attemptErr == nil {
				return nil
			}

			if isRetryable(attemptErr) {
				f.log.Warnf(ctx, "transient download failure, will retry: %v", attemptErr)
				return retry.ExpectedError(attemptErr)
			}

			return attemptErr
		})
	if err != nil {
		return fmt.Errorf("download %s: %w", uri, err)
	}

	f.log.OKf(ctx, "downloaded %s", destPath)

	return nil
}

// transferOnce performs a single GET attempt.
func (f *Fetcher) transferOnce(ctx context.Context, uri, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, http.NoBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	response, err := f.client.Do(req)
	if err != nil {
		return err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %w", response.Status, errBadHTTPStatus)
	}

	file, err := f.fs.OpenFile(destPath, createFileFlags, artifactPermissions)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	if _, err = io.Copy(file, response.Body); err != nil {
		_ = file.Close()
		_ = f.fs.Remove(destPath)

		return fmt.Errorf("write destination: %w", err)
	}

	if err = file.Close(); err != nil {
		_ = f.fs.Remove(destPath)

		return fmt.Errorf("close destination: %w", err)
	}

	return nil
}

// transientPatterns match TCP-level and server-side failures worth retrying.
//
//nolint:gochecknoglobals // Shared immutable lookup table.
var transientPatterns = []string{
	"Internal Server Error", "Bad Gateway",
	"Service Unavailable", "Gateway Timeout",
	"connection reset by peer", "connection refused",
	"i/o timeout", "TLS handshake timeout",
	"unexpected EOF", "no such host",
}

// isRetryable reports whether the failure is transient.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	message := err.Error()
	for _, pattern := range transientPatterns {
		if strings.Contains(message, pattern) {
			return true
		}
	}

	return false
}
