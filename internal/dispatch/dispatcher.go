package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"convertd/internal/config"
	"convertd/internal/logging"
	"convertd/internal/objectstore"
	"convertd/internal/services"
)

const stageName = "dispatch"

// Options tunes a single conversion.
type Options struct {
	Quality    int    `json:"quality,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

// Request describes one conversion to run.
type Request struct {
	SourceKey    string
	SourceFormat string
	TargetFormat string
	OutputKey    string
	Options      Options
}

// Result reports the stored artifact.
type Result struct {
	Strategy    Strategy
	OutputKey   string
	ContentType string
	Size        int64
}

type commandRunner func(ctx context.Context, name string, args ...string) error

// Dispatcher runs conversions against an object store.
type Dispatcher struct {
	store      objectstore.Store
	workDir    string
	converters config.Converters
	logger     *slog.Logger
	run        commandRunner
	client     *http.Client
}

// New constructs a dispatcher using the configured workspace and converter tools.
func New(cfg *config.Config, store objectstore.Store, logger *slog.Logger) *Dispatcher {
	workDir := os.TempDir()
	var converters config.Converters
	if cfg != nil {
		converters = cfg.Converters
		if strings.TrimSpace(cfg.Paths.WorkspaceDir) != "" {
			workDir = cfg.Paths.WorkspaceDir
		}
	}
	return &Dispatcher{
		store:      store,
		workDir:    workDir,
		converters: converters,
		logger:     logging.NewComponentLogger(logger, "dispatcher"),
		run:        defaultCommandRunner,
		client:     &http.Client{},
	}
}

// WithCommandRunner injects a custom command runner (primarily for tests).
func (d *Dispatcher) WithCommandRunner(r commandRunner) {
	if d != nil && r != nil {
		d.run = r
	}
}

// WorkDir returns the parent directory of per-call workspaces.
func (d *Dispatcher) WorkDir() string { return d.workDir }

// Dispatch fetches the source, runs exactly one strategy and uploads the
// result under req.OutputKey. The workspace is removed on every return path.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	source := NormalizeFormat(req.SourceFormat)
	target := NormalizeFormat(req.TargetFormat)
	strategy, err := Resolve(source, target)
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(req.SourceKey) == "" || strings.TrimSpace(req.OutputKey) == "" {
		return Result{}, services.Wrap(services.ErrValidation, stageName, "request", "source and output keys are required", nil)
	}

	workspace, err := d.openWorkspace()
	if err != nil {
		return Result{}, err
	}
	defer d.releaseWorkspace(workspace)

	ext := filepath.Ext(req.SourceKey)
	if ext == "" {
		ext = "." + source
	}
	inPath := filepath.Join(workspace, "ly-in-"+uuid.NewString()+ext)
	outPath := filepath.Join(workspace, "ly-out-"+uuid.NewString()+"."+target)

	if err := d.store.Get(ctx, req.SourceKey, inPath); err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return Result{}, services.Wrap(services.ErrNotFound, stageName, "fetch source", req.SourceKey, err)
		}
		return Result{}, services.Wrap(services.ErrTransient, stageName, "fetch source", req.SourceKey, err)
	}

	d.logger.Debug("running conversion strategy",
		logging.String("strategy", string(strategy)),
		logging.String("source_format", source),
		logging.String("target_format", target),
	)

	switch strategy {
	case StrategyRaster:
		err = d.convertRaster(inPath, outPath, target, req.Options)
	case StrategyRasterEmbed:
		err = d.embedRaster(inPath, outPath)
	case StrategyDocument:
		err = d.convertDocument(ctx, workspace, inPath, outPath, target)
	case StrategyMedia:
		err = d.convertMedia(ctx, inPath, outPath, target, req.Options)
	}
	if err != nil {
		return Result{}, err
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, stageName, string(strategy), "no output produced", err)
	}
	if info.Size() == 0 {
		return Result{}, services.Wrap(services.ErrExternalTool, stageName, string(strategy), "output is empty", nil)
	}

	contentType := ContentType(target, outPath)
	size, err := d.store.Put(ctx, req.OutputKey, outPath, contentType)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, stageName, "store output", req.OutputKey, err)
	}

	return Result{
		Strategy:    strategy,
		OutputKey:   req.OutputKey,
		ContentType: contentType,
		Size:        size,
	}, nil
}

func (d *Dispatcher) openWorkspace() (string, error) {
	if err := os.MkdirAll(d.workDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrConfiguration, stageName, "workspace", "create workspace root", err)
	}
	dir, err := os.MkdirTemp(d.workDir, "job-")
	if err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "workspace", "create job workspace", err)
	}
	return dir, nil
}

func (d *Dispatcher) releaseWorkspace(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logging.WarnWithContext(d.logger, "workspace cleanup failed", "workspace_cleanup_failed",
			logging.String("path", dir),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the directory manually"),
		)
	}
}

// toolError classifies a failed subprocess or HTTP call.
func toolError(ctx context.Context, operation string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, stageName, operation, "conversion timed out", err)
	}
	return services.Wrap(services.ErrExternalTool, stageName, operation, "", err)
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", filepath.Base(name), err, strings.TrimSpace(string(output)))
	}
	return nil
}
