package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/wagiedev/toolbridge-go/internal/errors"
)

// Config holds configuration for executable discovery.
type Config struct {
	// Command is the executable name or path.
	Command string

	// Cwd is the directory a relative Command path is resolved against.
	Cwd string

	// ExtraDirs are searched after PATH, before the common locations.
	ExtraDirs []string

	// Logger is an optional logger for discovery operations.
	// If nil, a default no-op logger is used.
	Logger *slog.Logger
}

// Discoverer locates the tool server executable.
type Discoverer interface {
	// Discover returns the path of the executable or a *errors.LaunchError.
	Discover(ctx context.Context) (string, error)
}

type discoverer struct {
	cfg *Config
	log *slog.Logger
}

// Compile-time verification that discoverer implements Discoverer.
var _ Discoverer = (*discoverer)(nil)

// NewDiscoverer creates a new discoverer with the given configuration.
func NewDiscoverer(cfg *Config) Discoverer {
	if cfg == nil {
		cfg = &Config{}
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &discoverer{
		cfg: cfg,
		log: log,
	}
}

// Discover locates the executable.
func (d *discoverer) Discover(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &errors.LaunchError{Command: d.cfg.Command, Err: err}
	}

	if d.cfg.Command == "" {
		return "", &errors.LaunchError{Err: fmt.Errorf("no command configured")}
	}

	d.log.Debug("Discovering tool server executable", "command", d.cfg.Command)

	path, err := d.find()
	if err != nil {
		d.log.Error("Failed to find tool server executable", "command", d.cfg.Command, "error", err)

		return "", err
	}

	d.log.Debug("Found tool server executable", "path", path)

	return path, nil
}

func (d *discoverer) find() (string, error) {
	command := d.cfg.Command

	// Explicit paths are used as-is and never searched.
	if strings.ContainsRune(command, filepath.Separator) || strings.ContainsRune(command, '/') {
		path := command
		if !filepath.IsAbs(path) && d.cfg.Cwd != "" {
			path = filepath.Join(d.cfg.Cwd, path)
		}

		if isExecutableFile(path) {
			return path, nil
		}

		return "", &errors.LaunchError{Command: command, SearchedPaths: []string{path}}
	}

	if path, err := exec.LookPath(command); err == nil {
		return path, nil
	}

	searched := make([]string, 0, 4+len(d.cfg.ExtraDirs))
	searched = append(searched, "$PATH")

	dirs := append([]string{}, d.cfg.ExtraDirs...)
	dirs = append(dirs, "/usr/local/bin", "/usr/bin")

	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local/bin"))
	}

	for _, dir := range dirs {
		path := filepath.Join(dir, command)
		searched = append(searched, path)

		if isExecutableFile(path) {
			d.log.Debug("Found executable at common path", "path", path)

			return path, nil
		}
	}

	d.log.Warn("Tool server executable not found", "command", command, "searched_paths", searched)

	return "", &errors.LaunchError{Command: command, SearchedPaths: searched}
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}

	return info.Mode()&0o111 != 0 || filepath.Ext(path) == ".exe"
}
