package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// File is the on-disk launch configuration for a tool server.
//
//	command: python
//	args: [mcp_server.py]
//	env_file: .env
//	call_timeout: 10s
type File struct {
	Command           string            `yaml:"command"`
	Args              []string          `yaml:"args"`
	Env               map[string]string `yaml:"env"`
	EnvFile           string            `yaml:"env_file"`
	Cwd               string            `yaml:"cwd"`
	InitializeTimeout time.Duration     `yaml:"initialize_timeout"`
	CallTimeout       time.Duration     `yaml:"call_timeout"`
	CloseGracePeriod  time.Duration     `yaml:"close_grace_period"`
	CacheTools        bool              `yaml:"cache_tools"`
	ProtocolVersion   string            `yaml:"protocol_version"`

	dir string
}

// LoadFile reads a YAML launch configuration.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if f.Command == "" {
		return nil, fmt.Errorf("parse config %s: command is required", path)
	}

	f.dir = filepath.Dir(path)

	return &f, nil
}

// Options converts the file into session options. Variables from EnvFile
// are loaded first; entries under env override them. A relative EnvFile or
// Cwd is resolved against the directory holding the config file.
func (f *File) Options() (*Options, error) {
	env := make(map[string]string, len(f.Env))

	if f.EnvFile != "" {
		vars, err := godotenv.Read(f.resolve(f.EnvFile))
		if err != nil {
			return nil, fmt.Errorf("read env file: %w", err)
		}

		maps.Copy(env, vars)
	}

	maps.Copy(env, f.Env)

	args := make([]string, len(f.Args))
	for i, arg := range f.Args {
		args[i] = os.ExpandEnv(arg)
	}

	opts := &Options{
		Command:          os.ExpandEnv(f.Command),
		Args:             args,
		Env:              env,
		CallTimeout:      f.CallTimeout,
		CloseGracePeriod: f.CloseGracePeriod,
		CacheTools:       f.CacheTools,
		ProtocolVersion:  f.ProtocolVersion,
	}

	if f.Cwd != "" {
		opts.Cwd = f.resolve(f.Cwd)
	}

	if f.InitializeTimeout > 0 {
		timeout := f.InitializeTimeout
		opts.InitializeTimeout = &timeout
	}

	return opts, nil
}

func (f *File) resolve(path string) string {
	if filepath.IsAbs(path) || f.dir == "" {
		return path
	}

	return filepath.Join(f.dir, path)
}
