package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// File is the client configuration stored in ~/.tallybill/config.toml.
type File struct {
	Remote FileRemote `toml:"remote"`
	Local  FileLocal  `toml:"local"`
	Sync   FileSync   `toml:"sync"`
}

type FileRemote struct {
	Endpoint       string `toml:"endpoint"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type FileLocal struct {
	DBPath string `toml:"db_path"`
}

type FileSync struct {
	ProbeIntervalSeconds int `toml:"probe_interval_seconds"`
	RetryBaseMS          int `toml:"retry_base_ms"`
	RetryMaxMS           int `toml:"retry_max_ms"`
}

// Dir returns ~/.tallybill, creating it if needed.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".tallybill")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ReadFile parses the file at path. A missing file yields the zero File.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("cannot read config: %w", err)
	}
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("cannot parse config: %w", err)
	}
	return f, nil
}

func WriteFile(path string, f File) error {
	data, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// Set assigns a field by section.field key, e.g. "remote.endpoint".
func (f *File) Set(key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("key must use dot notation: section.field (e.g. remote.endpoint)")
	}

	number := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return 0, fmt.Errorf("%s must be a positive integer", key)
		}
		return n, nil
	}

	var err error
	switch section {
	case "remote":
		switch field {
		case "endpoint":
			f.Remote.Endpoint = value
		case "timeout_seconds":
			f.Remote.TimeoutSeconds, err = number()
		default:
			return fmt.Errorf("unknown field %q in section [remote]", field)
		}
	case "local":
		switch field {
		case "db_path":
			f.Local.DBPath = value
		default:
			return fmt.Errorf("unknown field %q in section [local]", field)
		}
	case "sync":
		switch field {
		case "probe_interval_seconds":
			f.Sync.ProbeIntervalSeconds, err = number()
		case "retry_base_ms":
			f.Sync.RetryBaseMS, err = number()
		case "retry_max_ms":
			f.Sync.RetryMaxMS, err = number()
		default:
			return fmt.Errorf("unknown field %q in section [sync]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: remote, local, sync)", section)
	}
	return err
}

func (f File) withDefaults() File {
	if f.Remote.Endpoint == "" {
		f.Remote.Endpoint = "http://127.0.0.1:8080/exec"
	}
	if f.Remote.TimeoutSeconds < 1 {
		f.Remote.TimeoutSeconds = 30
	}
	if f.Local.DBPath == "" {
		if dir, err := Dir(); err == nil {
			f.Local.DBPath = filepath.Join(dir, "tallybill.db")
		} else {
			f.Local.DBPath = "tallybill.db"
		}
	}
	if f.Sync.ProbeIntervalSeconds < 1 {
		f.Sync.ProbeIntervalSeconds = 5
	}
	if f.Sync.RetryBaseMS < 1 {
		f.Sync.RetryBaseMS = 2000
	}
	if f.Sync.RetryMaxMS < 1 {
		f.Sync.RetryMaxMS = 120000
	}
	return f
}
