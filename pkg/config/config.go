package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFilename = ".backendctl.yaml"

// File is the on-disk yaml shape. Zero values mean "use the default".
type File struct {
	Venv          string   `yaml:"venv,omitempty"`
	Host          string   `yaml:"host,omitempty"`
	Port          int      `yaml:"port,omitempty"`
	Reload        *bool    `yaml:"reload,omitempty"`
	App           string   `yaml:"app,omitempty"`
	InitCommand   []string `yaml:"init_command,omitempty"`
	ServerCommand []string `yaml:"server_command,omitempty"`
}

// Config is the resolved, immutable launch configuration. It is built once
// at startup and injected into the launcher.
type Config struct {
	Root string

	VenvPath string
	Host     string
	Port     int
	Reload   bool
	App      string

	InitCommand   []string
	ServerCommand []string // full override; empty means uvicorn argv from Host/Port/App
}

func DefaultPath(root string) string {
	return filepath.Join(root, DefaultConfigFilename)
}

func LoadFromFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrap(err, "parse config yaml")
	}
	return &f, nil
}

func LoadOptional(path string) (*File, error) {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, errors.Wrap(err, "stat config")
	}
	return LoadFromFile(path)
}

// Resolve fills in the defaults of the original launcher: venv under the
// root, uvicorn on 0.0.0.0:8000 with reload, init via "python init_db.py".
func (f *File) Resolve(root string) (Config, error) {
	if root == "" {
		return Config{}, errors.New("missing root")
	}

	cfg := Config{
		Root:   root,
		Host:   f.Host,
		Port:   f.Port,
		Reload: true,
		App:    f.App,
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return Config{}, errors.Errorf("invalid port %d", f.Port)
	}
	if f.Reload != nil {
		cfg.Reload = *f.Reload
	}
	if cfg.App == "" {
		cfg.App = "main:app"
	}

	venv := f.Venv
	if venv == "" {
		venv = "venv"
	}
	if !filepath.IsAbs(venv) {
		venv = filepath.Join(root, venv)
	}
	cfg.VenvPath = venv

	cfg.InitCommand = append([]string{}, f.InitCommand...)
	if len(cfg.InitCommand) == 0 {
		cfg.InitCommand = []string{"python", "init_db.py"}
	}
	cfg.ServerCommand = append([]string{}, f.ServerCommand...)

	return cfg, nil
}

// InitArgv returns the initialization step command line.
func (c Config) InitArgv() []string {
	return append([]string{}, c.InitCommand...)
}

// ServerArgv returns the server command line. The executable is resolved
// through PATH so an activated virtualenv wins over the system install.
func (c Config) ServerArgv() []string {
	if len(c.ServerCommand) > 0 {
		return append([]string{}, c.ServerCommand...)
	}
	argv := []string{"uvicorn", c.App, "--host", c.Host, "--port", strconv.Itoa(c.Port)}
	if c.Reload {
		argv = append(argv, "--reload")
	}
	return argv
}

// ListenAddr is the address a local readiness probe should dial. A wildcard
// bind is probed via loopback.
func (c Config) ListenAddr() string {
	host := c.Host
	if host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return host + ":" + strconv.Itoa(c.Port)
}
