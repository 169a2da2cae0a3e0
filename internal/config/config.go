// Package config holds server and agent configuration.
//
// Values start from Default*Config, are overlaid by an optional YAML file
// and finally by command-line flags in cmd/.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ServerConfig holds configuration for the clusterq server.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`          // Listen address (default ":8080")
	Log          LogConfig     `yaml:"log"`
	DBPath       string        `yaml:"db_path"`       // SQLite database path (default ~/.clusterq/clusterq.db, ":memory:" for testing)
	MetricsPath  string        `yaml:"metrics_path"`  // Prometheus exposition path
	UIPath       string        `yaml:"ui_path"`       // Dashboard mount point; empty disables it
	PollInterval time.Duration `yaml:"poll_interval"` // Scheduler tick interval
	JobTimeout   time.Duration `yaml:"job_timeout"`   // Scheduled/in-progress jobs silent this long are aborted
	HostTimeout  time.Duration `yaml:"host_timeout"`  // Hosts silent this long are marked lost

	AgentKeysFile string `yaml:"agent_keys_file"` // Optional YAML file of agent keys; empty disables agent auth
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		Log:          LogConfig{Level: "info", Format: "text"},
		MetricsPath:  "/metrics",
		UIPath:       "/ui",
		PollInterval: 2 * time.Second,
		JobTimeout:   10 * time.Minute,
		HostTimeout:  90 * time.Second,
	}
}

// Validate rejects configurations the server cannot run with.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.JobTimeout <= 0 {
		errs = append(errs, fmt.Errorf("job_timeout must be positive, got %s", c.JobTimeout))
	}
	if c.HostTimeout <= 0 {
		errs = append(errs, fmt.Errorf("host_timeout must be positive, got %s", c.HostTimeout))
	}
	if c.MetricsPath != "" && c.MetricsPath[0] != '/' {
		errs = append(errs, fmt.Errorf("metrics_path must start with '/', got %q", c.MetricsPath))
	}
	if c.UIPath != "" && (c.UIPath[0] != '/' || c.UIPath == "/") {
		errs = append(errs, fmt.Errorf("ui_path must start with '/' and not be the root, got %q", c.UIPath))
	}
	return errors.Join(errs...)
}

// AgentConfig holds configuration for a host agent.
type AgentConfig struct {
	ServerURL         string            `yaml:"server_url"`
	Name              string            `yaml:"name"` // Host identity (default: hostname)
	Address           string            `yaml:"address"`
	Labels            map[string]string `yaml:"labels"`
	HeartbeatInterval time.Duration     `yaml:"heartbeat_interval"`
	Shell             string            `yaml:"shell"`     // Interpreter for EXECUTE scripts
	WorkDir           string            `yaml:"workdir"`   // Working directory for scripts
	AgentKey          string            `yaml:"agent_key"` // Sent as X-Agent-Key when the server requires it
	Log               LogConfig         `yaml:"log"`
}

// DefaultAgentConfig returns sensible defaults.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		ServerURL:         "http://localhost:8080",
		HeartbeatInterval: 10 * time.Second,
		Shell:             "sh",
		Log:               LogConfig{Level: "info", Format: "text"},
	}
}

// Validate rejects configurations the agent cannot run with.
func (c AgentConfig) Validate() error {
	var errs []error
	if c.ServerURL == "" {
		errs = append(errs, errors.New("server_url must not be empty"))
	}
	if c.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat_interval must be positive, got %s", c.HeartbeatInterval))
	}
	if c.Shell == "" {
		errs = append(errs, errors.New("shell must not be empty"))
	}
	return errors.Join(errs...)
}

// LoadServerConfig reads a YAML file over DefaultServerConfig. An empty
// path returns the defaults.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadAgentConfig reads a YAML file over DefaultAgentConfig. An empty path
// returns the defaults.
func LoadAgentConfig(path string) (AgentConfig, error) {
	cfg := DefaultAgentConfig()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func load(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
