package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"

	"github.com/me/clusterq/pkg/model"
	"gopkg.in/yaml.v3"
)

const ctxKeyAgentAuth ctxKey = "agent_auth"

// agentKeysEnv holds additional agent keys as JSON: {"key": ["host-*"]}.
const agentKeysEnv = "CLUSTERQ_AGENT_KEYS"

// AgentAuthContext holds authenticated agent info for a request.
type AgentAuthContext struct {
	KeyID string   // Hash of the key (for logging, not the raw key)
	Hosts []string // Host name patterns this key may act for
}

// AgentAuthFromContext extracts the AgentAuthContext from request context.
func AgentAuthFromContext(ctx context.Context) *AgentAuthContext {
	if ac, ok := ctx.Value(ctxKeyAgentAuth).(*AgentAuthContext); ok {
		return ac
	}
	return nil
}

// AgentKeyConfig maps agent keys to the hosts they may act for.
type AgentKeyConfig struct {
	Keys map[string]AgentKeyEntry `yaml:"keys"`
}

// AgentKeyEntry defines the host patterns and metadata for an agent key.
type AgentKeyEntry struct {
	Hosts       []string `yaml:"hosts"` // path.Match patterns; empty allows any host
	Description string   `yaml:"description,omitempty"`
}

// LoadAgentKeyConfig loads agent keys from a YAML file and the
// CLUSTERQ_AGENT_KEYS environment variable. An empty path skips the file.
func LoadAgentKeyConfig(file string) (*AgentKeyConfig, error) {
	cfg := &AgentKeyConfig{Keys: make(map[string]AgentKeyEntry)}

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read agent keys: %w", err)
		}
		var fileCfg AgentKeyConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parse agent keys %s: %w", file, err)
		}
		for k, v := range fileCfg.Keys {
			cfg.Keys[k] = v
		}
	}

	if envVal := os.Getenv(agentKeysEnv); envVal != "" {
		var envKeys map[string][]string
		if err := json.Unmarshal([]byte(envVal), &envKeys); err != nil {
			return nil, fmt.Errorf("parse %s: %w", agentKeysEnv, err)
		}
		for key, hosts := range envKeys {
			cfg.Keys[key] = AgentKeyEntry{Hosts: hosts}
		}
	}

	return cfg, nil
}

// ValidateKey returns the entry for key, or nil if the key is unknown.
func (c *AgentKeyConfig) ValidateKey(key string) *AgentKeyEntry {
	if entry, ok := c.Keys[key]; ok {
		return &entry
	}
	return nil
}

// IsEnabled returns true if any agent keys are configured.
func (c *AgentKeyConfig) IsEnabled() bool {
	return c != nil && len(c.Keys) > 0
}

// hashKey creates a short hash of the key for logging purposes.
func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:8])
}

// agentAuthMiddleware validates the X-Agent-Key header on agent endpoints.
// With no keys configured every request is let through.
func agentAuthMiddleware(keyConfig *AgentKeyConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !keyConfig.IsEnabled() {
				ctx := context.WithValue(r.Context(), ctxKeyAgentAuth, &AgentAuthContext{KeyID: "none"})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			reqID := RequestIDFromContext(r.Context())
			key := r.Header.Get("X-Agent-Key")
			if key == "" {
				respondError(w, reqID, http.StatusUnauthorized, &model.APIError{
					Code:    model.ErrUnauthorized,
					Message: "agent authentication required (X-Agent-Key header missing)",
				})
				return
			}

			entry := keyConfig.ValidateKey(key)
			if entry == nil {
				logger.Warn("invalid agent key", "key_hash", hashKey(key))
				respondError(w, reqID, http.StatusUnauthorized, &model.APIError{
					Code:    model.ErrUnauthorized,
					Message: "invalid agent key",
				})
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyAgentAuth, &AgentAuthContext{
				KeyID: hashKey(key),
				Hosts: entry.Hosts,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CanActFor reports whether the authenticated agent may act for host.
func (c *AgentAuthContext) CanActFor(host string) bool {
	if c == nil {
		return false
	}
	if len(c.Hosts) == 0 {
		return true
	}
	for _, pattern := range c.Hosts {
		if ok, _ := path.Match(pattern, host); ok {
			return true
		}
	}
	return false
}

// requireHost rejects the request with 403 unless the agent may act for
// host. It returns false when a response was written.
func requireHost(w http.ResponseWriter, r *http.Request, host string) bool {
	if AgentAuthFromContext(r.Context()).CanActFor(host) {
		return true
	}
	respondError(w, RequestIDFromContext(r.Context()), http.StatusForbidden, &model.APIError{
		Code:    model.ErrForbidden,
		Message: "agent key does not allow acting for host: " + host,
	})
	return false
}
