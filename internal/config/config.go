// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for the chat widget.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - path passed explicitly by the embedder
//   - ~/.ragchat/config.toml
//   - Built-in defaults
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/morganforge/ragchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete widget configuration.
type Config struct {
	Version string `toml:"version"`

	// Backend connection settings
	Backend BackendConfig `toml:"backend"`

	// Chat request tuning
	Chat ChatConfig `toml:"chat"`

	// Access gate configuration
	Gates GatesConfig `toml:"gates"`

	// Local persistence configuration
	Store StoreConfig `toml:"store"`

	// UI configuration
	UI UIConfig `toml:"ui"`

	// Locale is the catalogue to use for widget copy ("en", "ru", ...).
	Locale string `toml:"locale"`
}

// BackendConfig contains the RAG backend connection settings.
type BackendConfig struct {
	// URL is the base URL of the backend, e.g. "https://example.com".
	URL string `toml:"url"`
	// Token is the bearer token sent with every request.
	Token string `toml:"token"`
	// StreamPath is the streaming chat endpoint, joined to URL.
	StreamPath string `toml:"stream_path"`
	// CaptchaPath is the challenge endpoint; verification POSTs to
	// CaptchaPath + "/verify".
	CaptchaPath string `toml:"captcha_path"`
	// AgentID identifies this deployment to the captcha endpoint.
	AgentID string `toml:"agent_id"`
	// ConsentPath receives best-effort agreement acceptance records.
	ConsentPath string `toml:"consent_path"`
	// Hostname scopes agreement consent records. Empty means derive
	// it from URL.
	Hostname string `toml:"hostname"`
}

// ChatConfig contains per-request tuning sent to the backend.
type ChatConfig struct {
	// MaxSimilarNumber is the retrieval depth requested per message.
	MaxSimilarNumber int `toml:"max_similar_number"`
	// LastMessagesContextNumber is how many trailing conversation
	// messages the backend should consider.
	LastMessagesContextNumber int `toml:"last_messages_context_number"`
}

// GatesConfig controls the pre-chat access gates. Gates run in a fixed
// order: welcome question, then captcha, then agreements. Each gate is
// skipped when disabled.
type GatesConfig struct {
	// WelcomeEnabled shows a configured opening question before the
	// first message. The visitor's answer becomes their first message.
	WelcomeEnabled bool `toml:"welcome_enabled"`
	// WelcomeQuestion is the opening question text.
	WelcomeQuestion string `toml:"welcome_question"`
	// CaptchaEnabled requires a server-issued challenge before chat.
	CaptchaEnabled bool `toml:"captcha_enabled"`
	// AgreementsEnabled requires accepting all agreements before chat.
	AgreementsEnabled bool        `toml:"agreements_enabled"`
	Agreements        []Agreement `toml:"agreements"`
}

// Agreement is a single document the visitor must accept.
type Agreement struct {
	ID    string `toml:"id"`
	Title string `toml:"title"`
	URL   string `toml:"url"`
}

// StoreConfig selects the local persistence backend.
type StoreConfig struct {
	// Backend is "file" or "sqlite".
	Backend string `toml:"backend"`
	// Dir overrides the state directory (default ~/.ragchat/state).
	Dir string `toml:"dir"`
}

// UIConfig contains presentation settings.
type UIConfig struct {
	// Layout is "floating", "sidebar", or "showcase".
	Layout string `toml:"layout"`
	// Width and Height are the initial chat window dimensions in
	// terminal cells. Zero means use the layout defaults.
	Width  int `toml:"width"`
	Height int `toml:"height"`
}

// Layout modes.
const (
	LayoutFloating = "floating"
	LayoutSidebar  = "sidebar"
	LayoutShowcase = "showcase"
)

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Backend: BackendConfig{
			URL:         "",
			Token:       "",
			StreamPath:  "/api/v1/chat",
			CaptchaPath: "/api/v1/captcha",
			ConsentPath: "/api/v1/consents",
		},

		Chat: ChatConfig{
			MaxSimilarNumber:          20,
			LastMessagesContextNumber: 20,
		},

		Gates: GatesConfig{
			WelcomeEnabled:    false,
			WelcomeQuestion:   "",
			CaptchaEnabled:    false,
			AgreementsEnabled: false,
		},

		Store: StoreConfig{
			Backend: "file",
		},

		UI: UIConfig{
			Layout: LayoutFloating,
		},

		Locale: "en",
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the widget configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".ragchat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) because
// they carry the backend bearer token.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads configuration from the default config file, falling back
// to defaults when the file does not exist. Environment overrides are
// applied last, then the result is validated.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from an explicit TOML file.
func LoadFromPath(path string) (*Config, error) {
	// SECURITY: Check and fix file permissions if needed
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode TOML file: %w", err)
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to the default config file with secure permissions.
func Save(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, []byte(buf.String()), 0600)
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides. Environment
// always wins over file values so tokens can stay out of config files.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RAGCHAT_BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("RAGCHAT_TOKEN"); v != "" {
		c.Backend.Token = v
	}
	if v := os.Getenv("RAGCHAT_LOCALE"); v != "" {
		c.Locale = v
	}
	if v := os.Getenv("RAGCHAT_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors aggregates all validation failures.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return "config validation failed: " + strings.Join(msgs, "; ")
}

// Validate checks the configuration for consistency. It returns a
// ValidateErrors listing every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Backend.URL != "" {
		if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{"backend.url", "must be an absolute URL"})
		}
	}
	if c.Backend.StreamPath == "" {
		errs = append(errs, ValidationError{"backend.stream_path", "must not be empty"})
	}
	if c.Chat.MaxSimilarNumber <= 0 {
		errs = append(errs, ValidationError{"chat.max_similar_number", "must be positive"})
	}
	if c.Chat.LastMessagesContextNumber <= 0 {
		errs = append(errs, ValidationError{"chat.last_messages_context_number", "must be positive"})
	}
	if c.Gates.WelcomeEnabled && strings.TrimSpace(c.Gates.WelcomeQuestion) == "" {
		errs = append(errs, ValidationError{"gates.welcome_question", "required when the welcome gate is enabled"})
	}
	if c.Gates.AgreementsEnabled {
		if len(c.Gates.Agreements) == 0 {
			errs = append(errs, ValidationError{"gates.agreements", "at least one agreement required when the gate is enabled"})
		}
		for i, a := range c.Gates.Agreements {
			if a.ID == "" {
				errs = append(errs, ValidationError{fmt.Sprintf("gates.agreements[%d].id", i), "must not be empty"})
			}
		}
	}
	switch c.Store.Backend {
	case "file", "sqlite":
	default:
		errs = append(errs, ValidationError{"store.backend", `must be "file" or "sqlite"`})
	}
	switch c.UI.Layout {
	case LayoutFloating, LayoutSidebar, LayoutShowcase:
	default:
		errs = append(errs, ValidationError{"ui.layout", `must be "floating", "sidebar", or "showcase"`})
	}
	if c.UI.Width < 0 || c.UI.Height < 0 {
		errs = append(errs, ValidationError{"ui", "dimensions must not be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ConsentHostname returns the hostname used to scope agreement consent
// records: the configured hostname, the backend host, or "localhost".
func (c *Config) ConsentHostname() string {
	if c.Backend.Hostname != "" {
		return c.Backend.Hostname
	}
	if u, err := url.Parse(c.Backend.URL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return "localhost"
}

// StreamURL returns the absolute streaming chat endpoint.
func (c *Config) StreamURL() string {
	return strings.TrimRight(c.Backend.URL, "/") + c.Backend.StreamPath
}

// CaptchaURL returns the absolute captcha challenge endpoint.
func (c *Config) CaptchaURL() string {
	return strings.TrimRight(c.Backend.URL, "/") + c.Backend.CaptchaPath
}

// ConsentURL returns the absolute consent recording endpoint.
func (c *Config) ConsentURL() string {
	return strings.TrimRight(c.Backend.URL, "/") + c.Backend.ConsentPath
}
