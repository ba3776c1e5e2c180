package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/mutectl/internal/auth"
	"github.com/danmuck/mutectl/internal/oauth"
	"github.com/danmuck/mutectl/internal/protocol/session"
)

const (
	envClientID     = "MUTECTL_CLIENT_ID"
	envClientSecret = "MUTECTL_CLIENT_SECRET"
	envSettings     = "MUTECTL_SETTINGS"
)

type fileConfig struct {
	SettingsPath    string   `toml:"settings_path"`
	ClientID        string   `toml:"client_id"`
	ClientSecret    string   `toml:"client_secret"`
	Scopes          []string `toml:"scopes"`
	TokenURL        string   `toml:"token_url"`
	RedirectURI     string   `toml:"redirect_uri"`
	RequestTimeout  string   `toml:"request_timeout"`
	ExchangeTimeout string   `toml:"exchange_timeout"`
	PipeCandidates  int      `toml:"pipe_candidates"`
}

type appConfig struct {
	SettingsPath string
	ClientID     string
	ClientSecret string
	Scopes       []string
	OAuth        oauth.Config
	Session      session.Config
}

func defaultAppConfig() appConfig {
	return appConfig{
		SettingsPath: filepath.Join(configDir(), "settings.toml"),
		Scopes:       auth.DefaultScopes(),
		OAuth:        oauth.DefaultConfig(),
		Session:      session.DefaultConfig(),
	}
}

func defaultConfigPath() string {
	return filepath.Join(configDir(), "config.toml")
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "mutectl")
}

// loadAppConfig reads path over the defaults. A missing file is only
// tolerated when allowMissing is set.
func loadAppConfig(path string, allowMissing bool) (appConfig, error) {
	cfg := defaultAppConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	switch {
	case err == nil:
	case allowMissing && errors.Is(err, fs.ErrNotExist):
		return applyEnv(cfg), nil
	default:
		return appConfig{}, fmt.Errorf("load mutectl config: %w", err)
	}

	if meta.IsDefined("settings_path") {
		if v := strings.TrimSpace(raw.SettingsPath); v != "" {
			cfg.SettingsPath = expandHome(v)
		}
	}

	if meta.IsDefined("client_id") {
		cfg.ClientID = strings.TrimSpace(raw.ClientID)
	}

	if meta.IsDefined("client_secret") {
		cfg.ClientSecret = strings.TrimSpace(raw.ClientSecret)
	}

	if meta.IsDefined("scopes") {
		if scopes := normalizeScopes(raw.Scopes); len(scopes) > 0 {
			cfg.Scopes = scopes
		}
	}

	if meta.IsDefined("token_url") {
		cfg.OAuth.TokenURL = strings.TrimSpace(raw.TokenURL)
	}

	if meta.IsDefined("redirect_uri") {
		cfg.OAuth.RedirectURI = strings.TrimSpace(raw.RedirectURI)
	}

	if meta.IsDefined("request_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RequestTimeout))
		if err != nil {
			return appConfig{}, fmt.Errorf("parse request_timeout: %w", err)
		}
		cfg.Session.RequestTimeout = d
	}

	if meta.IsDefined("exchange_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ExchangeTimeout))
		if err != nil {
			return appConfig{}, fmt.Errorf("parse exchange_timeout: %w", err)
		}
		cfg.OAuth.Timeout = d
	}

	if meta.IsDefined("pipe_candidates") {
		if raw.PipeCandidates < 1 {
			return appConfig{}, fmt.Errorf("pipe_candidates must be positive: %d", raw.PipeCandidates)
		}
		cfg.Session.Transport.Candidates = raw.PipeCandidates
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return appConfig{}, fmt.Errorf("unknown config key: %s", undecoded[0])
	}

	return applyEnv(cfg), nil
}

func applyEnv(cfg appConfig) appConfig {
	if v := strings.TrimSpace(os.Getenv(envClientID)); v != "" {
		cfg.ClientID = v
	}
	if v := strings.TrimSpace(os.Getenv(envClientSecret)); v != "" {
		cfg.ClientSecret = v
	}
	if v := strings.TrimSpace(os.Getenv(envSettings)); v != "" {
		cfg.SettingsPath = expandHome(v)
	}
	return cfg
}

func normalizeScopes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, scope := range in {
		v := strings.TrimSpace(scope)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
