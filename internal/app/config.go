package app

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

type fileConfig struct {
	Backend     string                `toml:"backend"`
	BaseURL     string                `toml:"base_url"`
	Fixture     string                `toml:"fixture"`
	HolidaysICS string                `toml:"holidays_ics"`
	TZ          string                `toml:"tz"`
	WeekStart   string                `toml:"week_start"`
	Output      string                `toml:"output"`
	Fields      string                `toml:"fields"`
	StateDB     string                `toml:"state_db"`
	Listen      string                `toml:"listen"`
	Refresh     string                `toml:"refresh"`
	LogLevel    string                `toml:"log_level"`
	Timeout     string                `toml:"timeout"`
	Profile     string                `toml:"profile"`
	Profiles    map[string]fileConfig `toml:"profiles"`
}

func resolveGlobalOptions(cmd *cobra.Command, defaults *globalOptions) (*globalOptions, error) {
	resolved := *defaults

	profile := firstNonEmpty(env("TCAL_PROFILE"), defaults.Profile)
	if flagValueChanged(cmd, "profile") {
		profile = defaults.Profile
	}
	if profile == "" {
		profile = "default"
	}
	resolved.Profile = profile

	userPath := defaultUserConfigPath()
	projectPath := ".tcal.toml"
	configPath := firstNonEmpty(env("TCAL_CONFIG"), userPath)
	if flagValueChanged(cmd, "config") {
		configPath = defaults.Config
	}

	if cfg, ok := readConfigFile(userPath); ok {
		applyFileConfig(&resolved, cfg, profile)
	}
	if cfg, ok := readConfigFile(projectPath); ok {
		applyFileConfig(&resolved, cfg, profile)
	}
	if configPath != "" && configPath != userPath && configPath != projectPath {
		if cfg, ok := readConfigFile(configPath); ok {
			applyFileConfig(&resolved, cfg, profile)
		}
	}

	applyEnv(&resolved)
	applyFlags(cmd, &resolved, defaults)

	if resolved.Config == "" {
		resolved.Config = configPath
	}
	return &resolved, nil
}

func applyFileConfig(dst *globalOptions, cfg fileConfig, profile string) {
	if p, ok := cfg.Profiles[profile]; ok {
		cfg = mergeFileConfig(cfg, p)
	}
	setIfNonEmpty(&dst.Backend, cfg.Backend)
	setIfNonEmpty(&dst.BaseURL, cfg.BaseURL)
	setIfNonEmpty(&dst.Fixture, cfg.Fixture)
	setIfNonEmpty(&dst.HolidaysICS, cfg.HolidaysICS)
	setIfNonEmpty(&dst.TZ, cfg.TZ)
	setIfNonEmpty(&dst.WeekStart, cfg.WeekStart)
	setIfNonEmpty(&dst.Fields, cfg.Fields)
	setIfNonEmpty(&dst.StateDB, cfg.StateDB)
	setIfNonEmpty(&dst.Listen, cfg.Listen)
	setIfNonEmpty(&dst.Refresh, cfg.Refresh)
	setIfNonEmpty(&dst.LogLevel, cfg.LogLevel)
	if d, err := time.ParseDuration(strings.TrimSpace(cfg.Timeout)); err == nil {
		dst.Timeout = d
	}
	applyOutputMode(dst, cfg.Output)
}

func mergeFileConfig(base, overlay fileConfig) fileConfig {
	setIfNonEmpty(&base.Backend, overlay.Backend)
	setIfNonEmpty(&base.BaseURL, overlay.BaseURL)
	setIfNonEmpty(&base.Fixture, overlay.Fixture)
	setIfNonEmpty(&base.HolidaysICS, overlay.HolidaysICS)
	setIfNonEmpty(&base.TZ, overlay.TZ)
	setIfNonEmpty(&base.WeekStart, overlay.WeekStart)
	setIfNonEmpty(&base.Output, overlay.Output)
	setIfNonEmpty(&base.Fields, overlay.Fields)
	setIfNonEmpty(&base.StateDB, overlay.StateDB)
	setIfNonEmpty(&base.Listen, overlay.Listen)
	setIfNonEmpty(&base.Refresh, overlay.Refresh)
	setIfNonEmpty(&base.LogLevel, overlay.LogLevel)
	setIfNonEmpty(&base.Timeout, overlay.Timeout)
	setIfNonEmpty(&base.Profile, overlay.Profile)
	return base
}

func applyEnv(dst *globalOptions) {
	setIfNonEmpty(&dst.Backend, env("TCAL_BACKEND"))
	setIfNonEmpty(&dst.BaseURL, env("TCAL_BASE_URL"))
	setIfNonEmpty(&dst.Fixture, env("TCAL_FIXTURE"))
	setIfNonEmpty(&dst.HolidaysICS, env("TCAL_HOLIDAYS_ICS"))
	setIfNonEmpty(&dst.TZ, env("TCAL_TIMEZONE"))
	setIfNonEmpty(&dst.WeekStart, env("TCAL_WEEK_START"))
	setIfNonEmpty(&dst.Fields, env("TCAL_FIELDS"))
	setIfNonEmpty(&dst.StateDB, env("TCAL_STATE_DB"))
	setIfNonEmpty(&dst.Listen, env("TCAL_LISTEN"))
	setIfNonEmpty(&dst.Refresh, env("TCAL_REFRESH"))
	setIfNonEmpty(&dst.LogLevel, env("TCAL_LOG_LEVEL"))
	applyOutputMode(dst, env("TCAL_OUTPUT"))
}

func applyOutputMode(dst *globalOptions, v string) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "json":
		dst.JSON, dst.JSONL, dst.Plain = true, false, false
	case "jsonl":
		dst.JSON, dst.JSONL, dst.Plain = false, true, false
	case "plain":
		dst.JSON, dst.JSONL, dst.Plain = false, false, true
	}
}

func applyFlags(cmd *cobra.Command, dst, fromFlags *globalOptions) {
	copyIfChanged(cmd, "json", func() { dst.JSON = fromFlags.JSON })
	copyIfChanged(cmd, "jsonl", func() { dst.JSONL = fromFlags.JSONL })
	copyIfChanged(cmd, "plain", func() { dst.Plain = fromFlags.Plain })
	copyIfChanged(cmd, "fields", func() { dst.Fields = fromFlags.Fields })
	copyIfChanged(cmd, "quiet", func() { dst.Quiet = fromFlags.Quiet })
	copyIfChanged(cmd, "verbose", func() { dst.Verbose = fromFlags.Verbose })
	copyIfChanged(cmd, "profile", func() { dst.Profile = fromFlags.Profile })
	copyIfChanged(cmd, "config", func() { dst.Config = fromFlags.Config })
	copyIfChanged(cmd, "backend", func() { dst.Backend = fromFlags.Backend })
	copyIfChanged(cmd, "tz", func() { dst.TZ = fromFlags.TZ })
	copyIfChanged(cmd, "timeout", func() { dst.Timeout = fromFlags.Timeout })
	copyIfChanged(cmd, "schema-version", func() { dst.SchemaVersion = fromFlags.SchemaVersion })

	// A single explicit output flag overrides env and config output modes.
	modeSet := 0
	if flagValueChanged(cmd, "json") && fromFlags.JSON {
		modeSet++
	}
	if flagValueChanged(cmd, "jsonl") && fromFlags.JSONL {
		modeSet++
	}
	if flagValueChanged(cmd, "plain") && fromFlags.Plain {
		modeSet++
	}
	if modeSet == 1 {
		if flagValueChanged(cmd, "json") && fromFlags.JSON {
			dst.JSON, dst.JSONL, dst.Plain = true, false, false
		}
		if flagValueChanged(cmd, "jsonl") && fromFlags.JSONL {
			dst.JSON, dst.JSONL, dst.Plain = false, true, false
		}
		if flagValueChanged(cmd, "plain") && fromFlags.Plain {
			dst.JSON, dst.JSONL, dst.Plain = false, false, true
		}
	}
}

func copyIfChanged(cmd *cobra.Command, name string, fn func()) {
	if flagValueChanged(cmd, name) {
		fn()
	}
}

func flagValueChanged(cmd *cobra.Command, name string) bool {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		return true
	}
	if f := cmd.InheritedFlags().Lookup(name); f != nil && f.Changed {
		return true
	}
	return false
}

func readConfigFile(path string) (fileConfig, bool) {
	if strings.TrimSpace(path) == "" {
		return fileConfig{}, false
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, false
	}
	var cfg fileConfig
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return fileConfig{}, false
	}
	return cfg, true
}

func defaultUserConfigPath() string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "tcal", "config.toml")
	}
	home := strings.TrimSpace(os.Getenv("HOME"))
	if home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "tcal", "config.toml")
}

func setIfNonEmpty(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func env(k string) string { return strings.TrimSpace(os.Getenv(k)) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
