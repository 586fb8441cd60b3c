package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/eve-tools/eve-preview/internal/logger"
)

// Geometry is the on-screen placement of a preview surface.
type Geometry struct {
	X      int16  `json:"x" yaml:"x"`
	Y      int16  `json:"y" yaml:"y"`
	Width  uint16 `json:"width" yaml:"width"`
	Height uint16 `json:"height" yaml:"height"`
}

// Profile is a named set of visual and behavior settings, plus the
// per-character surface placements recorded while it was active.
type Profile struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	OpacityPercent uint8  `json:"opacity_percent" yaml:"opacity_percent"`
	BorderEnabled  bool   `json:"border_enabled" yaml:"border_enabled"`
	BorderSize     uint16 `json:"border_size" yaml:"border_size"`
	BorderColor    string `json:"border_color" yaml:"border_color"`
	TextSize       uint16 `json:"text_size" yaml:"text_size"`
	TextX          int16  `json:"text_x" yaml:"text_x"`
	TextY          int16  `json:"text_y" yaml:"text_y"`
	TextColor      string `json:"text_color" yaml:"text_color"`
	TextBackground string `json:"text_background" yaml:"text_background"`

	HideWhenNoFocus       bool     `json:"hide_when_no_focus" yaml:"hide_when_no_focus"`
	SnapThreshold         uint16   `json:"snap_threshold" yaml:"snap_threshold"`
	HotkeyRequireEveFocus bool     `json:"hotkey_require_eve_focus" yaml:"hotkey_require_eve_focus"`
	CycleOrder            []string `json:"cycle_order" yaml:"cycle_order"`

	Characters map[string]Geometry `json:"characters,omitempty" yaml:"characters,omitempty"`
}

/// Config is the on-disk configuration: global daemon behavior plus profiles.
type Config struct {
	TitleMarker             string `json:"title_marker" yaml:"title_marker"`
	LogLevel                string `json:"log_level" yaml:"log_level"`
	ClickThreshold          uint16 `json:"click_threshold" yaml:"click_threshold"`
	MinimizeClientsOnSwitch bool   `json:"minimize_clients_on_switch" yaml:"minimize_clients_on_switch"`
	DefaultThumbnailWidth   uint16 `json:"default_thumbnail_width" yaml:"default_thumbnail_width"`
	DefaultThumbnailHeight  uint16 `json:"default_thumbnail_height" yaml:"default_thumbnail_height"`

	ActiveProfile string    `json:"active_profile" yaml:"active_profile"`
	Profiles      []Profile `json:"profiles" yaml:"profiles"`
}

/// Settings is the merged, session-immutable view the core consumes: the
// active profile overlaid with global behavior and environment overrides.
// Only CycleOrder appends and per-character geometry mutate after startup,
// and both write back through the Manager.
type Settings struct {
	TitleMarker             string
	LogLevel                string
	OpacityPercent          uint8
	BorderEnabled           bool
	BorderSize              uint16
	BorderColor             string
	TextSize                uint16
	TextX                   int16
	TextY                   int16
	TextColor               string
	TextBackground          string
	HideWhenNoFocus         bool
	SnapThreshold           uint16
	ClickThreshold          uint16
	HotkeyRequireEveFocus   bool
	MinimizeClientsOnSwitch bool
	DefaultWidth            uint16
	DefaultHeight           uint16
	CycleOrder              []string
}

// Manager handles configuration and per-character layout persistence.
type Manager struct {
	configPath string
	config     *Config
	settings   Settings
	degraded   bool
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager. A missing config file is
// created with defaults; an unreadable or unparsable one degrades to
// in-memory defaults so the daemon still runs (writes are retried on the
// next change).
func NewManager(configFile string) (*Manager, error) {
	log := logger.WithComponent("config")

	actualConfigPath := configFile
	if actualConfigPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		actualConfigPath = filepath.Join(homeDir, ".config", "eve-preview", "config.yaml")
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			log.Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = defaults()
			if err := m.Save(); err != nil {
				log.Warn().Err(err).Msg("Failed to write default config, continuing in memory")
				m.degraded = true
			}
		} else {
			// Persistence is a collaborator, not a dependency: run on
			// defaults and keep retrying writes.
			log.Error().Err(err).
				Str("path", m.configPath).
				Msg("Failed to read config, running on defaults")
			m.config = defaults()
			m.degraded = true
		}
	}

	m.settings = m.mergeLocked()
	m.applyEnvOverrides()

	log.Info().
		Str("path", m.configPath).
		Str("profile", m.config.ActiveProfile).
		Int("characters", len(m.activeProfileLocked().Characters)).
		Msg("Config loaded")

	return m, nil
}

func defaults() *Config {
	return &Config{
		TitleMarker:            "EVE - ",
		LogLevel:               "info",
		ClickThreshold:         3,
		DefaultThumbnailWidth:  480,
		DefaultThumbnailHeight: 270,
		ActiveProfile:          "default",
		Profiles:               []Profile{defaultProfile()},
	}
}

func defaultProfile() Profile {
	return Profile{
		Name:           "default",
		OpacityPercent: 90,
		BorderEnabled:  true,
		BorderSize:     3,
		BorderColor:    "#FF0000",
		TextSize:       13,
		TextX:          5,
		TextY:          15,
		TextColor:      "#FFFFFF",
		TextBackground: "#000000",
		SnapThreshold:  15,
		CycleOrder:     []string{},
		Characters:     map[string]Geometry{},
	}
}

// load reads the configuration from disk.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.TitleMarker == "" {
		cfg.TitleMarker = "EVE - "
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ClickThreshold == 0 {
		cfg.ClickThreshold = 3
	}
	if cfg.DefaultThumbnailWidth == 0 || cfg.DefaultThumbnailHeight == 0 {
		cfg.DefaultThumbnailWidth = 480
		cfg.DefaultThumbnailHeight = 270
	}
	if len(cfg.Profiles) == 0 {
		cfg.Profiles = []Profile{defaultProfile()}
	}
	if cfg.ActiveProfile == "" {
		cfg.ActiveProfile = cfg.Profiles[0].Name
	}
	for i := range cfg.Profiles {
		if cfg.Profiles[i].CycleOrder == nil {
			cfg.Profiles[i].CycleOrder = []string{}
		}
		if cfg.Profiles[i].Characters == nil {
			cfg.Profiles[i].Characters = map[string]Geometry{}
		}
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// activeProfileLocked returns the active profile (caller must hold at least
// a read lock).
func (m *Manager) activeProfileLocked() *Profile {
	for i := range m.config.Profiles {
		if m.config.Profiles[i].Name == m.config.ActiveProfile {
			return &m.config.Profiles[i]
		}
	}
	return &m.config.Profiles[0]
}

func (m *Manager) mergeLocked() Settings {
	p := m.activeProfileLocked()
	order := make([]string, len(p.CycleOrder))
	copy(order, p.CycleOrder)
	return Settings{
		TitleMarker:             m.config.TitleMarker,
		LogLevel:                m.config.LogLevel,
		OpacityPercent:          p.OpacityPercent,
		BorderEnabled:           p.BorderEnabled,
		BorderSize:              p.BorderSize,
		BorderColor:             p.BorderColor,
		TextSize:                p.TextSize,
		TextX:                   p.TextX,
		TextY:                   p.TextY,
		TextColor:               p.TextColor,
		TextBackground:          p.TextBackground,
		HideWhenNoFocus:         p.HideWhenNoFocus,
		SnapThreshold:           p.SnapThreshold,
		ClickThreshold:          m.config.ClickThreshold,
		HotkeyRequireEveFocus:   p.HotkeyRequireEveFocus,
		MinimizeClientsOnSwitch: m.config.MinimizeClientsOnSwitch,
		DefaultWidth:            m.config.DefaultThumbnailWidth,
		DefaultHeight:           m.config.DefaultThumbnailHeight,
		CycleOrder:              order,
	}
}

// applyEnvOverrides overlays EVE_PREVIEW_* environment variables onto the
// merged settings. Applied exactly once at startup; overrides are never
// written back to disk.
func (m *Manager) applyEnvOverrides() {
	log := logger.WithComponent("config")
	v := viper.New()
	v.SetEnvPrefix("EVE_PREVIEW")
	for _, key := range []string{
		"title_marker", "log_level", "opacity_percent", "border_enabled",
		"border_size", "border_color", "text_color", "hide_when_no_focus",
		"snap_threshold", "click_threshold", "hotkey_require_eve_focus",
		"minimize_clients_on_switch",
	} {
		if err := v.BindEnv(key); err != nil {
			continue
		}
	}

	setStr := func(key string, dst *string) {
		if s := v.GetString(key); s != "" {
			*dst = s
			log.Debug().Str("key", key).Str("value", s).Msg("Environment override applied")
		}
	}
	setU8 := func(key string, dst *uint8) {
		if s := v.GetString(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 8); err == nil {
				*dst = uint8(n)
			}
		}
	}
	setU16 := func(key string, dst *uint16) {
		if s := v.GetString(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 16); err == nil {
				*dst = uint16(n)
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if s := v.GetString(key); s != "" {
			if b, err := strconv.ParseBool(s); err == nil {
				*dst = b
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	setStr("title_marker", &m.settings.TitleMarker)
	setStr("log_level", &m.settings.LogLevel)
	setStr("border_color", &m.settings.BorderColor)
	setStr("text_color", &m.settings.TextColor)
	setU8("opacity_percent", &m.settings.OpacityPercent)
	setU16("border_size", &m.settings.BorderSize)
	setU16("snap_threshold", &m.settings.SnapThreshold)
	setU16("click_threshold", &m.settings.ClickThreshold)
	setBool("border_enabled", &m.settings.BorderEnabled)
	setBool("hide_when_no_focus", &m.settings.HideWhenNoFocus)
	setBool("hotkey_require_eve_focus", &m.settings.HotkeyRequireEveFocus)
	setBool("minimize_clients_on_switch", &m.settings.MinimizeClientsOnSwitch)
}

// Settings returns the merged active-profile settings.
func (m *Manager) Settings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.settings
	s.CycleOrder = make([]string, len(m.settings.CycleOrder))
	copy(s.CycleOrder, m.settings.CycleOrder)
	return s
}

// Layout returns the persisted geometry for a character identity.
func (m *Manager) Layout(identity string) (Geometry, bool) {
	if identity == "" {
		return Geometry{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.activeProfileLocked().Characters[identity]
	return g, ok
}

// SaveLayout records the geometry for a character identity and persists it.
// The empty identity (logged-out client) is session-only and never stored.
func (m *Manager) SaveLayout(identity string, g Geometry) error {
	if identity == "" {
		return nil
	}
	m.mu.Lock()
	m.activeProfileLocked().Characters[identity] = g
	m.mu.Unlock()

	logger.WithComponent("config").Debug().
		Str("character", identity).
		Int("x", int(g.X)).Int("y", int(g.Y)).
		Int("width", int(g.Width)).Int("height", int(g.Height)).
		Msg("Saving layout")
	return m.Save()
}

// AppendCycle appends an identity to the cycle order if absent, preserving
// existing relative order, and persists the change.
func (m *Manager) AppendCycle(identity string) error {
	if identity == "" {
		return nil
	}
	m.mu.Lock()
	p := m.activeProfileLocked()
	for _, existing := range p.CycleOrder {
		if existing == identity {
			m.mu.Unlock()
			return nil
		}
	}
	p.CycleOrder = append(p.CycleOrder, identity)
	m.settings.CycleOrder = append(m.settings.CycleOrder, identity)
	m.mu.Unlock()
	return m.Save()
}

// Identities returns all character identities with persisted layouts, sorted.
func (m *Manager) Identities() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chars := m.activeProfileLocked().Characters
	names := make([]string, 0, len(chars))
	for name := range chars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save saves the current configuration to disk.
func (m *Manager) Save() error {
	m.mu.RLock()
	data, err := yaml.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Warn().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config, will retry on next change")
		m.mu.Lock()
		m.degraded = true
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.degraded = false
	m.mu.Unlock()
	return nil
}

// Degraded reports whether the last persistence operation failed.
func (m *Manager) Degraded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.degraded
}

// ConfigPath returns the path to the config file.
func (m *Manager) ConfigPath() string {
	return m.configPath
}
