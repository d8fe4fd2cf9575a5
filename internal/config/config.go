// Package config loads sentryd's tuning and topology configuration from a
// data directory, environment variables, and an optional .env file, applying
// them in layered precedence: .env first, then process environment
// overrides, then package-level defaults for anything left unset.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/wujunbao1963/neighbor-guard/internal/alarm"
)

// defaultDataDir is the fallback data directory when none is configured.
// A package variable (not a const) so tests can override it.
var defaultDataDir = "/etc/sentryd"

// Config is sentryd's full runtime configuration: ambient (data dir, log
// level, metrics address) plus the domain tuning that seeds the Coordinator.
type Config struct {
	DataPath     string
	TopologyPath string
	LogLevel     string
	MetricsAddr  string

	HouseMode alarm.HouseMode
	UserMode  alarm.UserMode

	DebounceDoorBounceThreshold int
	DebounceDoorBounceWindow    time.Duration
	DebounceMotionCooldown      time.Duration
	DebounceCameraCooldown      time.Duration
	DebounceLifeSafetyMerge     time.Duration

	RouterContextWindow   time.Duration
	RouterMaxContextDelay time.Duration
	EntryDelayHome        time.Duration
	EntryDelayAway        time.Duration
	EntryDelayNightOcc    time.Duration
	EntryDelayNightPerim  time.Duration

	EventLogCapacity int
}

// Defaults returns a Config populated with sentryd's stated default
// thresholds for the coordinator's tuning.
func Defaults() Config {
	return Config{
		DataPath:     defaultDataDir,
		TopologyPath: filepath.Join(defaultDataDir, "topology.json"),
		LogLevel:     "info",
		MetricsAddr:  ":9655",

		HouseMode: alarm.ModeDisarmed,
		UserMode:  alarm.UserAlert,

		DebounceDoorBounceThreshold: 3,
		DebounceDoorBounceWindow:    5 * time.Second,
		DebounceMotionCooldown:      10 * time.Second,
		DebounceCameraCooldown:      5 * time.Second,
		DebounceLifeSafetyMerge:     5 * time.Second,

		RouterContextWindow:   30 * time.Second,
		RouterMaxContextDelay: 10 * time.Second,
		EntryDelayHome:        30 * time.Second,
		EntryDelayAway:        30 * time.Second,
		EntryDelayNightOcc:    15 * time.Second,
		EntryDelayNightPerim:  0,

		EventLogCapacity: alarm.DefaultEventLogCapacity,
	}
}

// Load resolves the data directory (PULSE-style precedence: SENTRYD_DATA_DIR
// env var, else defaultDataDir), loads that directory's .env file if present,
// then applies environment overrides on top of Defaults(). Invalid values for
// a numeric/duration override are logged-worthy but non-fatal: Load keeps the
// default rather than failing the whole process over one bad env var.
func Load() (Config, error) {
	cfg := Defaults()

	if dir := os.Getenv("SENTRYD_DATA_DIR"); dir != "" {
		cfg.DataPath = dir
	}
	cfg.TopologyPath = filepath.Join(cfg.DataPath, "topology.json")

	envFile := filepath.Join(cfg.DataPath, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return cfg, fmt.Errorf("config.Load: reading %s: %w", envFile, err)
		}
	}

	applyStringOverride(&cfg.LogLevel, "SENTRYD_LOG_LEVEL")
	applyStringOverride(&cfg.MetricsAddr, "SENTRYD_METRICS_ADDR")
	applyStringOverride(&cfg.TopologyPath, "SENTRYD_TOPOLOGY_PATH")

	applyHouseModeOverride(&cfg.HouseMode, "SENTRYD_HOUSE_MODE")
	applyUserModeOverride(&cfg.UserMode, "SENTRYD_USER_MODE")

	applyIntOverride(&cfg.DebounceDoorBounceThreshold, "SENTRYD_DOOR_BOUNCE_THRESHOLD")
	applyDurationOverride(&cfg.DebounceDoorBounceWindow, "SENTRYD_DOOR_BOUNCE_WINDOW")
	applyDurationOverride(&cfg.DebounceMotionCooldown, "SENTRYD_MOTION_COOLDOWN")
	applyDurationOverride(&cfg.DebounceCameraCooldown, "SENTRYD_CAMERA_COOLDOWN")
	applyDurationOverride(&cfg.DebounceLifeSafetyMerge, "SENTRYD_LIFE_SAFETY_MERGE_WINDOW")

	applyDurationOverride(&cfg.RouterContextWindow, "SENTRYD_CONTEXT_WINDOW")
	applyDurationOverride(&cfg.RouterMaxContextDelay, "SENTRYD_MAX_CONTEXT_DELAY")
	applyDurationOverride(&cfg.EntryDelayHome, "SENTRYD_ENTRY_DELAY_HOME")
	applyDurationOverride(&cfg.EntryDelayAway, "SENTRYD_ENTRY_DELAY_AWAY")
	applyDurationOverride(&cfg.EntryDelayNightOcc, "SENTRYD_ENTRY_DELAY_NIGHT_OCCUPIED")
	applyDurationOverride(&cfg.EntryDelayNightPerim, "SENTRYD_ENTRY_DELAY_NIGHT_PERIMETER")

	applyIntOverride(&cfg.EventLogCapacity, "SENTRYD_EVENT_LOG_CAPACITY")

	return cfg, nil
}

func applyStringOverride(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyIntOverride(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func applyDurationOverride(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

func applyHouseModeOverride(dst *alarm.HouseMode, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	switch alarm.HouseMode(v) {
	case alarm.ModeDisarmed, alarm.ModeHome, alarm.ModeAway, alarm.ModeNightOccupied, alarm.ModeNightPerimeter:
		*dst = alarm.HouseMode(v)
	}
}

func applyUserModeOverride(dst *alarm.UserMode, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	switch alarm.UserMode(v) {
	case alarm.UserAlert, alarm.UserQuiet:
		*dst = alarm.UserMode(v)
	}
}

// CoordinatorConfig translates the loaded tuning into the Coordinator's own
// config shape.
func (c Config) CoordinatorConfig() alarm.CoordinatorConfig {
	cfg := alarm.DefaultCoordinatorConfig()
	cfg.Debounce = alarm.DebounceConfig{
		DoorBounceThreshold:   c.DebounceDoorBounceThreshold,
		DoorBounceWindow:      c.DebounceDoorBounceWindow,
		MotionCooldown:        c.DebounceMotionCooldown,
		CameraCooldown:        c.DebounceCameraCooldown,
		LifeSafetyMergeWindow: c.DebounceLifeSafetyMerge,
	}
	cfg.Router = alarm.RouterConfig{
		DefaultEntryDelay: map[alarm.HouseMode]time.Duration{
			alarm.ModeHome:           c.EntryDelayHome,
			alarm.ModeAway:           c.EntryDelayAway,
			alarm.ModeNightOccupied:  c.EntryDelayNightOcc,
			alarm.ModeNightPerimeter: c.EntryDelayNightPerim,
		},
		ContextWindow:   c.RouterContextWindow,
		MaxContextDelay: c.RouterMaxContextDelay,
	}
	cfg.EventLogCapacity = c.EventLogCapacity
	return cfg
}

// topologyFile is the on-disk JSON shape persisted/loaded for a premise's
// zones, entry points, and access windows, backing GetTopology/UpdateTopology.
type topologyFile struct {
	Zones         []alarm.Zone         `json:"zones"`
	EntryPoints   []alarm.EntryPoint   `json:"entry_points"`
	AccessWindows []alarm.AccessWindow `json:"access_windows"`
}

// LoadTopology reads a topology JSON file from path. A missing file is not
// an error: it returns an empty topology ready for zones/entry points to be
// registered through the admin API.
func LoadTopology(path string) (*alarm.Topology, error) {
	topo := alarm.NewTopology()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return topo, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config.LoadTopology: reading %s: %w", path, err)
	}

	var tf topologyFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("config.LoadTopology: parsing %s: %w", path, err)
	}

	for _, z := range tf.Zones {
		topo.SetZone(z)
	}
	for _, ep := range tf.EntryPoints {
		topo.SetEntryPoint(ep)
	}
	topo.SetAccessWindows(tf.AccessWindows)
	return topo, nil
}

// SaveTopology writes topo to path as JSON, the counterpart LoadTopology
// reads back.
func SaveTopology(path string, topo *alarm.Topology) error {
	zones := topo.Zones()
	eps := topo.EntryPoints()

	tf := topologyFile{
		Zones:         make([]alarm.Zone, 0, len(zones)),
		EntryPoints:   make([]alarm.EntryPoint, 0, len(eps)),
		AccessWindows: topo.AccessWindows(),
	}
	for _, z := range zones {
		tf.Zones = append(tf.Zones, z)
	}
	for _, ep := range eps {
		tf.EntryPoints = append(tf.EntryPoints, ep)
	}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("config.SaveTopology: marshaling: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config.SaveTopology: creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config.SaveTopology: writing %s: %w", path, err)
	}
	return nil
}
