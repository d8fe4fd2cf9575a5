package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wujunbao1963/neighbor-guard/internal/alarm"
)

func TestLoad_Defaults(t *testing.T) {
	tmpDefault := t.TempDir()
	prev := defaultDataDir
	defaultDataDir = tmpDefault
	t.Cleanup(func() { defaultDataDir = prev })

	os.Unsetenv("SENTRYD_DATA_DIR")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, tmpDefault, cfg.DataPath)
	assert.Equal(t, alarm.ModeDisarmed, cfg.HouseMode)
	assert.Equal(t, 3, cfg.DebounceDoorBounceThreshold)
	assert.Equal(t, 30*time.Second, cfg.EntryDelayAway)
}

func TestLoad_EnvOverrides(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("SENTRYD_DATA_DIR", tempDir)
	t.Setenv("SENTRYD_HOUSE_MODE", "away")
	t.Setenv("SENTRYD_ENTRY_DELAY_AWAY", "45s")
	t.Setenv("SENTRYD_DOOR_BOUNCE_THRESHOLD", "5")
	t.Setenv("SENTRYD_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, tempDir, cfg.DataPath)
	assert.Equal(t, alarm.ModeAway, cfg.HouseMode)
	assert.Equal(t, 45*time.Second, cfg.EntryDelayAway)
	assert.Equal(t, 5, cfg.DebounceDoorBounceThreshold)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidOverridesFallBackToDefaults(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("SENTRYD_DATA_DIR", tempDir)
	t.Setenv("SENTRYD_ENTRY_DELAY_AWAY", "not-a-duration")
	t.Setenv("SENTRYD_DOOR_BOUNCE_THRESHOLD", "not-a-number")
	t.Setenv("SENTRYD_HOUSE_MODE", "not-a-mode")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.EntryDelayAway)
	assert.Equal(t, 3, cfg.DebounceDoorBounceThreshold)
	assert.Equal(t, alarm.ModeDisarmed, cfg.HouseMode)
}

func TestLoad_DotEnv(t *testing.T) {
	tempDir := t.TempDir()
	envFile := filepath.Join(tempDir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(`SENTRYD_LOG_LEVEL="trace"`), 0644))

	t.Setenv("SENTRYD_DATA_DIR", tempDir)
	os.Unsetenv("SENTRYD_LOG_LEVEL")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "trace", cfg.LogLevel)
}

func TestCoordinatorConfigTranslatesTuning(t *testing.T) {
	cfg := Defaults()
	cfg.DebounceDoorBounceThreshold = 7
	cfg.EntryDelayHome = time.Minute

	cc := cfg.CoordinatorConfig()
	assert.Equal(t, 7, cc.Debounce.DoorBounceThreshold)
	assert.Equal(t, time.Minute, cc.Router.DefaultEntryDelay[alarm.ModeHome])
}

func TestLoadTopology_MissingFileReturnsEmptyTopology(t *testing.T) {
	topo, err := LoadTopology(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, topo.Zones())
	assert.Empty(t, topo.EntryPoints())
}

func TestSaveAndLoadTopologyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.json")

	topo := alarm.NewTopology()
	topo.SetZone(alarm.Zone{ID: "z1", Name: "Backyard", Type: alarm.ZoneExterior, Location: alarm.LocationOutdoor})
	topo.SetEntryPoint(alarm.EntryPoint{ID: "ep1", Name: "Back Door", ZoneID: "z1", BypassPatterns: []string{"maint-*"}})
	topo.AddAccessWindow(alarm.AccessWindow{EntryPointPattern: "ep1", Start: time.Unix(1000, 0), End: time.Unix(2000, 0)})

	require.NoError(t, SaveTopology(path, topo))

	loaded, err := LoadTopology(path)
	require.NoError(t, err)

	zone, ok := loaded.Zone("z1")
	require.True(t, ok)
	assert.Equal(t, "Backyard", zone.Name)

	ep, ok := loaded.EntryPoint("ep1")
	require.True(t, ok)
	assert.Equal(t, []string{"maint-*"}, ep.BypassPatterns)

	require.Len(t, loaded.AccessWindows(), 1)
}

func TestLoadTopology_InvalidJSONErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := LoadTopology(path)
	assert.Error(t, err)
}

func TestTopologyWatcherReloadsOnFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.json")

	initial := alarm.NewTopology()
	initial.SetEntryPoint(alarm.EntryPoint{ID: "ep1", Name: "Front Door"})
	require.NoError(t, SaveTopology(path, initial))

	coord := alarm.NewCoordinator(initial, alarm.DefaultCoordinatorConfig())
	defer coord.Shutdown()

	w, err := NewTopologyWatcher(path, coord)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	reloaded := make(chan struct{}, 1)
	w.SetReloadCallback(func(topo *alarm.Topology) {
		if _, ok := topo.EntryPoint("ep2"); ok {
			select {
			case reloaded <- struct{}{}:
			default:
			}
		}
	})

	updated := alarm.NewTopology()
	updated.SetEntryPoint(alarm.EntryPoint{ID: "ep1", Name: "Front Door"})
	updated.SetEntryPoint(alarm.EntryPoint{ID: "ep2", Name: "Side Door"})
	data, err := json.MarshalIndent(struct {
		Zones       []alarm.Zone       `json:"zones"`
		EntryPoints []alarm.EntryPoint `json:"entry_points"`
	}{EntryPoints: []alarm.EntryPoint{{ID: "ep1", Name: "Front Door"}, {ID: "ep2", Name: "Side Door"}}}, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("expected the watcher to reload the updated topology")
	}

	_, ok := coord.GetTopology().EntryPoint("ep2")
	assert.True(t, ok)
}

func TestTopologyWatcherManualReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.json")
	initial := alarm.NewTopology()
	require.NoError(t, SaveTopology(path, initial))

	coord := alarm.NewCoordinator(initial, alarm.DefaultCoordinatorConfig())
	defer coord.Shutdown()

	w, err := NewTopologyWatcher(path, coord)
	require.NoError(t, err)

	updated := alarm.NewTopology()
	updated.SetEntryPoint(alarm.EntryPoint{ID: "epX", Name: "X"})
	require.NoError(t, SaveTopology(path, updated))

	w.ReloadConfig()

	_, ok := coord.GetTopology().EntryPoint("epX")
	assert.True(t, ok)
}
