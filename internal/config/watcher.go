package config

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/wujunbao1963/neighbor-guard/internal/alarm"
)

func statTopology(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// debounceTopologyWrite bounds how often a burst of filesystem write events
// for the topology file triggers a reload; editors often emit several writes
// for one logical save. A package variable so tests can zero it out.
var debounceTopologyWrite = 300 * time.Millisecond

// pollFallbackInterval is how often TopologyWatcher polls the file's modtime
// when fsnotify couldn't establish a watch (some container filesystem
// overlays don't deliver inotify events).
var pollFallbackInterval = 2 * time.Second

// TopologyWatcher watches a topology JSON file and reloads it into a live
// Coordinator on change: fsnotify is the primary signal, a modtime-polling
// loop is the fallback, and a single reload path both converge on.
type TopologyWatcher struct {
	path       string
	coord      *alarm.Coordinator
	fsWatcher  *fsnotify.Watcher
	stopChan   chan struct{}
	reloadOnce sync.Once

	mu               sync.Mutex
	onReload         func(*alarm.Topology)
	lastModTime      time.Time
	lastDebounceTime time.Time
}

// NewTopologyWatcher constructs a watcher for path, targeting coord. It does
// not start watching until Start is called.
func NewTopologyWatcher(path string, coord *alarm.Coordinator) (*TopologyWatcher, error) {
	w := &TopologyWatcher{
		path:     path,
		coord:    coord,
		stopChan: make(chan struct{}),
	}
	if fw, err := fsnotify.NewWatcher(); err == nil {
		w.fsWatcher = fw
	} else {
		log.Warn().Err(err).Msg("topology watcher: fsnotify unavailable, falling back to polling")
	}
	return w, nil
}

// SetReloadCallback registers a hook invoked after a topology reload.
func (w *TopologyWatcher) SetReloadCallback(fn func(*alarm.Topology)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// Start begins watching the topology file, preferring fsnotify and falling
// back to a polling loop when no fsnotify watcher was established.
func (w *TopologyWatcher) Start() error {
	if w.fsWatcher != nil {
		if err := w.fsWatcher.Add(w.path); err != nil {
			log.Warn().Err(err).Str("path", w.path).Msg("topology watcher: add failed, falling back to polling")
			w.fsWatcher.Close()
			w.fsWatcher = nil
		}
	}

	if w.fsWatcher != nil {
		go w.handleEvents(w.fsWatcher.Events, w.fsWatcher.Errors)
	} else {
		go w.pollForChanges()
	}
	return nil
}

// Stop ends the watch loop and releases any fsnotify watcher.
func (w *TopologyWatcher) Stop() {
	w.reloadOnce.Do(func() { close(w.stopChan) })
	if w.fsWatcher != nil {
		w.fsWatcher.Close()
	}
}

func (w *TopologyWatcher) handleEvents(events chan fsnotify.Event, errors chan error) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.debouncedReload()
		case err, ok := <-errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("topology watcher: fsnotify error")
		case <-w.stopChan:
			return
		}
	}
}

func (w *TopologyWatcher) pollForChanges() {
	ticker := time.NewTicker(pollFallbackInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			info, err := statTopology(w.path)
			if err != nil {
				continue
			}
			w.mu.Lock()
			changed := info.ModTime().After(w.lastModTime)
			w.lastModTime = info.ModTime()
			w.mu.Unlock()
			if changed {
				w.reload()
			}
		case <-w.stopChan:
			return
		}
	}
}

func (w *TopologyWatcher) debouncedReload() {
	w.mu.Lock()
	now := time.Now()
	if now.Sub(w.lastDebounceTime) < debounceTopologyWrite {
		w.mu.Unlock()
		return
	}
	w.lastDebounceTime = now
	w.mu.Unlock()
	w.reload()
}

// reload re-reads the topology file and swaps it into the Coordinator.
// Reload failures are logged, not fatal: the Coordinator keeps running on
// its last-known-good topology.
func (w *TopologyWatcher) reload() {
	topo, err := LoadTopology(w.path)
	if err != nil {
		log.Error().Err(err).Str("path", w.path).Msg("topology watcher: reload failed, keeping previous topology")
		return
	}
	w.coord.UpdateTopology(topo)

	w.mu.Lock()
	cb := w.onReload
	w.mu.Unlock()
	if cb != nil {
		cb(topo)
	}
}

// ReloadConfig triggers an immediate, synchronous reload outside the
// watch loop — used by an admin topology-update operation after writing a
// new topology file to disk.
func (w *TopologyWatcher) ReloadConfig() {
	w.reload()
}
