package config

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/ybdigitall/closai/internal/logging"
)

// Runtime is the part of the configuration that can change while serving.
type Runtime struct {
	LogLevel          string
	ConversionEnabled bool
	DisabledSurfaces  []string
}

// Runtime returns the reloadable settings.
func (c *Config) Runtime() Runtime {
	return Runtime{
		LogLevel:          c.LogLevel,
		ConversionEnabled: c.ConversionEnabled,
		DisabledSurfaces:  slices.Clone(c.DisabledSurfaces),
	}
}

func (r Runtime) equal(other Runtime) bool {
	return r.LogLevel == other.LogLevel &&
		r.ConversionEnabled == other.ConversionEnabled &&
		slices.Equal(r.DisabledSurfaces, other.DisabledSurfaces)
}

var (
	watchDebounce = 100 * time.Millisecond
	pollInterval  = 5 * time.Second
)

// Watcher monitors the .env file and reapplies reloadable settings. Keys
// missing from the file keep their current value.
type Watcher struct {
	envPath  string
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	stopOnce sync.Once

	mu          sync.Mutex
	current     Runtime
	lastModTime time.Time
	onChange    []func(Runtime)
}

// NewWatcher creates a watcher for cfg.EnvPath starting from cfg's settings.
func NewWatcher(cfg *Config) (*Watcher, error) {
	envPath := cfg.EnvPath
	if envPath == "" {
		envPath = ".env"
	}
	envPath, err := filepath.Abs(envPath)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		envPath:  envPath,
		watcher:  watcher,
		stopChan: make(chan struct{}),
		current:  cfg.Runtime(),
	}
	if stat, err := os.Stat(envPath); err == nil {
		w.lastModTime = stat.ModTime()
	}
	return w, nil
}

// OnChange registers fn to run after every reload that changed a setting.
func (w *Watcher) OnChange(fn func(Runtime)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Current returns the settings as of the last reload.
func (w *Watcher) Current() Runtime {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.current
	r.DisabledSurfaces = slices.Clone(r.DisabledSurfaces)
	return r
}

// Start begins watching. If the directory cannot be watched it falls back to
// polling the file's modification time.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.envPath)
	if err := w.watcher.Add(dir); err != nil {
		log.Warn().Err(err).Str("path", dir).Msg("Failed to watch config directory; falling back to polling")
		go w.pollForChanges()
		return nil
	}

	go w.watchForChanges()
	log.Info().Str("env_path", w.envPath).Msg("Watching .env for changes")
	return nil
}

// Stop ends watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.watcher.Close()
	})
}

// Reload re-reads the .env file now, e.g. on SIGHUP.
func (w *Watcher) Reload() {
	w.reload()
}

func (w *Watcher) watchForChanges() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.envPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Let the writer finish.
			select {
			case <-time.After(watchDebounce):
			case <-w.stopChan:
				return
			}
			log.Info().Str("event", event.Op.String()).Msg("Detected .env file change")
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")

		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) pollForChanges() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stat, err := os.Stat(w.envPath)
			if err != nil {
				continue
			}
			w.mu.Lock()
			changed := stat.ModTime().After(w.lastModTime)
			if changed {
				w.lastModTime = stat.ModTime()
			}
			w.mu.Unlock()
			if changed {
				log.Info().Msg("Detected .env file change via polling")
				w.reload()
			}
		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) reload() {
	envMap, err := godotenv.Read(w.envPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error().Err(err).Msg("Failed to read .env file")
		}
		return
	}

	w.mu.Lock()
	prev := w.current
	next := prev
	next.DisabledSurfaces = slices.Clone(prev.DisabledSurfaces)

	if v, ok := lookup(envMap, "CLOSAI_LOG_LEVEL"); ok {
		if logging.ValidLevel(v) {
			next.LogLevel = strings.ToLower(v)
		} else {
			log.Warn().Str("value", v).Msg("Ignoring invalid CLOSAI_LOG_LEVEL in .env")
		}
	}
	if v, ok := lookup(envMap, "CLOSAI_CONVERSION_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			next.ConversionEnabled = b
		} else {
			log.Warn().Str("value", v).Msg("Ignoring invalid CLOSAI_CONVERSION_ENABLED in .env")
		}
	}
	if v, ok := envMap["CLOSAI_CONVERSION_DISABLED_SURFACES"]; ok {
		next.DisabledSurfaces = splitList(strings.Trim(v, `'"`))
	}

	if next.equal(prev) {
		w.mu.Unlock()
		log.Debug().Msg("No reloadable changes in .env file")
		return
	}
	w.current = next
	callbacks := slices.Clone(w.onChange)
	w.mu.Unlock()

	log.Info().
		Str("log_level", next.LogLevel).
		Bool("conversion_enabled", next.ConversionEnabled).
		Strs("disabled_surfaces", next.DisabledSurfaces).
		Msg("Applied .env file changes to runtime config")
	for _, fn := range callbacks {
		fn(next)
	}
}

// lookup returns a trimmed, unquoted, non-empty value for key.
func lookup(envMap map[string]string, key string) (string, bool) {
	v := strings.TrimSpace(strings.Trim(envMap[key], `'"`))
	return v, v != ""
}
