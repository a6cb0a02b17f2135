package config

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/houya/fqsocks/internal/core/ports"
)

const (
	envPrefix = "FQSOCKS"

	// DefaultFileWriteDelay gives editors time to finish a multi-write
	// save before we re-read the file off disk.
	DefaultFileWriteDelay = 150 * time.Millisecond

	// reloadDebounce collapses the burst of fsnotify events a single
	// save typically produces into one reload.
	reloadDebounce = 500 * time.Millisecond
)

// Loader owns the live Viper instance and the reload debounce state. On
// reload it stores every global flag from the file into a Registry's
// atomics; a flag value changed at runtime is not kept across a reload.
type Loader struct {
	v *viper.Viper

	mu          sync.Mutex
	lastReload  time.Time
	reloadMutex sync.Mutex

	log *slog.Logger
}

// Load reads the named config file once and returns the decoded document.
// path may be empty, in which case Viper's default search paths apply.
func Load(path string, log *slog.Logger) (*Config, *Loader, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fqsocks")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("config: read: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}

	l := &Loader{v: v, log: log}
	return cfg, l, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen.host", "127.0.0.1")
	v.SetDefault("listen.port", 8388)
	v.SetDefault("directory_name", "fqrouter.com")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.theme", "default")
	v.SetDefault("logging.pretty_logs", true)
	v.SetDefault("flags.direct_access_enabled", true)
	v.SetDefault("flags.auto_fix_enabled", true)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()
	return cfg, nil
}

// WatchAndMerge wires fsnotify-backed hot reload: on every debounced file
// change, the document is re-read and PrivateServers/PublicServers are
// swapped wholesale via onDocument, and every runtime flag in dst is
// stored again from the file. Flags are not compared with their earlier
// values, so a flag changed at runtime is overwritten by any config edit.
func (l *Loader) WatchAndMerge(dst *ports.RegistryFlags, onDocument func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.reloadMutex.Lock()
		defer l.reloadMutex.Unlock()

		now := time.Now()
		l.mu.Lock()
		since := now.Sub(l.lastReload)
		l.mu.Unlock()
		if since < reloadDebounce {
			return
		}

		time.Sleep(DefaultFileWriteDelay)

		cfg, err := decode(l.v)
		if err != nil {
			if l.log != nil {
				l.log.Warn("config reload failed", "error", err, "file", e.Name)
			}
			return
		}

		l.mu.Lock()
		l.lastReload = now
		l.mu.Unlock()

		mergeFlags(dst, cfg.Flags)
		if onDocument != nil {
			onDocument(cfg)
		}

		if l.log != nil {
			l.log.Info("config reloaded", "file", e.Name)
		}
	})
	l.v.WatchConfig()
}

func mergeFlags(dst *ports.RegistryFlags, src FlagsConfig) {
	dst.AutoFixEnabled.Store(src.AutoFixEnabled)
	dst.ChinaShortcutEnabled.Store(src.ChinaShortcutEnabled)
	dst.DirectAccessEnabled.Store(src.DirectAccessEnabled)
	dst.TCPScramblerEnabled.Store(src.TCPScramblerEnabled)
	dst.GoogleScramblerEnabled.Store(src.GoogleScramblerEnabled)
	dst.GoAgentPublicEnabled.Store(src.GoAgentPublicEnabled)
	dst.SSPublicEnabled.Store(src.SSPublicEnabled)
	dst.ForceUSIP.Store(src.ForceUSIP)
}

// ApplyFlags seeds a fresh RegistryFlags from the document read at
// startup, before any reload has happened.
func ApplyFlags(dst *ports.RegistryFlags, src FlagsConfig) {
	mergeFlags(dst, src)
}
