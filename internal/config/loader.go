package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ChangeHandler receives the reloaded configuration
type ChangeHandler func(cfg *Config)

// Loader reads one YAML file with env overrides and can hot-reload it
type Loader struct {
	path     string
	v        *viper.Viper
	logger   *zap.Logger
	mu       sync.Mutex
	handlers []ChangeHandler
	current  *Config
}

// NewLoader creates a loader for path
func NewLoader(path string) *Loader {
	return &Loader{path: path, v: newViper(path), logger: zap.NewNop()}
}

// WithLogger sets the logger used for reload events
func (l *Loader) WithLogger(logger *zap.Logger) *Loader {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// Path returns the file the loader reads
func (l *Loader) Path() string {
	return l.path
}

// Load reads the file and env. A missing file falls back to defaults.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", l.path, err)
		}
	}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Current returns the last successfully loaded configuration
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// OnChange registers a handler for reloads
func (l *Loader) OnChange(h ChangeHandler) {
	l.mu.Lock()
	l.handlers = append(l.handlers, h)
	l.mu.Unlock()
}

// Watch starts watching the file. Invalid edits are logged and ignored.
func (l *Loader) Watch() {
	l.v.OnConfigChange(l.reload)
	l.v.WatchConfig()
	l.logger.Info("Watching configuration", zap.String("path", l.path))
}

func (l *Loader) reload(e fsnotify.Event) {
	if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	if err := l.v.ReadInConfig(); err != nil {
		l.logger.Warn("Failed to re-read configuration", zap.String("file", e.Name), zap.Error(err))
		return
	}
	cfg, err := l.decode()
	if err != nil {
		l.logger.Warn("Ignoring invalid configuration change",
			zap.String("file", e.Name),
			zap.Error(err),
		)
		return
	}

	l.mu.Lock()
	l.current = cfg
	handlers := append([]ChangeHandler(nil), l.handlers...)
	l.mu.Unlock()

	l.logger.Info("Configuration reloaded",
		zap.String("file", e.Name),
		zap.String("synthesis_mode", cfg.Synthesis.Mode),
	)
	for _, h := range handlers {
		h(cfg)
	}
}
