package build

import (
	"fmt"
	"os"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
)

// LogConfig configures daemon-wide logging.
type LogConfig struct {
	// LogDir is where the rotating log file is written. Empty disables
	// file logging.
	LogDir string

	// Debug lowers the level of every handler to debug.
	Debug bool
}

// LogWriterSet bundles the root handler set with the file writer that must
// be closed on shutdown.
type LogWriterSet struct {
	handlers *HandlerSet
	rotator  *RotatingLogWriter
}

// NewLogWriterSet builds the daemon's root logging handler set: a console
// handler on stdout plus, when a log directory is configured, a rotating
// gzip-compressed log file.
func NewLogWriterSet(cfg *LogConfig) (*LogWriterSet, error) {
	handlers := []btclogv2.Handler{
		btclogv2.NewDefaultHandler(os.Stdout),
	}

	var rot *RotatingLogWriter
	if cfg.LogDir != "" {
		rot = NewRotatingLogWriter()

		rotCfg := DefaultLogRotatorConfig()
		rotCfg.LogDir = cfg.LogDir
		if err := rot.InitLogRotator(rotCfg); err != nil {
			return nil, fmt.Errorf("failed to init log "+
				"rotator: %w", err)
		}

		handlers = append(handlers, btclogv2.NewDefaultHandler(rot))
	}

	set := NewHandlerSet(handlers...)
	if cfg.Debug {
		set.SetLevel(btclog.LevelDebug)
	}

	return &LogWriterSet{
		handlers: set,
		rotator:  rot,
	}, nil
}

// SubLogger returns a logger tagged with the given subsystem name.
func (l *LogWriterSet) SubLogger(tag string) btclogv2.Logger {
	return btclogv2.NewSLogger(l.handlers.SubSystem(tag))
}

// Close flushes and stops the file rotator, if any.
func (l *LogWriterSet) Close() error {
	if l.rotator != nil {
		return l.rotator.Close()
	}

	return nil
}
