package interp

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the package default logger, a no-op unless SetLogger was
// called first. Instances use it when no WithLogger option is given.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger replaces the package default logger. It must be called before
// the first Instance is created.
func SetLogger(l *zap.Logger) {
	logger = l
}
