package vidstream

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var pkgLogger atomic.Value // logrus.FieldLogger

func init() {
	pkgLogger.Store(logrus.FieldLogger(logrus.StandardLogger()))
}

// SetLogger replaces the logger used by sessions created afterwards.
func SetLogger(l logrus.FieldLogger) {
	if l == nil {
		l = logrus.StandardLogger()
	}
	pkgLogger.Store(l)
}

func logger() logrus.FieldLogger {
	return pkgLogger.Load().(logrus.FieldLogger)
}
