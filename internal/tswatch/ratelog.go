package tswatch

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// rateLimitedLogger prints at most once per interval and reports how many
// lines it swallowed in between.
type rateLimitedLogger struct {
	mu         sync.Mutex
	lastAt     time.Time
	interval   time.Duration
	suppressed int
	printf     func(format string, args ...any)
}

func newRateLimitedLogger(interval time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{interval: interval, printf: log.Printf}
}

func (l *rateLimitedLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if !l.lastAt.IsZero() && now.Sub(l.lastAt) < l.interval {
		l.suppressed++
		return
	}
	l.lastAt = now
	msg := fmt.Sprintf(format, args...)
	if l.suppressed > 0 {
		msg = fmt.Sprintf("%s (%d similar suppressed)", msg, l.suppressed)
		l.suppressed = 0
	}
	l.printf("%s", msg)
}

func debugf(enabled bool, format string, args ...any) {
	if !enabled {
		return
	}
	log.Printf("debug: "+format, args...)
}
