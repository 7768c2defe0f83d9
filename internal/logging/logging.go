// Package logging wraps zerolog with the level set §7 of the spec needs:
// plain info/warn/error plus the two protocol-specific levels "malicious"
// and "drivel" that the receive pipeline uses for dropped/rejected traffic.
package logging

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu      sync.RWMutex
	current zerolog.Logger
)

func init() {
	current = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()
}

// SetLevel changes the minimum level of the default logger.
func SetLevel(level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	current = current.Level(level)
}

// SetOutput redirects the default logger, e.g. to a file in production.
func SetOutput(w zerolog.LevelWriter) {
	mu.Lock()
	defer mu.Unlock()
	current = current.Output(w)
}

func logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func Debug() *zerolog.Event { l := logger(); return l.Debug() }
func Info() *zerolog.Event  { l := logger(); return l.Info() }
func Warn() *zerolog.Event  { l := logger(); return l.Warn() }
func Error() *zerolog.Event { l := logger(); return l.Error() }

// Malicious logs a dropped packet that looked like a protocol violation or
// attack (§7 "Malicious/protocol violations"). Always a warn-level event
// tagged so operators can grep/alert on it separately from ordinary warnings.
func Malicious() *zerolog.Event {
	l := logger()
	return l.Warn().Str("class", "malicious")
}

// Drivel logs a routine, high-volume, low-severity rejection (e.g. a
// too-far-ahead reliable sequence, §4.5) that would flood a normal log at
// warn level. Kept at debug so it's available but not noisy by default.
func Drivel() *zerolog.Event {
	l := logger()
	return l.Debug().Str("class", "drivel")
}
