// Package loggingutil holds the pslog helpers shared by the SDK and CLI.
package loggingutil

import (
	"io"
	"strings"
	"sync"

	"pkt.systems/pslog"
)

// SubsystemKey tags every entry with the component that produced it.
const SubsystemKey = pslog.TrustedString("sys")

var (
	discardOnce sync.Once
	discard     pslog.Logger
)

// Discard returns a logger with every level disabled.
func Discard() pslog.Logger {
	discardOnce.Do(func() {
		discard = pslog.NewWithOptions(io.Discard, pslog.Options{
			Mode:     pslog.ModeStructured,
			MinLevel: pslog.Disabled,
		})
	})
	return discard
}

// Ensure returns b, or a disabled logger when b is nil.
func Ensure(b pslog.Base) pslog.Base {
	if b == nil {
		return Discard()
	}
	return b
}

// Subsystem joins non-empty parts with dots, e.g. Subsystem("client", "dispatch").
func Subsystem(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.Trim(p, ". "); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ".")
}

// WithSubsystem tags b with sys=subsystem when b supports contextual fields.
// Plain pslog.Base values are returned unchanged.
func WithSubsystem(b pslog.Base, subsystem string) pslog.Base {
	b = Ensure(b)
	subsystem = strings.Trim(subsystem, ". ")
	if subsystem == "" {
		return b
	}
	if full, ok := b.(pslog.Logger); ok {
		return full.With(SubsystemKey, subsystem)
	}
	return b
}

// Full returns b as a pslog.Logger when it is one, otherwise a disabled
// logger.
func Full(b pslog.Base) pslog.Logger {
	if full, ok := b.(pslog.Logger); ok && full != nil {
		return full
	}
	return Discard()
}
