// Package klog is the kernel's boot log. It replaces the teacher's
// ad-hoc printk(COLOR "[tag]: ..." RESET "\n", ...) convention with a
// zerolog.Logger per subsystem, writing through a
// zerolog.ConsoleWriter so the output keeps the same bracketed-tag,
// colorized feel while being a structured logger underneath.
package klog

import (
	"io"

	"github.com/rs/zerolog"
)

// root is the logger every subsystem sub-logger is derived from. It is
// reassigned by Init; the zero value writes to io.Discard so packages
// that log before boot (or in tests that don't call Init) don't panic.
var root = zerolog.New(io.Discard)

// Init wires the root logger to w (normally the console byte-sink,
// Component H). Call once during boot.
func Init(w io.Writer, level zerolog.Level) {
	cw := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    false,
		TimeFormat: "15:04:05.000",
		PartsOrder: []string{
			zerolog.TimestampFieldName,
			zerolog.LevelFieldName,
			"subsystem",
			zerolog.MessageFieldName,
		},
	}
	root = zerolog.New(cw).Level(level).With().Timestamp().Logger()
}

// For returns the sub-logger for a named subsystem, e.g. klog.For("pmm"),
// mirroring the teacher's per-subsystem "[pmm]:" tag.
func For(subsystem string) zerolog.Logger {
	return root.With().Str("subsystem", subsystem).Logger()
}

// Silence redirects the root logger to io.Discard, used by tests that
// want kernel subsystems to run without producing console noise.
func Silence() {
	root = zerolog.New(io.Discard)
}
