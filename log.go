package classdb

import (
	"log/slog"

	"github.com/aulakube/classdb/internal/core"
)

// SetLogger replaces the package-level logger used by classdb, allowing
// applications to integrate classdb logging with their own logging
// infrastructure. The provided logger should already carry any desired
// attributes; classdb adds none.
//
// If l is nil, the logger resets to the default: slog.Default() with a
// "component" attribute, re-derived on the next use and then cached. Call
// SetLogger(nil) after slog.SetDefault() to pick up changes.
//
// SetLogger is safe to call concurrently with other classdb operations.
func SetLogger(l *slog.Logger) {
	core.SetLogger(l)
}
