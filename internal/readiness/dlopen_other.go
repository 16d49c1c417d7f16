//go:build !darwin && !linux

package readiness

// openLibrary is a no-op where dlopen is unavailable; finding the file is
// the strongest signal there.
func openLibrary(string) error { return nil }
