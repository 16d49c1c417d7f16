//go:build darwin || linux

package readiness

import "github.com/ebitengine/purego"

// openLibrary dlopens path with every symbol resolved up front, then closes it.
func openLibrary(path string) error {
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return err
	}
	return purego.Dlclose(h)
}
