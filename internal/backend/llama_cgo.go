//go:build llama

package backend

// The llama build links libllama from ./bin and finds it at runtime next to
// the binary via an $ORIGIN rpath.
/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
*/
import "C"
