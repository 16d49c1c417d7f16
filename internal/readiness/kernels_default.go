//go:build !llama

package readiness

// kernelsLinked is true when ggml is compiled into the binary.
const kernelsLinked = false
