//go:build llama

package readiness

const kernelsLinked = true
