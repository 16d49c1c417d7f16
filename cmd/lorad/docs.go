package main

// General API documentation for swaggo. Regenerate with `swag init -g cmd/lorad/docs.go -o docs`.
//
// @title           lorad API
// @version         1.0
// @description     Text generation with a Llama 3 base model and a LoRA adapter, plus GPU readiness diagnostics.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
