// Package docs registers the lorad OpenAPI document with swag.
// Regenerate with: swag init -g cmd/lorad/docs.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "lorad maintainers"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/generate": {
            "post": {
                "description": "Frames the prompt with the system prompt, runs the base model with the LoRA adapter and returns the cleaned assistant text.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["generation"],
                "summary": "Generate a reply",
                "parameters": [
                    {
                        "description": "Generation request",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/types.GenerateRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.GenerateResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "415": {"description": "Unsupported Media Type", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/health": {
            "get": {
                "description": "Runs GPU driver, CUDA runtime and quantization checks. Inside a container the driver check is skipped. Always 200; see all_ok.",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Environment readiness",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Service state",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer", "example": 400},
                "error": {"type": "string", "example": "invalid JSON body"}
            }
        },
        "types.GenerateRequest": {
            "type": "object",
            "properties": {
                "max_new_tokens": {"type": "integer", "example": 180},
                "prompt": {"type": "string", "example": "Explain LoRA in one sentence."},
                "temperature": {"type": "number", "example": 0.7}
            }
        },
        "types.GenerateResponse": {
            "type": "object",
            "properties": {
                "result": {"type": "string", "example": "LoRA fine-tunes a model by learning small low-rank weight updates."}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "adapter_dir": {"type": "string", "example": "/app/adapters/run1"},
                "backend": {"type": "string", "example": "server"},
                "base_model": {"type": "string", "example": "unsloth/llama-3-8b-Instruct-bnb-4bit"},
                "generations_total": {"type": "integer", "example": 12},
                "isolated": {"type": "boolean", "example": true},
                "last_error": {"type": "string"},
                "server_time_unix": {"type": "integer", "example": 1700000000},
                "state": {"type": "string", "example": "ready"},
                "tokenizer_source": {"type": "string", "example": "adapter"},
                "uptime_seconds": {"type": "integer", "example": 3600}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "lorad API",
	Description:      "HTTP API for a Llama 3 base model with a LoRA adapter: text generation and GPU readiness diagnostics.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
