// Package docs holds the Swagger specification for the administrative
// HTTP API, in the shape `swag init` produces (the teacher's
// internal/api/docs is generated the same way but isn't checked into
// the reference repo, so this is hand-written to the same template
// rather than copied).
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "{{.Description}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "tags": ["system"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/stats": {
            "get": {
                "tags": ["system"],
                "summary": "Runtime and rule-engine statistics",
                "security": [{"ApiKeyAuth": []}],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/commands": {
            "post": {
                "tags": ["commands"],
                "summary": "Submit an administrative command",
                "description": "HTTP form of the line-oriented command channel (syncRules, clearCache, getStatus, updateRules, reloadConfiguration)",
                "security": [{"ApiKeyAuth": []}],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        }
    },
    "securityDefinitions": {
        "ApiKeyAuth": {
            "type": "apiKey",
            "name": "X-API-Key",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger metadata, following the `swag
// init` naming convention so ginSwagger.WrapHandler can find it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "hydraflow Admin API",
	Description:      "Administrative command channel and status surface for hydraflow.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
