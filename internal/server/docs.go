package server

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/scans": {
            "get": {
                "produces": ["application/json"],
                "summary": "List scan jobs, newest first",
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/Job"}}}}
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Start a scan job",
                "parameters": [{"in": "body", "name": "body", "schema": {"$ref": "#/definitions/StartScanRequest"}}],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/Job"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/scans/{id}": {
            "get": {
                "produces": ["application/json"],
                "summary": "Get a scan job",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Job"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            },
            "delete": {
                "summary": "Cancel a scan job",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/ws/scans": {
            "get": {
                "summary": "Start a scan job and stream its events over a websocket",
                "parameters": [{"in": "query", "name": "target", "type": "string"}],
                "responses": {"101": {"description": "Switching Protocols"}}
            }
        },
        "/history": {
            "get": {
                "produces": ["application/json"],
                "summary": "List stored runs, newest first",
                "parameters": [{"in": "query", "name": "limit", "type": "integer"}],
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/Run"}}}}
            }
        },
        "/history/{id}": {
            "get": {
                "produces": ["application/json"],
                "summary": "Get a stored run with its alerts",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Run"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/history/diff": {
            "get": {
                "produces": ["application/json"],
                "summary": "Diff the alerts of two runs; base defaults to the previous run of head's target",
                "parameters": [
                    {"in": "query", "name": "base", "type": "string"},
                    {"in": "query", "name": "head", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/RunDiff"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "summary": "Report the scanner version",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/HealthResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/HealthResponse"}}
                }
            }
        }
    },
    "definitions": {
        "StartScanRequest": {"type": "object", "properties": {"target": {"type": "string", "example": "http://localhost:3000"}}},
        "ErrorResponse": {"type": "object", "properties": {"error": {"type": "string"}}},
        "HealthResponse": {"type": "object", "properties": {"status": {"type": "string"}, "zap_version": {"type": "string"}, "error": {"type": "string"}}},
        "Alert": {"type": "object", "properties": {"alert": {"type": "string"}, "risk": {"type": "string"}, "confidence": {"type": "string"}, "url": {"type": "string"}, "param": {"type": "string"}}},
        "Job": {"type": "object", "properties": {
            "id": {"type": "string"}, "target": {"type": "string"}, "status": {"type": "string"},
            "error": {"type": "string"}, "phase": {"type": "string"}, "percent": {"type": "integer"},
            "started_at": {"type": "string"}, "ended_at": {"type": "string"}
        }},
        "Run": {"type": "object", "properties": {
            "id": {"type": "string"}, "target": {"type": "string"}, "status": {"type": "string"},
            "hosts": {"type": "array", "items": {"type": "string"}},
            "alerts": {"type": "array", "items": {"$ref": "#/definitions/Alert"}},
            "alert_counts": {"type": "object", "additionalProperties": {"type": "integer"}}
        }},
        "RunDiff": {"type": "object", "properties": {
            "base_id": {"type": "string"}, "head_id": {"type": "string"},
            "added": {"type": "array", "items": {"$ref": "#/definitions/Alert"}},
            "removed": {"type": "array", "items": {"$ref": "#/definitions/Alert"}},
            "unchanged": {"type": "integer"}, "text": {"type": "string"}
        }}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "zapctl API",
	Description:      "Start ZAP spider and active scan runs, follow their progress and browse stored results.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
