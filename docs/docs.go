// Package docs registers the OpenAPI description served at /swagger.
//
// Regenerate from the handler annotations with:
//
//	swag init -g internal/http/router.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/otp/send": {
            "post": {
                "tags": ["Verification"],
                "summary": "Send a verification code",
                "operationId": "sendOTP",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.SendOTPRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SendOTPResponse"}},
                    "400": {"description": "Invalid address", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Delivery unavailable or failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/otp/verify": {
            "post": {
                "tags": ["Verification"],
                "summary": "Verify a code",
                "operationId": "verifyOTP",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.VerifyOTPRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.VerifyOTPResponse"}},
                    "400": {"description": "Missing fields", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Wrong code", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "No code issued", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "410": {"description": "Code expired", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/otp/status": {
            "get": {
                "tags": ["Verification"],
                "summary": "Code status",
                "operationId": "otpStatus",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "in": "query", "name": "email", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.OTPStatusResponse"}},
                    "400": {"description": "Missing email", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/conversations": {
            "post": {
                "tags": ["Conversations"],
                "summary": "Start a coaching session",
                "operationId": "startConversation",
                "produces": ["application/json"],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Session"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/sessions/{id}/turns": {
            "post": {
                "tags": ["Conversations"],
                "summary": "Send one user turn",
                "operationId": "postTurn",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "in": "path", "name": "id", "required": true},
                    {"type": "string", "in": "header", "name": "Idempotency-Key"},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.PostTurnRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.TurnResponse"}},
                    "400": {"description": "Empty or oversized message", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Session not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Session terminated", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/sessions/{id}/ws": {
            "get": {
                "tags": ["Conversations"],
                "summary": "Conversation websocket",
                "operationId": "sessionSocket",
                "parameters": [{"type": "string", "in": "path", "name": "id", "required": true}],
                "responses": {
                    "101": {"description": "Switching Protocols"},
                    "404": {"description": "Session not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Session not active", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/sessions/{id}/terminate": {
            "post": {
                "tags": ["Conversations"],
                "summary": "End a session",
                "operationId": "terminateSession",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "in": "path", "name": "id", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.TerminateResponse"}},
                    "404": {"description": "Session not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/sessions": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Sessions"],
                "summary": "List sessions (paginated)",
                "operationId": "listSessions",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "integer", "in": "query", "name": "page"},
                    {"type": "integer", "in": "query", "name": "page_size"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListSessionsResponse"}},
                    "304": {"description": "Not Modified"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Sessions"],
                "summary": "Create a session record",
                "operationId": "createSession",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/domain.Session"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Session"}},
                    "400": {"description": "Invalid session", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/sessions/{id}": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Get one session",
                "operationId": "getSession",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "in": "path", "name": "id", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Session"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["Sessions"],
                "summary": "Partially update a session",
                "operationId": "updateSession",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "in": "path", "name": "id", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.UpdateSessionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Session"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Session terminated", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["Sessions"],
                "summary": "Delete a session",
                "operationId": "deleteSession",
                "parameters": [{"type": "string", "in": "path", "name": "id", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/sessions/{id}/messages": {
            "get": {
                "tags": ["Messages"],
                "summary": "List messages in a session",
                "operationId": "listMessages",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "in": "path", "name": "id", "required": true},
                    {"type": "integer", "in": "query", "name": "page"},
                    {"type": "integer", "in": "query", "name": "page_size"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListMessagesResponse"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Messages"],
                "summary": "Append a message to a session",
                "operationId": "appendMessage",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "in": "path", "name": "id", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.AppendMessageRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Message"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/analytics/countries": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Analytics"],
                "summary": "Per-country aggregates",
                "operationId": "countryAnalytics",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.CountriesResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/mirror": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Analytics"],
                "summary": "Unsynced sessions",
                "operationId": "listMirror",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.MirrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string", "example": "123e4567-e89b-12d3-a456-426614174000"},
                "code": {"type": "string", "example": "not_found"},
                "message": {"type": "string", "example": "resource not found"}
            }
        },
        "handlers.SendOTPRequest": {"type": "object", "properties": {"email": {"type": "string"}}},
        "handlers.SendOTPResponse": {"type": "object", "properties": {"success": {"type": "boolean"}, "message": {"type": "string"}, "expiresIn": {"type": "integer"}}},
        "handlers.VerifyOTPRequest": {"type": "object", "properties": {"email": {"type": "string"}, "otp": {"type": "string"}}},
        "handlers.VerifyOTPResponse": {"type": "object", "properties": {"success": {"type": "boolean"}, "token": {"type": "string"}, "expires_at": {"type": "string"}}},
        "handlers.OTPStatusResponse": {"type": "object", "properties": {"success": {"type": "boolean"}, "hasActiveOtp": {"type": "boolean"}, "expiresIn": {"type": "integer"}}},
        "handlers.PostTurnRequest": {"type": "object", "properties": {"content": {"type": "string"}}},
        "handlers.TurnResponse": {"type": "object", "properties": {"phase": {"type": "string"}, "user_message": {"$ref": "#/definitions/domain.Message"}, "reply": {"$ref": "#/definitions/domain.Message"}, "session": {"$ref": "#/definitions/domain.Session"}, "terminated": {"type": "boolean"}, "synced": {"type": "boolean"}, "report_generated": {"type": "boolean"}}},
        "handlers.TerminateResponse": {"type": "object", "properties": {"session": {"$ref": "#/definitions/domain.Session"}, "synced": {"type": "boolean"}, "report_generated": {"type": "boolean"}, "already_terminated": {"type": "boolean"}}},
        "handlers.UpdateSessionRequest": {"type": "object"},
        "handlers.AppendMessageRequest": {"type": "object", "properties": {"role": {"type": "string"}, "content": {"type": "string"}}},
        "handlers.ListSessionsResponse": {"type": "object"},
        "handlers.ListMessagesResponse": {"type": "object"},
        "handlers.CountriesResponse": {"type": "object"},
        "handlers.MirrorResponse": {"type": "object"},
        "domain.Session": {"type": "object"},
        "domain.Message": {"type": "object"}
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "English coaching API",
	Description:      "Conversation, verification and research endpoints of the English coaching assistant.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
