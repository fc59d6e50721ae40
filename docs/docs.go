// Package docs registers the OpenAPI document of the call API with swag.
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
        "/sessions/{id}/room": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["calls"],
                "summary": "Create or fetch the call room of a session",
                "parameters": [
                    {"type": "string", "description": "session id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.RoomRef"}},
                    "402": {"description": "Payment Required", "schema": {"$ref": "#/definitions/errorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/errorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/sessions/{id}/cancel": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["calls"],
                "summary": "Cancel a session and end its call (admin)",
                "parameters": [
                    {"type": "string", "description": "session id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.CallState"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/rooms/{roomId}/join": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["calls"],
                "summary": "Join a call room and receive a signaling access token",
                "parameters": [
                    {"type": "string", "description": "room id", "name": "roomId", "in": "path", "required": true},
                    {"description": "user type, defaults to the token's", "name": "body", "in": "body", "schema": {"$ref": "#/definitions/handler.JoinRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.JoinResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/errorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/rooms/{roomId}/leave": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["calls"],
                "summary": "Leave a call room",
                "parameters": [
                    {"type": "string", "description": "room id", "name": "roomId", "in": "path", "required": true}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/rooms/{roomId}/validate": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["calls"],
                "summary": "Check a room access token",
                "parameters": [
                    {"type": "string", "description": "room id", "name": "roomId", "in": "path", "required": true},
                    {"description": "access token", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.ValidateRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/rooms/{roomId}/status": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["calls"],
                "summary": "Call status and live participant count of a room",
                "parameters": [
                    {"type": "string", "description": "room id", "name": "roomId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.RoomStatus"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/rooms/{roomId}/start": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["calls"],
                "summary": "Force the call into progress",
                "parameters": [
                    {"type": "string", "description": "room id", "name": "roomId", "in": "path", "required": true}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/model.CallState"}}}
            }
        },
        "/rooms/{roomId}/end": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["calls"],
                "summary": "End the call",
                "parameters": [
                    {"type": "string", "description": "room id", "name": "roomId", "in": "path", "required": true},
                    {"description": "session id", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.EndRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/model.CallState"}}}
            }
        }
    },
    "definitions": {
        "errorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}}
        },
        "handler.JoinRequest": {
            "type": "object",
            "properties": {"userType": {"type": "string", "enum": ["student", "tutor"]}}
        },
        "handler.ValidateRequest": {
            "type": "object",
            "properties": {"accessToken": {"type": "string"}}
        },
        "handler.EndRequest": {
            "type": "object",
            "properties": {"sessionId": {"type": "string"}}
        },
        "model.RoomRef": {
            "type": "object",
            "properties": {
                "roomId": {"type": "string"},
                "sessionId": {"type": "string"}
            }
        },
        "model.ICEServer": {
            "type": "object",
            "properties": {"urls": {"type": "array", "items": {"type": "string"}}}
        },
        "model.JoinResponse": {
            "type": "object",
            "properties": {
                "accessToken": {"type": "string"},
                "roomId": {"type": "string"},
                "sessionId": {"type": "string"},
                "participantId": {"type": "string"},
                "userType": {"type": "string"},
                "userData": {"type": "object"},
                "peerData": {"type": "object"},
                "callStatus": {"type": "string"},
                "iceServers": {"type": "array", "items": {"$ref": "#/definitions/model.ICEServer"}}
            }
        },
        "model.RoomStatus": {
            "type": "object",
            "properties": {
                "roomId": {"type": "string"},
                "callStatus": {"type": "string", "enum": ["not-started", "waiting", "in-progress", "ended"]},
                "participantCount": {"type": "integer"},
                "callStartedAt": {"type": "string", "format": "date-time"},
                "callDuration": {"type": "integer"}
            }
        },
        "model.CallState": {
            "type": "object",
            "properties": {
                "sessionId": {"type": "string"},
                "roomId": {"type": "string"},
                "callStatus": {"type": "string"},
                "callStartedAt": {"type": "string", "format": "date-time"},
                "callEndedAt": {"type": "string", "format": "date-time"},
                "callDuration": {"type": "integer"},
                "isCompleted": {"type": "boolean"},
                "cancelled": {"type": "boolean"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/v1",
	Schemes:          []string{},
	Title:            "tutorcall API",
	Description:      "Room access and call lifecycle for tutoring sessions. Signaling runs over GET /v1/ws.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
