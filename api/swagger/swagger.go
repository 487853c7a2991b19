package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "LMS Core API",
        "description": "Entitlement and access-control engine for the course platform",
        "version": "0.1.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Auth", "description": "Session and token management"},
        {"name": "Access", "description": "Resource access checks and stream tokens"},
        {"name": "Payments", "description": "Payment submission and verification"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "Database unavailable"}
                }
            }
        },
        "/api/v1/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Authenticate with email and password",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/api/v1/auth/refresh": {
            "post": {
                "tags": ["Auth"],
                "summary": "Exchange a refresh token for a new token pair",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RefreshTokenRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid or expired refresh token"}
                }
            }
        },
        "/api/v1/auth/logout": {
            "post": {
                "tags": ["Auth"],
                "summary": "Revoke the caller's refresh tokens",
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "Unauthorized"}
                }
            }
        },
        "/api/v1/resources/{id}/access": {
            "get": {
                "tags": ["Access"],
                "summary": "Check whether the caller may access a resource",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Verdict"}},
                    "404": {"description": "Resource not found"}
                }
            }
        },
        "/api/v1/resources/{id}/stream-token": {
            "post": {
                "tags": ["Access"],
                "summary": "Issue a short-lived stream token for a resource",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "403": {"description": "Access denied"},
                    "404": {"description": "Resource not found"}
                }
            }
        },
        "/api/v1/stream/validate": {
            "get": {
                "tags": ["Access"],
                "summary": "Validate a previously issued stream token",
                "parameters": [
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Token valid"},
                    "401": {"description": "Token invalid or expired"}
                }
            }
        },
        "/api/v1/payments": {
            "post": {
                "tags": ["Payments"],
                "summary": "Submit a payment for a course",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitPaymentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Open or completed payment already exists"},
                    "412": {"description": "Amount does not match course price"}
                }
            },
            "get": {
                "tags": ["Payments"],
                "summary": "List payments",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "course_id", "in": "query", "type": "string"},
                    {"name": "student_id", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "sort", "in": "query", "type": "string"},
                    {"name": "order", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/payments/{id}/verify": {
            "post": {
                "tags": ["Payments"],
                "summary": "Verify a pending payment and grant enrollment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Payment not found"},
                    "409": {"description": "Payment is not pending"}
                }
            }
        },
        "/api/v1/payments/{id}/reject": {
            "post": {
                "tags": ["Payments"],
                "summary": "Reject a pending payment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/RejectPaymentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Payment not found"},
                    "409": {"description": "Payment already completed"}
                }
            }
        },
        "/api/v1/courses/{id}/enroll": {
            "post": {
                "tags": ["Payments"],
                "summary": "Enroll directly in a free course",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Already enrolled"},
                    "412": {"description": "Course is not free"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["email", "password"]
        },
        "RefreshTokenRequest": {
            "type": "object",
            "properties": {
                "refresh_token": {"type": "string"}
            },
            "required": ["refresh_token"]
        },
        "SubmitPaymentRequest": {
            "type": "object",
            "properties": {
                "course_id": {"type": "string"},
                "amount": {"type": "integer"},
                "proof_url": {"type": "string"}
            },
            "required": ["course_id"]
        },
        "RejectPaymentRequest": {
            "type": "object",
            "properties": {
                "reason": {"type": "string"}
            }
        },
        "Verdict": {
            "type": "object",
            "properties": {
                "allowed": {"type": "boolean"},
                "reason": {"type": "string"},
                "can_edit_content": {"type": "boolean"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
