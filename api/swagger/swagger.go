package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Hostel Allocation API",
        "description": "Batch and manual hostel bed allocation with ranked waitlists",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Allocations", "description": "Batch runs and manual bed assignment"},
        {"name": "Waitlist", "description": "Ranked waitlist buckets per hostel"}
    ],
    "paths": {
        "/allocations/runs": {
            "post": {
                "tags": ["Allocations"],
                "summary": "Start a batch allocation run",
                "parameters": [
                    {"name": "wait", "in": "query", "type": "boolean", "description": "Run synchronously and return statistics"}
                ],
                "responses": {
                    "200": {"description": "Run finished", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "202": {"description": "Run queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Queue unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/allocations/runs/latest": {
            "get": {
                "tags": ["Allocations"],
                "summary": "Statistics of the latest batch run",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No run recorded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/applications/{id}/assign": {
            "post": {
                "tags": ["Allocations"],
                "summary": "Allocate a specific bed to an application",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AssignBedRequest"}}
                ],
                "responses": {
                    "201": {"description": "Allocated", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Application not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Bed unavailable or application not awaiting allocation", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/waitlist": {
            "get": {
                "tags": ["Waitlist"],
                "summary": "List one waitlist bucket ordered by rank",
                "parameters": [
                    {"name": "hostelId", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "AssignBedRequest": {
            "type": "object",
            "properties": {
                "bedId": {"type": "string"}
            },
            "required": ["bedId"]
        },
        "AllocationRunStats": {
            "type": "object",
            "properties": {
                "runId": {"type": "string"},
                "actor": {"type": "string"},
                "allocated": {"type": "integer"},
                "waitlisted": {"type": "integer"},
                "retained": {"type": "integer"},
                "skipped": {"type": "integer"},
                "errors": {"type": "integer"},
                "startedAt": {"type": "string", "format": "date-time"},
                "finishedAt": {"type": "string", "format": "date-time"}
            }
        },
        "WaitlistEntry": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "applicationId": {"type": "string"},
                "rank": {"type": "integer"},
                "hostelId": {"type": "string"},
                "roomType": {"type": "string"}
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
