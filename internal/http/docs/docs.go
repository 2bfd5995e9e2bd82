// Package docs holds the OpenAPI description served at /swagger/*any.
// Regenerate with: swag init -g internal/http/router.go -o internal/http/docs
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
        "/users": {
            "post": {
                "tags": ["Users"],
                "summary": "Register a user",
                "description": "Registers a user with a keyword set and assigns a delivery group. Unauthenticated: user_id is taken as given, so only trusted frontends should reach this route.",
                "operationId": "registerUser",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/services.RegisterInput"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/services.UserView"}},
                    "400": {"description": "Invalid user data or keywords", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Already registered", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/users/{id}": {
            "get": {
                "tags": ["Users"],
                "summary": "Show a user",
                "operationId": "getUser",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "in": "path", "name": "id", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.UserView"}},
                    "404": {"description": "User not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/users/{id}/interests": {
            "put": {
                "tags": ["Users"],
                "summary": "Replace a user's keywords",
                "description": "Unauthenticated: any caller can change the interests of the id in the path, so only trusted frontends should reach this route.",
                "operationId": "updateInterests",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "in": "path", "name": "id", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.InterestsRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.UserView"}},
                    "400": {"description": "Invalid keywords", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "User not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/stats": {
            "get": {
                "tags": ["Admin"],
                "summary": "Router statistics",
                "operationId": "adminStats",
                "produces": ["application/json"],
                "parameters": [{"$ref": "#/parameters/AdminID"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.Stats"}},
                    "401": {"description": "Missing X-Admin-ID", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "403": {"description": "Not an admin", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/users": {
            "get": {
                "tags": ["Admin"],
                "summary": "List or find users",
                "operationId": "adminListUsers",
                "produces": ["application/json"],
                "parameters": [
                    {"$ref": "#/parameters/AdminID"},
                    {"type": "string", "in": "query", "name": "q"},
                    {"type": "integer", "in": "query", "name": "page", "minimum": 1, "default": 1},
                    {"type": "integer", "in": "query", "name": "page_size", "minimum": 1, "maximum": 100, "default": 20}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListUsersResponse"}}
                }
            }
        },
        "/admin/users/{id}": {
            "delete": {
                "tags": ["Admin"],
                "summary": "Remove a user",
                "operationId": "adminRemoveUser",
                "parameters": [
                    {"$ref": "#/parameters/AdminID"},
                    {"type": "string", "in": "path", "name": "id", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "User not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/users/{id}/rebalance": {
            "post": {
                "tags": ["Admin"],
                "summary": "Reassign a user",
                "operationId": "adminRebalanceUser",
                "produces": ["application/json"],
                "parameters": [
                    {"$ref": "#/parameters/AdminID"},
                    {"type": "string", "in": "path", "name": "id", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.RebalanceResponse"}},
                    "404": {"description": "User not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/export": {
            "get": {
                "tags": ["Admin"],
                "summary": "Export all users",
                "operationId": "adminExport",
                "produces": ["application/json"],
                "parameters": [{"$ref": "#/parameters/AdminID"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/services.UserView"}}}
                }
            }
        },
        "/admin/groups": {
            "get": {
                "tags": ["Admin"],
                "summary": "List groups",
                "operationId": "adminListGroups",
                "produces": ["application/json"],
                "parameters": [{"$ref": "#/parameters/AdminID"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListGroupsResponse"}}
                }
            },
            "post": {
                "tags": ["Admin"],
                "summary": "Add a group bound to a chat",
                "operationId": "adminAddGroup",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"$ref": "#/parameters/AdminID"},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/services.GroupInput"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Group"}},
                    "400": {"description": "Invalid group", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/groups/{id}/binding": {
            "put": {
                "tags": ["Admin"],
                "summary": "Bind a group to a chat",
                "operationId": "adminBindGroup",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"$ref": "#/parameters/AdminID"},
                    {"type": "string", "in": "path", "name": "id", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/services.BindingInput"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.BindingResponse"}},
                    "404": {"description": "Group not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/groups/{id}/retire": {
            "post": {
                "tags": ["Admin"],
                "summary": "Retire a group",
                "operationId": "adminRetireGroup",
                "produces": ["application/json"],
                "parameters": [
                    {"$ref": "#/parameters/AdminID"},
                    {"type": "string", "in": "path", "name": "id", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Group"}},
                    "404": {"description": "Group not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/backups": {
            "get": {
                "tags": ["Admin"],
                "summary": "List snapshots",
                "operationId": "adminListBackups",
                "produces": ["application/json"],
                "parameters": [{"$ref": "#/parameters/AdminID"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListBackupsResponse"}},
                    "503": {"description": "Backups disabled", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "tags": ["Admin"],
                "summary": "Snapshot the database now",
                "operationId": "adminCreateBackup",
                "produces": ["application/json"],
                "parameters": [{"$ref": "#/parameters/AdminID"}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/backup.Snapshot"}},
                    "503": {"description": "Backups disabled", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/broadcast": {
            "post": {
                "tags": ["Admin"],
                "summary": "Announce a message to every active user",
                "description": "Queues one announcement per group with members. Members of groups without a chat are counted as unbound_users.",
                "operationId": "adminBroadcast",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"$ref": "#/parameters/AdminID"},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/services.BroadcastInput"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/services.BroadcastResult"}},
                    "400": {"description": "Empty or oversized text", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Delivery unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/debug": {
            "get": {
                "tags": ["Admin"],
                "summary": "Process diagnostics",
                "operationId": "adminDebug",
                "produces": ["application/json"],
                "parameters": [{"$ref": "#/parameters/AdminID"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.DebugInfo"}}
                }
            }
        }
    },
    "parameters": {
        "AdminID": {"type": "string", "in": "header", "name": "X-Admin-ID", "required": true, "description": "Operator id listed in ADMIN_IDS"}
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string", "example": "user_not_found"},
                "message": {"type": "string"}
            }
        },
        "handlers.WebhookResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string", "example": "notification routed"},
                "key": {"type": "string"},
                "matching_users": {"type": "integer"},
                "unique_groups": {"type": "integer"},
                "queued": {"type": "integer"}
            }
        },
        "handlers.InterestsRequest": {
            "type": "object",
            "required": ["keywords"],
            "properties": {"keywords": {"type": "array", "items": {"type": "string"}}}
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"},
                "has_next": {"type": "boolean"}
            }
        },
        "handlers.ListUsersResponse": {
            "type": "object",
            "properties": {
                "users": {"type": "array", "items": {"$ref": "#/definitions/services.UserView"}},
                "pagination": {"$ref": "#/definitions/handlers.Pagination"}
            }
        },
        "handlers.RebalanceResponse": {
            "type": "object",
            "properties": {
                "previous": {"$ref": "#/definitions/domain.Group"},
                "current": {"$ref": "#/definitions/domain.Group"},
                "moved": {"type": "boolean"}
            }
        },
        "handlers.ListGroupsResponse": {
            "type": "object",
            "properties": {"groups": {"type": "array", "items": {"$ref": "#/definitions/domain.Group"}}}
        },
        "handlers.BindingResponse": {
            "type": "object",
            "properties": {
                "group": {"$ref": "#/definitions/domain.Group"},
                "invited": {"type": "integer"}
            }
        },
        "handlers.ListBackupsResponse": {
            "type": "object",
            "properties": {"backups": {"type": "array", "items": {"$ref": "#/definitions/backup.Snapshot"}}}
        },
        "backup.Snapshot": {
            "type": "object",
            "properties": {
                "name": {"type": "string", "example": "backup_20240301_090000.db"},
                "size": {"type": "integer"},
                "created_at": {"type": "string", "format": "date-time"}
            }
        },
        "domain.Group": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "seq": {"type": "integer"},
                "chat_id": {"type": "string"},
                "title": {"type": "string"},
                "invite_link": {"type": "string"},
                "capacity": {"type": "integer"},
                "member_count": {"type": "integer"},
                "status": {"type": "string", "enum": ["open", "full", "retired"]},
                "created_at": {"type": "string", "format": "date-time"},
                "updated_at": {"type": "string", "format": "date-time"}
            }
        },
        "services.RegisterInput": {
            "type": "object",
            "required": ["user_id", "keywords"],
            "properties": {
                "user_id": {"type": "string", "example": "123456789"},
                "name": {"type": "string"},
                "email": {"type": "string"},
                "intention": {"type": "string"},
                "keywords": {"type": "array", "items": {"type": "string"}, "example": ["ai", "rockets"]}
            }
        },
        "services.UserView": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "email": {"type": "string"},
                "intention": {"type": "string"},
                "status": {"type": "string", "enum": ["active", "removed"]},
                "registered_at": {"type": "string", "format": "date-time"},
                "keywords": {"type": "array", "items": {"type": "string"}},
                "group": {"$ref": "#/definitions/domain.Group"}
            }
        },
        "services.GroupInput": {
            "type": "object",
            "required": ["chat_id"],
            "properties": {
                "chat_id": {"type": "string", "example": "-1001234567890"},
                "title": {"type": "string"},
                "capacity": {"type": "integer", "minimum": 0}
            }
        },
        "services.BindingInput": {
            "type": "object",
            "required": ["chat_id"],
            "properties": {
                "chat_id": {"type": "string"},
                "invite_link": {"type": "string", "example": "https://t.me/+AbCdEf"},
                "title": {"type": "string"}
            }
        },
        "services.Stats": {
            "type": "object",
            "properties": {
                "users": {"type": "integer"},
                "active_users": {"type": "integer"},
                "groups": {"type": "integer"},
                "keywords": {"type": "integer"},
                "unique_keywords": {"type": "integer"},
                "notifications": {"type": "integer"},
                "database_bytes": {"type": "integer"},
                "indexed_users": {"type": "integer"},
                "indexed_keywords": {"type": "integer"},
                "assigned_users": {"type": "integer"},
                "live_groups": {"type": "integer"},
                "ledger_entries": {"type": "integer"},
                "pending_deliveries": {"type": "integer"},
                "directory_healthy": {"type": "boolean"}
            }
        },
        "services.BroadcastInput": {
            "type": "object",
            "required": ["text"],
            "properties": {
                "text": {"type": "string", "maxLength": 4000, "example": "Maintenance tonight at 22:00"}
            }
        },
        "services.BroadcastResult": {
            "type": "object",
            "properties": {
                "key": {"type": "string"},
                "groups": {"type": "integer"},
                "users": {"type": "integer"},
                "unbound_users": {"type": "integer"},
                "dropped": {"type": "integer"}
            }
        },
        "services.DebugInfo": {
            "type": "object",
            "properties": {
                "pid": {"type": "integer"},
                "started_at": {"type": "string", "format": "date-time"},
                "uptime_seconds": {"type": "integer"},
                "rss_bytes": {"type": "integer"},
                "vms_bytes": {"type": "integer"},
                "cpu_percent": {"type": "number"},
                "threads": {"type": "integer"},
                "goroutines": {"type": "integer"},
                "heap_alloc_bytes": {"type": "integer"},
                "go_version": {"type": "string"},
                "pending_deliveries": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Notify Router API",
	Description:      "Keyword notification router: user registration, administration and delivery group management. The ingestion webhook is mounted outside the base path (POST /webhook by default).",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
