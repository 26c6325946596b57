package plugin

// Bounds on manifest collections, to cap resource use per plugin.
const (
	MaxHooks        = 100
	MaxFilters      = 100
	MaxRoutes       = 50
	MaxCapabilities = 20
)

// ManifestSchema is the JSON Schema for plugin manifest validation.
const ManifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "version"],
  "properties": {
    "name": {
      "type": "string",
      "pattern": "^[a-z0-9-_]+$",
      "description": "Unique plugin slug"
    },
    "version": {
      "type": "string",
      "minLength": 1,
      "description": "Semver version"
    },
    "description": {
      "type": "string"
    },
    "author": {
      "type": "string"
    },
    "capabilities": {
      "type": "array",
      "maxItems": 20,
      "items": { "type": "string" }
    },
    "dependencies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "range"],
        "properties": {
          "name": {
            "type": "string",
            "minLength": 1
          },
          "range": {
            "type": "string",
            "minLength": 1,
            "description": "Semver constraint (e.g., ^1.0.0)"
          },
          "optional": {
            "type": "boolean"
          }
        }
      }
    },
    "hooks": {
      "type": "array",
      "maxItems": 100,
      "items": { "type": "string", "minLength": 1 }
    },
    "filters": {
      "type": "array",
      "maxItems": 100,
      "items": { "type": "string", "minLength": 1 }
    },
    "routes": {
      "type": "array",
      "maxItems": 50,
      "items": {
        "type": "object",
        "required": ["path", "method", "handler"],
        "properties": {
          "path": {
            "type": "string",
            "minLength": 1
          },
          "method": {
            "type": "string",
            "enum": ["GET", "POST", "PUT", "PATCH", "DELETE"]
          },
          "handler": {
            "type": "string",
            "minLength": 1
          },
          "requiredCapability": {
            "type": "string"
          }
        }
      }
    },
    "requirements": {
      "type": "object",
      "properties": {
        "host": {
          "type": "string",
          "description": "Semver range on the host version"
        }
      }
    }
  }
}`
