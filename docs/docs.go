// Package docs is generated by swag from the handler annotations in cmd/server.
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
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Service health",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.HealthResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.HealthResponse"}}
                }
            }
        },
        "/v1/importance": {
            "get": {
                "produces": ["application/json"],
                "tags": ["explain"],
                "summary": "Global feature importance",
                "parameters": [
                    {"type": "integer", "description": "Number of features to return", "name": "top_n", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ImportanceResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errors.AppError"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/errors.AppError"}}
                }
            }
        },
        "/v1/predict": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["explain"],
                "summary": "Predict and explain the onset type of one patient record",
                "parameters": [
                    {"description": "Feature values", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.PredictRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.PredictResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errors.AppError"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/errors.AppError"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/errors.AppError"}}
                }
            }
        },
        "/v1/predictions/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["audit"],
                "summary": "Prediction counts per class label",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.LabelCountsResponse"}}
                }
            }
        },
        "/v1/predictions/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["audit"],
                "summary": "Look up an audited prediction",
                "parameters": [
                    {"type": "string", "description": "Prediction ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/database.Prediction"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.AppError"}}
                }
            }
        },
        "/v1/schema": {
            "get": {
                "produces": ["application/json"],
                "tags": ["explain"],
                "summary": "Model input schema",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.SchemaResponse"}}
                }
            }
        }
    },
    "definitions": {
        "errors.AppError": {
            "type": "object",
            "properties": {
                "category": {"type": "string"},
                "code": {"type": "string"},
                "error": {"type": "string"},
                "details": {"type": "object", "additionalProperties": {"type": "string"}},
                "http_status": {"type": "integer"},
                "request_id": {"type": "string"},
                "timestamp": {"type": "string"}
            }
        },
        "database.Prediction": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "request_id": {"type": "string"},
                "model_name": {"type": "string"},
                "model_version": {"type": "string"},
                "class_index": {"type": "integer"},
                "label": {"type": "string"},
                "score": {"type": "number"},
                "scores": {"type": "array", "items": {"type": "number"}},
                "record": {"type": "object", "additionalProperties": {"type": "number"}},
                "native_agrees": {"type": "boolean"},
                "created_at": {"type": "string"}
            }
        },
        "database.LabelCount": {
            "type": "object",
            "properties": {
                "label": {"type": "string"},
                "count": {"type": "integer"}
            }
        },
        "decision.PredictionResult": {
            "type": "object",
            "properties": {
                "class_index": {"type": "integer"},
                "label": {"type": "string"},
                "score": {"type": "number"},
                "scores": {"type": "array", "items": {"type": "number"}},
                "native_agrees": {"type": "boolean"}
            }
        },
        "explain.ImportanceEntry": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "title": {"type": "string"},
                "score": {"type": "number"}
            }
        },
        "explain.WaterfallEntry": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "title": {"type": "string"},
                "value": {"type": "number"},
                "display": {"type": "string"},
                "contribution": {"type": "number"}
            }
        },
        "explain.FoldedEntry": {
            "type": "object",
            "properties": {
                "label": {"type": "string"},
                "count": {"type": "integer"},
                "contribution": {"type": "number"}
            }
        },
        "explain.Waterfall": {
            "type": "object",
            "properties": {
                "class_index": {"type": "integer"},
                "label": {"type": "string"},
                "baseline": {"type": "number"},
                "entries": {"type": "array", "items": {"$ref": "#/definitions/explain.WaterfallEntry"}},
                "other": {"$ref": "#/definitions/explain.FoldedEntry"},
                "total": {"type": "number"}
            }
        },
        "pipeline.ModelInfo": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "title": {"type": "string"},
                "version": {"type": "string"},
                "notice": {"type": "string"}
            }
        },
        "schema.Category": {
            "type": "object",
            "properties": {
                "label": {"type": "string"},
                "code": {"type": "integer"}
            }
        },
        "schema.Feature": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "column": {"type": "string"},
                "title": {"type": "string"},
                "unit": {"type": "string"},
                "kind": {"type": "string", "enum": ["continuous", "categorical"]},
                "min": {"type": "number"},
                "max": {"type": "number"},
                "categories": {"type": "array", "items": {"$ref": "#/definitions/schema.Category"}}
            }
        },
        "types.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "timestamp": {"type": "string"},
                "version": {"type": "string"},
                "components": {"type": "object"}
            }
        },
        "types.ImportanceResponse": {
            "type": "object",
            "properties": {
                "model": {"$ref": "#/definitions/pipeline.ModelInfo"},
                "top_n": {"type": "integer"},
                "importance": {"type": "array", "items": {"$ref": "#/definitions/explain.ImportanceEntry"}}
            }
        },
        "types.LabelCountsResponse": {
            "type": "object",
            "properties": {
                "model": {"type": "string"},
                "counts": {"type": "array", "items": {"$ref": "#/definitions/database.LabelCount"}}
            }
        },
        "types.PredictRequest": {
            "type": "object",
            "required": ["features"],
            "properties": {
                "features": {"type": "object"},
                "top_n": {"type": "integer"}
            }
        },
        "types.PredictResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "model": {"$ref": "#/definitions/pipeline.ModelInfo"},
                "prediction": {"$ref": "#/definitions/decision.PredictionResult"},
                "importance": {"type": "array", "items": {"$ref": "#/definitions/explain.ImportanceEntry"}},
                "waterfall": {"$ref": "#/definitions/explain.Waterfall"},
                "created_at": {"type": "string"}
            }
        },
        "types.SchemaResponse": {
            "type": "object",
            "properties": {
                "model": {"$ref": "#/definitions/pipeline.ModelInfo"},
                "class_labels": {"type": "array", "items": {"type": "string"}},
                "features": {"type": "array", "items": {"$ref": "#/definitions/schema.Feature"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Onset Explainer API",
	Description:      "Predicts the onset type of psoriasis vulgaris patients and explains each prediction with Tree-SHAP attributions.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
