package settings

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/richinsley/comfy2ayon/errdefs"
)

const modelItemSchema = `{
	"type": "object",
	"properties": {
		"enabled": {"type": "boolean"},
		"dir_templates": {"type": "array", "items": {"type": "string"}},
		"copy_to_base": {"type": "boolean"}
	},
	"additionalProperties": false
}`

var schema = fmt.Sprintf(`{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"title": "ComfyUI addon settings",
	"type": "object",
	"definitions": {
		"repository": {
			"type": "object",
			"properties": {
				"url": {"type": "string", "minLength": 1},
				"tag": {"type": "string"},
				"name": {"type": "string"}
			},
			"required": ["url"]
		},
		"plugin": {
			"type": "object",
			"properties": {
				"url": {"type": "string", "minLength": 1},
				"tag": {"type": "string"},
				"name": {"type": "string"},
				"extra_dependencies": {"type": "array", "items": {"type": "string"}}
			},
			"required": ["url"],
			"additionalProperties": false
		},
		"model": %s
	},
	"properties": {
		"repositories": {
			"type": "object",
			"properties": {
				"base_template": {"type": "string", "minLength": 1},
				"base": {"$ref": "#/definitions/repository"},
				"plugins": {"type": "array", "items": {"$ref": "#/definitions/plugin"}}
			}
		},
		"general": {
			"type": "object",
			"properties": {
				"use_cpu": {"type": "boolean"},
				"extra_models": {
					"type": "object",
					"properties": {
						"checkpoints": {"$ref": "#/definitions/model"},
						"clip": {"$ref": "#/definitions/model"},
						"clip_vision": {"$ref": "#/definitions/model"},
						"controlnet": {"$ref": "#/definitions/model"},
						"embeddings": {"$ref": "#/definitions/model"},
						"loras": {"$ref": "#/definitions/model"},
						"upscale_models": {"$ref": "#/definitions/model"},
						"vae": {"$ref": "#/definitions/model"}
					},
					"additionalProperties": false
				}
			}
		},
		"caching": {
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"cache_dir_template": {"type": "string"}
			}
		}
	}
}`, modelItemSchema)

// Schema returns the JSON schema settings documents are checked against.
func Schema() string {
	return schema
}

// Validate checks a raw settings document against Schema and reports every violation
// in one Invalid error.
func Validate(raw []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(schema)
	documentLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return errdefs.Invalid("settings.Validate", "error validating settings: %v", err)
	}
	if !result.Valid() {
		var validationErrors []string
		for _, desc := range result.Errors() {
			validationErrors = append(validationErrors, desc.String())
		}
		return errdefs.Invalid("settings.Validate", "settings validation failed: %v", validationErrors)
	}
	return nil
}

// ParseValid is Validate followed by Parse.
func ParseValid(raw []byte) (AddonSettings, error) {
	if err := Validate(raw); err != nil {
		return AddonSettings{}, err
	}
	return Parse(raw)
}
