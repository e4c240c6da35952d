package tswatch

import (
	"errors"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const statusEventSchemaJSON = `{
  "type": "object",
  "required": ["date_submitted", "execution_status", "html_url"],
  "properties": {
    "date_submitted": {"type": "string"},
    "date_started": {"type": ["string", "null"]},
    "date_finished": {"type": ["string", "null"]},
    "execution_status": {"enum": ["queued", "in_progress", "complete"]},
    "execution_duration": {"type": ["number", "null"]},
    "html_hash": {"type": ["string", "null"]},
    "html_url": {"type": "string"}
  }
}`

const htmlStatusSchemaJSON = `{
  "type": "object",
  "required": ["available", "html_url"],
  "properties": {
    "available": {"type": "boolean"},
    "html_hash": {"type": ["string", "null"]},
    "html_url": {"type": "string"}
  }
}`

const pageSchemaJSON = `{
  "type": "object",
  "required": ["name", "title", "html_url", "html_status_url", "html_events_url"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "title": {"type": "string"},
    "date_added": {"type": "string"},
    "cache_ttl": {"type": ["integer", "null"]},
    "tags": {"type": "array", "items": {"type": "string"}},
    "self_url": {"type": "string"},
    "html_url": {"type": "string"},
    "html_status_url": {"type": "string"},
    "html_events_url": {"type": "string"}
  }
}`

const pageListSchemaJSON = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["name", "title", "self_url"],
    "properties": {
      "name": {"type": "string"},
      "title": {"type": "string"},
      "self_url": {"type": "string"}
    }
  }
}`

const contentNodeDefinitions = `"definitions": {
    "node": {
      "type": "object",
      "required": ["node_type", "path", "title", "contents"],
      "properties": {
        "node_type": {"enum": ["owner", "repo", "directory", "page"]},
        "path": {"type": "string"},
        "title": {"type": "string"},
        "contents": {"type": "array", "items": {"$ref": "#/definitions/node"}}
      }
    },
    "check": {
      "type": ["object", "null"],
      "required": ["status", "head_sha", "name", "html_url"],
      "properties": {
        "status": {"enum": ["queued", "in_progress", "completed"]},
        "conclusion": {"enum": [null, "success", "failure", "neutral", "cancelled", "timed_out", "action_required", "stale"]},
        "head_sha": {"type": "string"},
        "name": {"type": "string"},
        "html_url": {"type": "string"}
      }
    }
  }`

const githubContentsSchemaJSON = `{
  ` + contentNodeDefinitions + `,
  "type": "object",
  "required": ["contents"],
  "properties": {
    "contents": {"type": "array", "items": {"$ref": "#/definitions/node"}}
  }
}`

const githubPRContentsSchemaJSON = `{
  ` + contentNodeDefinitions + `,
  "type": "object",
  "required": ["contents", "owner", "repo", "commit", "yaml_check", "nbexec_check", "pull_requests"],
  "properties": {
    "contents": {"type": "array", "items": {"$ref": "#/definitions/node"}},
    "owner": {"type": "string"},
    "repo": {"type": "string"},
    "commit": {"type": "string"},
    "yaml_check": {"$ref": "#/definitions/check"},
    "nbexec_check": {"$ref": "#/definitions/check"},
    "pull_requests": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["number", "title", "conversation_url", "state"],
        "properties": {
          "number": {"type": "integer"},
          "title": {"type": "string"},
          "conversation_url": {"type": "string"},
          "state": {"enum": ["draft", "open", "merged", "closed"]}
        }
      }
    }
  }
}`

var (
	statusEventSchema = mustSchema(statusEventSchemaJSON)
	htmlStatusSchema  = mustSchema(htmlStatusSchemaJSON)
	pageSchema        = mustSchema(pageSchemaJSON)
	pageListSchema    = mustSchema(pageListSchemaJSON)

	githubContentsSchema   = mustSchema(githubContentsSchemaJSON)
	githubPRContentsSchema = mustSchema(githubPRContentsSchemaJSON)
)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic("tswatch: bad schema: " + err.Error())
	}
	return s
}

// validateShape checks an already decoded JSON document against schema and
// folds every violation into one error.
func validateShape(schema *gojsonschema.Schema, doc any) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return errors.New(strings.Join(msgs, "; "))
}
