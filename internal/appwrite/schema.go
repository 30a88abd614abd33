package appwrite

import (
	"embed"
	"encoding/json"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"appwritectl/internal/mutation"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// actionSchemas maps an action (or "<domain>:*" wildcard) to its raw
// JSON Schema. All domain files load together on first use; the set is
// read-only afterwards.
var (
	loadSchemas   sync.Once
	actionSchemas map[string]json.RawMessage
)

type schemaDoc struct {
	Actions map[string]json.RawMessage `json:"actions"`
}

// validateParams checks params against the embedded schema for the
// action; a domain may carry a "*" entry covering its remaining
// actions. Actions with no schema pass; the hand-written required-param
// extraction still runs afterwards.
func validateParams(action string, params map[string]any) *mutation.Error {
	loadSchemas.Do(loadActionSchemas)
	raw, ok := actionSchemas[action]
	if !ok {
		raw, ok = actionSchemas[mutation.DomainOf(action)+":*"]
	}
	if !ok {
		return nil
	}
	var schema any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return mutation.NewError(mutation.CodeInternal, "schema load failed: "+err.Error())
	}
	value := params
	if value == nil {
		value = map[string]any{}
	}
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(value))
	if err != nil {
		return mutation.NewError(mutation.CodeInternal, "schema validation failed: "+err.Error())
	}
	if result.Valid() {
		return nil
	}
	msg := "params failed schema validation"
	if len(result.Errors()) > 0 {
		msg = "params: " + result.Errors()[0].String()
	}
	return mutation.NewError(mutation.CodeValidation, msg)
}

// loadActionSchemas flattens every schemas/<domain>.json into one
// action-keyed map, rewriting each file's "*" entry to a
// domain-qualified wildcard. A missing or malformed file contributes
// nothing; its actions then rely on the request builder's own checks.
func loadActionSchemas() {
	actionSchemas = map[string]json.RawMessage{}
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return
	}
	for _, entry := range entries {
		data, err := schemaFS.ReadFile("schemas/" + entry.Name())
		if err != nil {
			continue
		}
		var doc schemaDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			continue
		}
		domain := strings.TrimSuffix(entry.Name(), ".json")
		for action, raw := range doc.Actions {
			if action == "*" {
				actionSchemas[domain+":*"] = raw
				continue
			}
			actionSchemas[action] = raw
		}
	}
}
