package appwrite

import (
	"fmt"

	"appwritectl/internal/mutation"
)

// userUpdateField describes one explicit auth.users.update.<field>
// route: the PATCH (or PUT) sub-path and how the one-field body is
// keyed.
type userUpdateField struct {
	Method  string
	Path    string
	BodyKey string
	Kind    string // "string" | "bool" | "array" | "object"
}

var userUpdateFields = map[string]userUpdateField{
	"email":              {Method: "PATCH", Path: "/email", BodyKey: "email", Kind: "string"},
	"name":               {Method: "PATCH", Path: "/name", BodyKey: "name", Kind: "string"},
	"status":             {Method: "PATCH", Path: "/status", BodyKey: "status", Kind: "bool"},
	"password":           {Method: "PATCH", Path: "/password", BodyKey: "password", Kind: "string"},
	"phone":              {Method: "PATCH", Path: "/phone", BodyKey: "number", Kind: "string"},
	"email_verification": {Method: "PATCH", Path: "/verification", BodyKey: "emailVerification", Kind: "bool"},
	"phone_verification": {Method: "PATCH", Path: "/verification/phone", BodyKey: "phoneVerification", Kind: "bool"},
	"mfa":                {Method: "PATCH", Path: "/mfa", BodyKey: "mfa", Kind: "bool"},
	"labels":             {Method: "PUT", Path: "/labels", BodyKey: "labels", Kind: "array"},
	"prefs":              {Method: "PATCH", Path: "/prefs", BodyKey: "prefs", Kind: "object"},
}

// legacyFieldOrder fixes which param wins when the legacy alias carries
// several recognizable fields.
var legacyFieldOrder = []string{
	"email", "name", "password", "phone", "labels", "prefs",
	"mfa", "email_verification", "phone_verification", "status",
}

// buildUserUpdate handles auth.users.update.<field> and the legacy
// auth.users.update alias. The third return is false when action is not
// a user-update action at all.
func buildUserUpdate(action string, params map[string]any) (*requestSpec, *mutation.Error, bool) {
	const explicitPrefix = "auth.users.update."
	switch {
	case len(action) > len(explicitPrefix) && action[:len(explicitPrefix)] == explicitPrefix:
		return buildExplicitUserUpdate(action[len(explicitPrefix):], params)
	case action == "auth.users.update":
		return buildLegacyUserUpdate(params)
	}
	return nil, nil, false
}

func buildExplicitUserUpdate(field string, params map[string]any) (*requestSpec, *mutation.Error, bool) {
	route, ok := userUpdateFields[field]
	if !ok {
		return nil, nil, false
	}
	userID, serr := requireString(params, "user_id")
	if serr != nil {
		return nil, serr, true
	}
	value, ok := fieldValue(params, field, route.Kind)
	if !ok {
		return nil, mutation.NewError(mutation.CodeValidation,
			fmt.Sprintf("param %q required", field)), true
	}
	return &requestSpec{
		Method: route.Method,
		Path:   "/users/" + userID + route.Path,
		Body:   map[string]any{route.BodyKey: value},
	}, nil, true
}

// buildLegacyUserUpdate infers the field from presence and type in
// params and routes exactly as the explicit action would.
func buildLegacyUserUpdate(params map[string]any) (*requestSpec, *mutation.Error, bool) {
	userID, serr := requireString(params, "user_id")
	if serr != nil {
		return nil, serr, true
	}
	for _, field := range legacyFieldOrder {
		route := userUpdateFields[field]
		value, ok := fieldValue(params, field, route.Kind)
		if !ok {
			continue
		}
		return &requestSpec{
			Method: route.Method,
			Path:   "/users/" + userID + route.Path,
			Body:   map[string]any{route.BodyKey: value},
		}, nil, true
	}
	return nil, mutation.NewError(mutation.CodeValidation,
		"auth.users.update: no updatable field found in params"), true
}

func fieldValue(params map[string]any, field, kind string) (any, bool) {
	v, present := params[field]
	if !present {
		return nil, false
	}
	switch kind {
	case "string":
		s, ok := v.(string)
		return s, ok && s != ""
	case "bool":
		b, ok := v.(bool)
		return b, ok
	case "array":
		a, ok := v.([]any)
		return a, ok
	case "object":
		m, ok := v.(map[string]any)
		return m, ok
	}
	return nil, false
}
