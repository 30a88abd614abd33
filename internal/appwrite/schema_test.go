package appwrite

import (
	"testing"

	"appwritectl/internal/mutation"
)

func TestValidateParamsRequired(t *testing.T) {
	serr := validateParams("database.create", map[string]any{"database_id": "db"})
	if serr == nil || serr.Code != mutation.CodeValidation {
		t.Fatalf("missing name: %+v", serr)
	}
	if serr := validateParams("database.create", map[string]any{"database_id": "db", "name": "DB"}); serr != nil {
		t.Fatalf("valid params: %+v", serr)
	}
}

func TestValidateParamsTypes(t *testing.T) {
	serr := validateParams("function.deployment.trigger",
		map[string]any{"function_id": "fn", "code": "x", "activate": "yes"})
	if serr == nil || serr.Code != mutation.CodeValidation {
		t.Fatalf("activate must be boolean: %+v", serr)
	}
}

func TestValidateParamsExplicitUserUpdateFallback(t *testing.T) {
	// Explicit field actions match the domain's "*" schema.
	serr := validateParams("auth.users.update.email", map[string]any{"email": "x@y"})
	if serr == nil || serr.Code != mutation.CodeValidation {
		t.Fatalf("missing user_id: %+v", serr)
	}
	if serr := validateParams("auth.users.update.email", map[string]any{"user_id": "u", "email": "x@y"}); serr != nil {
		t.Fatalf("valid: %+v", serr)
	}
}

func TestValidateParamsNilParams(t *testing.T) {
	if serr := validateParams("database.list", nil); serr != nil {
		t.Fatalf("nil params on list: %+v", serr)
	}
}
