// Package scopes holds the build-time catalog mapping every action to
// the minimum API key scopes it needs. The planner unions these into
// each operation; the catalog itself is served verbatim by the
// scopes.catalog.get tool.
package scopes

import "sort"

// CatalogVersion tags the catalog so clients can detect drift between
// preview and apply. Bump whenever an entry changes.
const CatalogVersion = "2026-07-01"

type entry struct {
	scopes      []string
	destructive bool
}

// project.* actions run against the management endpoint; everything else
// runs under the target project's key.
var catalog = map[string]entry{
	"project.create": {scopes: []string{"projects.write"}},
	"project.delete": {scopes: []string{"projects.write"}, destructive: true},

	"database.list":              {scopes: []string{"databases.read"}},
	"database.create":            {scopes: []string{"databases.write"}},
	"database.upsert_collection": {scopes: []string{"collections.write"}},
	"database.delete_collection": {scopes: []string{"collections.write"}, destructive: true},

	"auth.users.list":   {scopes: []string{"users.read"}},
	"auth.users.create": {scopes: []string{"users.write"}},

	"auth.users.update":                    {scopes: []string{"users.write"}},
	"auth.users.update.email":              {scopes: []string{"users.write"}},
	"auth.users.update.name":               {scopes: []string{"users.write"}},
	"auth.users.update.status":             {scopes: []string{"users.write"}},
	"auth.users.update.password":           {scopes: []string{"users.write"}},
	"auth.users.update.phone":              {scopes: []string{"users.write"}},
	"auth.users.update.email_verification": {scopes: []string{"users.write"}},
	"auth.users.update.phone_verification": {scopes: []string{"users.write"}},
	"auth.users.update.mfa":                {scopes: []string{"users.write"}},
	"auth.users.update.labels":             {scopes: []string{"users.write"}},
	"auth.users.update.prefs":              {scopes: []string{"users.write"}},

	"function.list":               {scopes: []string{"functions.read"}},
	"function.create":             {scopes: []string{"functions.write"}},
	"function.update":             {scopes: []string{"functions.write"}},
	"function.deployment.trigger": {scopes: []string{"functions.write"}},
	"function.execution.trigger":  {scopes: []string{"execution.write"}},
	"function.execution.status":   {scopes: []string{"execution.read"}},
}

// Known reports whether action is in the catalog.
func Known(action string) bool {
	_, ok := catalog[action]
	return ok
}

// Required returns the catalog's minimum scopes for action. The slice is
// a copy; callers may append.
func Required(action string) []string {
	e, ok := catalog[action]
	if !ok {
		return nil
	}
	out := make([]string, len(e.scopes))
	copy(out, e.scopes)
	return out
}

// Destructive reports whether action is inherently destructive. A client
// hint can upgrade other actions but never downgrades these.
func Destructive(action string) bool {
	return catalog[action].destructive
}

// Actions returns every catalog action, sorted.
func Actions() []string {
	out := make([]string, 0, len(catalog))
	for a := range catalog {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// All returns the full catalog as action → scopes, for the
// scopes.catalog.get tool.
func All() map[string][]string {
	out := make(map[string][]string, len(catalog))
	for a := range catalog {
		out[a] = Required(a)
	}
	return out
}
