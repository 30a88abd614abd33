package mutation

import "testing"

func TestDomainOf(t *testing.T) {
	cases := map[string]string{
		"project.delete":          "project",
		"database.create":         "database",
		"auth.users.update.email": "auth",
		"function.list":           "function",
		"plain":                   "plain",
	}
	for action, want := range cases {
		if got := DomainOf(action); got != want {
			t.Fatalf("%s: %s", action, got)
		}
	}
}

func TestAuthContextComplete(t *testing.T) {
	if (AuthContext{Endpoint: "https://e/v1"}).Complete() {
		t.Fatalf("missing api_key should be incomplete")
	}
	if (AuthContext{APIKey: "k"}).Complete() {
		t.Fatalf("missing endpoint should be incomplete")
	}
	if !(AuthContext{Endpoint: "https://e/v1", APIKey: "k"}).Complete() {
		t.Fatalf("complete context reported incomplete")
	}
}
