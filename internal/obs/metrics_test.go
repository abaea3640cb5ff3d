package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/v1/auth/login":                 "/v1/auth/login",
		"/v1/delegations":                "/v1/delegations",
		"/v1/delegations/01J8Z3":         "/v1/delegations/:id",
		"/v1/delegations/01J8Z3?x=1":     "/v1/delegations/:id",
		"/v1/delegations/01J8Z3/extra":   "/v1/delegations/01J8Z3/extra",
		"/v1/authz/check":                "/v1/authz/check",
		"/v1/auth/reset/confirm?via=app": "/v1/auth/reset/confirm",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
