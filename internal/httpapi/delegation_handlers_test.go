package httpapi

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratedesk.org/internal/auth"
)

// loginFor drives the real login endpoint and returns an access token.
func loginFor(t *testing.T, h http.Handler, identifier, password string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/login",
		fmt.Sprintf(`{"identifier":%q,"password":%q}`, identifier, password), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pair auth.TokenPair
	decodeBody(t, rec, &pair)
	return pair.AccessToken
}

func seedDelegationFixture(t *testing.T, env *testEnv) {
	t.Helper()
	env.seedRole("manager", 50,
		auth.PermissionRule{Resource: "reports", Actions: []string{"read", "export"}},
		auth.PermissionRule{Resource: "delegations", Actions: []string{"revoke"}},
	)
	env.seedRole("client", 10,
		auth.PermissionRule{Resource: "orders", Actions: []string{"read"}},
	)
	env.seedIdentity(t, "mgr-1", "marzhan", "marzhan@ratedesk.kz", "pw-mgr", "manager")
	env.seedIdentity(t, "cli-1", "daulet", "daulet@ratedesk.kz", "pw-cli", "client")
}

func TestAuthzCheckRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	h := env.api.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/authz/check",
		`{"resource":"reports","action":"read"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthzCheckDecisions(t *testing.T) {
	env := newTestEnv(t)
	seedDelegationFixture(t, env)
	h := env.api.Handler()
	token := loginFor(t, h, "marzhan", "pw-mgr")

	cases := []struct {
		resource, action string
		allowed          bool
	}{
		{"reports", "read", true},
		{"reports", "export", true},
		{"reports", "delete", false},
		{"orders", "read", false},
	}
	for _, tc := range cases {
		rec := doJSON(t, h, http.MethodPost, "/v1/authz/check",
			fmt.Sprintf(`{"resource":%q,"action":%q}`, tc.resource, tc.action), token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp authzCheckResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, tc.allowed, resp.Allowed, "%s:%s", tc.resource, tc.action)
	}
}

func TestGrantDelegationExtendsGrantee(t *testing.T) {
	env := newTestEnv(t)
	seedDelegationFixture(t, env)
	h := env.api.Handler()
	mgrToken := loginFor(t, h, "marzhan", "pw-mgr")
	cliToken := loginFor(t, h, "daulet", "pw-cli")

	before := doJSON(t, h, http.MethodPost, "/v1/authz/check",
		`{"resource":"reports","action":"read"}`, cliToken)
	require.Equal(t, http.StatusOK, before.Code)
	var decision authzCheckResponse
	decodeBody(t, before, &decision)
	require.False(t, decision.Allowed)

	rec := doJSON(t, h, http.MethodPost, "/v1/delegations",
		`{"grantee_id":"cli-1","permissions":[{"resource":"reports","actions":["read"]}],"ttl_seconds":3600}`,
		mgrToken)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var d auth.Delegation
	decodeBody(t, rec, &d)
	assert.Equal(t, "mgr-1", d.GranterID)
	assert.Equal(t, "cli-1", d.GranteeID)
	assert.NotEmpty(t, d.ID)

	after := doJSON(t, h, http.MethodPost, "/v1/authz/check",
		`{"resource":"reports","action":"read"}`, cliToken)
	require.Equal(t, http.StatusOK, after.Code)
	decodeBody(t, after, &decision)
	assert.True(t, decision.Allowed)

	list := doJSON(t, h, http.MethodGet, "/v1/delegations", "", cliToken)
	require.Equal(t, http.StatusOK, list.Code)
	var active []auth.Delegation
	decodeBody(t, list, &active)
	require.Len(t, active, 1)
	assert.Equal(t, d.ID, active[0].ID)
}

func TestGrantBeyondOwnScopeIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	seedDelegationFixture(t, env)
	h := env.api.Handler()
	cliToken := loginFor(t, h, "daulet", "pw-cli")

	rec := doJSON(t, h, http.MethodPost, "/v1/delegations",
		`{"grantee_id":"mgr-1","permissions":[{"resource":"reports","actions":["read"]}],"ttl_seconds":3600}`,
		cliToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRevokeRequiresPermission(t *testing.T) {
	env := newTestEnv(t)
	seedDelegationFixture(t, env)
	h := env.api.Handler()
	mgrToken := loginFor(t, h, "marzhan", "pw-mgr")
	cliToken := loginFor(t, h, "daulet", "pw-cli")

	rec := doJSON(t, h, http.MethodPost, "/v1/delegations",
		`{"grantee_id":"cli-1","permissions":[{"resource":"reports","actions":["read"]}],"ttl_seconds":3600}`,
		mgrToken)
	require.Equal(t, http.StatusCreated, rec.Code)
	var d auth.Delegation
	decodeBody(t, rec, &d)

	denied := doJSON(t, h, http.MethodDelete, "/v1/delegations/"+d.ID, "", cliToken)
	assert.Equal(t, http.StatusForbidden, denied.Code)

	ok := doJSON(t, h, http.MethodDelete, "/v1/delegations/"+d.ID, "", mgrToken)
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())

	check := doJSON(t, h, http.MethodPost, "/v1/authz/check",
		`{"resource":"reports","action":"read"}`, cliToken)
	require.Equal(t, http.StatusOK, check.Code)
	var decision authzCheckResponse
	decodeBody(t, check, &decision)
	assert.False(t, decision.Allowed)
}

func TestRevokeUnknownDelegation(t *testing.T) {
	env := newTestEnv(t)
	seedDelegationFixture(t, env)
	h := env.api.Handler()
	mgrToken := loginFor(t, h, "marzhan", "pw-mgr")

	rec := doJSON(t, h, http.MethodDelete, "/v1/delegations/no-such-id", "", mgrToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
