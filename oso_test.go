package oso

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osohq/go-oso-cloud/internal/testutils"
	"github.com/osohq/go-oso-cloud/types"
)

func TestGetPolicy(t *testing.T) {
	c, srv := newTestClient(t)
	srv.Script("/api/policy", testutils.Response{Body: map[string]interface{}{
		"policy": map[string]string{
			"filename": "main.polar",
			"src":      "allow(actor, action, resource) if has_permission(actor, action, resource);",
		},
	}})

	p, err := c.GetPolicy(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "main.polar", p.Filename)
	assert.Contains(t, p.Src, "has_permission")
	assert.Equal(t, http.MethodGet, srv.LastCall().Method)
}

func TestGetPolicy_NoneSet(t *testing.T) {
	c, srv := newTestClient(t)
	srv.Script("/api/policy", testutils.Response{Body: map[string]interface{}{"policy": nil}})

	p, err := c.GetPolicy(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSetPolicy(t *testing.T) {
	c, srv := newTestClient(t)

	err := c.SetPolicy(context.Background(), "main.polar", "allow(_, _, _);")
	require.NoError(t, err)

	call := srv.LastCall()
	assert.Equal(t, http.MethodPost, call.Method)
	assert.Equal(t, "/api/policy", call.Path)
	assert.JSONEq(t, `{"filename": "main.polar", "src": "allow(_, _, _);"}`, string(call.Body))
}

func TestTellBody(t *testing.T) {
	c, srv := newTestClient(t)

	err := c.Tell(context.Background(), "has_role",
		types.String("alice"), types.String("member"),
		types.Instance{Type: "Repo", ID: "anvil"})
	require.NoError(t, err)

	call := srv.LastCall()
	assert.Equal(t, http.MethodPost, call.Method)
	assert.Equal(t, "/api/facts", call.Path)
	assert.JSONEq(t, `{
		"predicate": "has_role",
		"args": [
			{"type": "String", "id": "alice"},
			{"type": "String", "id": "member"},
			{"type": "Repo", "id": "anvil"}
		]
	}`, string(call.Body))
}

func TestTell_BadInstance(t *testing.T) {
	c, srv := newTestClient(t)

	err := c.Tell(context.Background(), "has_role", types.Instance{Type: "User"})
	require.Error(t, err)
	var apiErr *ApiError
	assert.False(t, errors.As(err, &apiErr), "local validation failures are not ApiErrors")
	assert.Empty(t, srv.Calls(), "nothing should go on the wire")
}

func TestDelete(t *testing.T) {
	c, srv := newTestClient(t)

	err := c.Delete(context.Background(), "has_role",
		types.String("alice"), types.String("member"),
		types.Instance{Type: "Repo", ID: "anvil"})
	require.NoError(t, err)

	call := srv.LastCall()
	assert.Equal(t, http.MethodDelete, call.Method)
	assert.Equal(t, "/api/facts", call.Path)
}

func TestBulkTell(t *testing.T) {
	c, srv := newTestClient(t)

	err := c.BulkTell(context.Background(), []types.Fact{
		types.NewFact("is_public", types.Instance{Type: "Repo", ID: "anvil"}),
		types.NewFact("is_public", types.Instance{Type: "Repo", ID: "beta"}),
	})
	require.NoError(t, err)

	call := srv.LastCall()
	assert.Equal(t, "/api/bulk_load", call.Path)
	assert.JSONEq(t, `[
		{"predicate": "is_public", "args": [{"type": "Repo", "id": "anvil"}]},
		{"predicate": "is_public", "args": [{"type": "Repo", "id": "beta"}]}
	]`, string(call.Body))
}

func TestBulkDelete_Wildcard(t *testing.T) {
	c, srv := newTestClient(t)

	err := c.BulkDelete(context.Background(), []types.Fact{
		types.NewFact("has_role", types.String("alice"), nil, nil),
	})
	require.NoError(t, err)

	call := srv.LastCall()
	assert.Equal(t, "/api/bulk_delete", call.Path)
	assert.JSONEq(t, `[
		{"predicate": "has_role", "args": [
			{"type": "String", "id": "alice"},
			{"type": null, "id": null},
			{"type": null, "id": null}
		]}
	]`, string(call.Body))
}

func TestBulk(t *testing.T) {
	c, srv := newTestClient(t)

	fact := types.NewFact("is_public", types.Instance{Type: "Repo", ID: "anvil"})
	err := c.Bulk(context.Background(), []types.Fact{fact}, []types.Fact{fact})
	require.NoError(t, err)

	call := srv.LastCall()
	assert.Equal(t, "/api/bulk", call.Path)
	// deletions go first server-side; both lists ride in one atomic call
	assert.JSONEq(t, `{
		"delete": [{"predicate": "is_public", "args": [{"type": "Repo", "id": "anvil"}]}],
		"tell":   [{"predicate": "is_public", "args": [{"type": "Repo", "id": "anvil"}]}]
	}`, string(call.Body))
}

func TestAuthorize(t *testing.T) {
	c, srv := newTestClient(t)
	srv.Script("/api/authorize", testutils.Response{Body: map[string]bool{"allowed": true}})

	allowed, err := c.Authorize(context.Background(),
		types.Instance{Type: "User", ID: "alice"}, "read",
		types.Instance{Type: "Repo", ID: "anvil"})
	require.NoError(t, err)
	assert.True(t, allowed)

	assert.JSONEq(t, `{
		"actor_type": "User", "actor_id": "alice",
		"action": "read",
		"resource_type": "Repo", "resource_id": "anvil",
		"context_facts": []
	}`, string(srv.LastCall().Body))
}

func TestAuthorize_Denied(t *testing.T) {
	c, srv := newTestClient(t)
	srv.Script("/api/authorize", testutils.Response{Body: map[string]bool{"allowed": false}})

	allowed, err := c.Authorize(context.Background(),
		types.String("alice"), "read", types.String("anvil"))
	require.NoError(t, err, "a denial is a normal result, not an error")
	assert.False(t, allowed)
}

func TestAuthorize_ContextFacts(t *testing.T) {
	c, srv := newTestClient(t)
	srv.Script("/api/authorize", testutils.Response{Body: map[string]bool{"allowed": true}})

	_, err := c.Authorize(context.Background(),
		types.Instance{Type: "User", ID: "alice"}, "read",
		types.Instance{Type: "Repo", ID: "anvil"},
		types.NewFact("has_role",
			types.Instance{Type: "User", ID: "alice"},
			types.String("admin"),
			types.Instance{Type: "Repo", ID: "anvil"}))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"actor_type": "User", "actor_id": "alice",
		"action": "read",
		"resource_type": "Repo", "resource_id": "anvil",
		"context_facts": [{
			"predicate": "has_role",
			"args": [
				{"type": "User", "id": "alice"},
				{"type": "String", "id": "admin"},
				{"type": "Repo", "id": "anvil"}
			]
		}]
	}`, string(srv.LastCall().Body))
}

func TestAuthorizeResources_FilterLaw(t *testing.T) {
	c, srv := newTestClient(t)

	a := types.Instance{Type: "Repo", ID: "a"}
	b := types.Instance{Type: "Repo", ID: "b"}
	cc := types.Instance{Type: "Repo", ID: "c"}
	// server allows {A, C}, in its own order, with a duplicate
	srv.Script("/api/authorize_resources", testutils.Response{Body: map[string]interface{}{
		"results": []map[string]string{
			{"type": "Repo", "id": "c"},
			{"type": "Repo", "id": "a"},
			{"type": "Repo", "id": "a"},
		},
	}})

	got, err := c.AuthorizeResources(context.Background(),
		types.String("alice"), "read", []types.Value{a, b, a, cc})
	require.NoError(t, err)
	// input order and input duplicates win, never the response's
	assert.Equal(t, []types.Value{a, a, cc}, got)
}

func TestAuthorizeResources_Empty(t *testing.T) {
	c, srv := newTestClient(t)

	got, err := c.AuthorizeResources(context.Background(),
		types.String("alice"), "read", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, srv.Calls(), "no round trip for an empty resource list")
}

func TestAuthorizeResources_StringResources(t *testing.T) {
	c, srv := newTestClient(t)
	srv.Script("/api/authorize_resources", testutils.Response{Body: map[string]interface{}{
		"results": []map[string]string{{"type": "String", "id": "anvil"}},
	}})

	got, err := c.AuthorizeResources(context.Background(),
		types.String("alice"), "read",
		[]types.Value{types.String("anvil"), types.String("beta")})
	require.NoError(t, err)
	assert.Equal(t, []types.Value{types.String("anvil")}, got)
}

func TestList(t *testing.T) {
	c, srv := newTestClient(t)
	srv.Script("/api/list", testutils.Response{Body: map[string]interface{}{
		"results": []string{"anvil", "beta"},
	}})

	got, err := c.List(context.Background(), types.String("alice"), "read", "Repo")
	require.NoError(t, err)
	assert.Equal(t, []string{"anvil", "beta"}, got)
	assert.JSONEq(t, `{
		"actor_type": "String", "actor_id": "alice",
		"action": "read",
		"resource_type": "Repo",
		"context_facts": []
	}`, string(srv.LastCall().Body))
}

func TestActions(t *testing.T) {
	c, srv := newTestClient(t)
	srv.Script("/api/actions", testutils.Response{Body: map[string]interface{}{
		"results": []string{"read", "write"},
	}})

	got, err := c.Actions(context.Background(),
		types.Instance{Type: "User", ID: "alice"},
		types.Instance{Type: "Repo", ID: "anvil"})
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "write"}, got)
	assert.JSONEq(t, `{
		"actor_type": "User", "actor_id": "alice",
		"resource_type": "Repo", "resource_id": "anvil",
		"context_facts": []
	}`, string(srv.LastCall().Body))
}

func TestQuery(t *testing.T) {
	c, srv := newTestClient(t)
	srv.Script("/api/query", testutils.Response{Body: map[string]interface{}{
		"results": []map[string]interface{}{
			{
				"predicate": "has_role",
				"args": []map[string]interface{}{
					{"type": "User", "id": "alice"},
					{"type": "String", "id": "member"},
					{"type": "Repo", "id": "anvil"},
				},
			},
		},
	}})

	got, err := c.Query(context.Background(),
		types.NewFact("has_role", types.Instance{Type: "User", ID: "alice"}, nil, nil))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.NewFact("has_role",
		types.Instance{Type: "User", ID: "alice"},
		types.String("member"),
		types.Instance{Type: "Repo", ID: "anvil"}), got[0])

	// the template's wildcards go out as null pairs
	assert.JSONEq(t, `{
		"fact": {
			"predicate": "has_role",
			"args": [
				{"type": "User", "id": "alice"},
				{"type": null, "id": null},
				{"type": null, "id": null}
			]
		},
		"context_facts": []
	}`, string(srv.LastCall().Body))
}

func TestGet_WildcardOmitsParams(t *testing.T) {
	c, srv := newTestClient(t)
	srv.Script("/api/facts", testutils.Response{Body: []interface{}{}})

	_, err := c.Get(context.Background(), "is_admin", nil)
	require.NoError(t, err)

	call := srv.LastCall()
	assert.Equal(t, http.MethodGet, call.Method)
	assert.Equal(t, "is_admin", call.Query.Get("predicate"))
	assert.NotContains(t, call.Query, "args.0.type")
	assert.NotContains(t, call.Query, "args.0.id")
}

func TestGet_Params(t *testing.T) {
	c, srv := newTestClient(t)
	srv.Script("/api/facts", testutils.Response{Body: []map[string]interface{}{
		{
			"predicate": "has_role",
			"args": []map[string]interface{}{
				{"type": "User", "id": "alice"},
				{"type": "String", "id": "member"},
				{"type": "Repo", "id": "anvil"},
			},
		},
	}})

	got, err := c.Get(context.Background(), "has_role",
		types.Instance{Type: "User", ID: "alice"}, nil, types.String("member"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "has_role", got[0].Predicate)

	call := srv.LastCall()
	assert.Equal(t, "User", call.Query.Get("args.0.type"))
	assert.Equal(t, "alice", call.Query.Get("args.0.id"))
	assert.NotContains(t, call.Query, "args.1.type")
	assert.NotContains(t, call.Query, "args.1.id")
	assert.Equal(t, "String", call.Query.Get("args.2.type"))
	assert.Equal(t, "member", call.Query.Get("args.2.id"))
}

func TestStats(t *testing.T) {
	c, srv := newTestClient(t)
	srv.Script("/api/stats", testutils.Response{Body: map[string]int64{
		"num_roles":     3,
		"num_facts":     120,
		"num_relations": 7,
	}})

	got, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Stats{NumRoles: 3, NumFacts: 120, NumRelations: 7}, got)
}

func TestClearData(t *testing.T) {
	c, srv := newTestClient(t)
	srv.Script("/api/clear_data", testutils.Response{Offset: "41"})

	require.NoError(t, c.ClearData(context.Background()))
	call := srv.LastCall()
	assert.Equal(t, http.MethodPost, call.Method)
	assert.Equal(t, "/api/clear_data", call.Path)

	// clearing is a mutation like any other: its offset propagates
	_, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "41", srv.LastCall().Header.Get("OsoOffset"))
}
