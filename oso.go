package oso

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/osohq/go-oso-cloud/types"
)

// Policy is a named Polar source document. The client treats Src as an
// opaque string; all policy semantics live server-side.
type Policy struct {
	Filename string `json:"filename"`
	Src      string `json:"src"`
}

// Stats summarizes what the instance currently holds.
type Stats struct {
	NumRoles     int64 `json:"num_roles"`
	NumFacts     int64 `json:"num_facts"`
	NumRelations int64 `json:"num_relations"`
}

// the read endpoints take actors and resources in decomposed
// type/id form; each endpoint carries the subset of fields it needs
type authorizeQuery struct {
	ActorType    string             `json:"actor_type"`
	ActorID      string             `json:"actor_id"`
	Action       string             `json:"action"`
	ResourceType string             `json:"resource_type"`
	ResourceID   string             `json:"resource_id"`
	ContextFacts []types.FactOnWire `json:"context_facts"`
}

type authorizeResourcesQuery struct {
	ActorType    string              `json:"actor_type"`
	ActorID      string              `json:"actor_id"`
	Action       string              `json:"action"`
	Resources    []types.ValueOnWire `json:"resources"`
	ContextFacts []types.FactOnWire  `json:"context_facts"`
}

type listQuery struct {
	ActorType    string             `json:"actor_type"`
	ActorID      string             `json:"actor_id"`
	Action       string             `json:"action"`
	ResourceType string             `json:"resource_type"`
	ContextFacts []types.FactOnWire `json:"context_facts"`
}

type actionsQuery struct {
	ActorType    string             `json:"actor_type"`
	ActorID      string             `json:"actor_id"`
	ResourceType string             `json:"resource_type"`
	ResourceID   string             `json:"resource_id"`
	ContextFacts []types.FactOnWire `json:"context_facts"`
}

type wireQuery struct {
	Fact         types.FactOnWire   `json:"fact"`
	ContextFacts []types.FactOnWire `json:"context_facts"`
}

type bulkBody struct {
	Delete []types.FactOnWire `json:"delete"`
	Tell   []types.FactOnWire `json:"tell"`
}

// decompose splits a value into the type/id strings the decomposed
// query shapes carry. Wildcards become empty strings and are forwarded
// as-is; whether they make sense is the server's call.
func decompose(v types.Value) (typ string, id string, err error) {
	w, err := types.EncodeValue(v)
	if err != nil {
		return "", "", err
	}
	if w.Type != nil {
		typ = *w.Type
	}
	if w.ID != nil {
		id = *w.ID
	}
	return typ, id, nil
}

// GetPolicy fetches the currently active policy, or nil if none has
// been set yet.
func (c *Client) GetPolicy(ctx context.Context) (*Policy, error) {
	var resp struct {
		Policy *Policy `json:"policy"`
	}
	if err := c.do(ctx, http.MethodGet, "/policy", nil, nil, &resp, false); err != nil {
		return nil, err
	}
	return resp.Policy, nil
}

// SetPolicy replaces the active policy with the given Polar source.
func (c *Client) SetPolicy(ctx context.Context, filename string, src string) error {
	return c.do(ctx, http.MethodPost, "/policy", nil,
		Policy{Filename: filename, Src: src}, nil, true)
}

// Tell adds the fact predicate(args...) to the instance.
func (c *Client) Tell(ctx context.Context, predicate string, args ...types.Value) error {
	fact, err := types.EncodeFact(types.NewFact(predicate, args...))
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/facts", nil, fact, nil, true)
}

// Delete removes the fact predicate(args...). Deleting a fact that is
// not present succeeds: the operation is idempotent.
func (c *Client) Delete(ctx context.Context, predicate string, args ...types.Value) error {
	fact, err := types.EncodeFact(types.NewFact(predicate, args...))
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, "/facts", nil, fact, nil, true)
}

// BulkTell adds a list of facts in one call.
func (c *Client) BulkTell(ctx context.Context, facts []types.Fact) error {
	encoded, err := types.EncodeFacts(facts)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/bulk_load", nil, encoded, nil, true)
}

// BulkDelete removes a list of facts in one call. Entries may contain
// wildcards to delete by pattern.
func (c *Client) BulkDelete(ctx context.Context, facts []types.Fact) error {
	encoded, err := types.EncodeFacts(facts)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/bulk_delete", nil, encoded, nil, true)
}

// Bulk atomically applies deletions (which may contain wildcards) and
// then insertions, in that order, as one server-side transaction.
func (c *Client) Bulk(ctx context.Context, delete []types.Fact, tell []types.Fact) error {
	del, err := types.EncodeFacts(delete)
	if err != nil {
		return err
	}
	ins, err := types.EncodeFacts(tell)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/bulk", nil,
		bulkBody{Delete: del, Tell: ins}, nil, true)
}

// Authorize asks whether actor may perform action on resource, with
// contextFacts considered for this call only. A false answer is a
// normal result, not an error.
func (c *Client) Authorize(
	ctx context.Context,
	actor types.Value, action string, resource types.Value,
	contextFacts ...types.Fact,
) (bool, error) {
	actorType, actorID, err := decompose(actor)
	if err != nil {
		return false, err
	}
	resourceType, resourceID, err := decompose(resource)
	if err != nil {
		return false, err
	}
	facts, err := types.EncodeFacts(contextFacts)
	if err != nil {
		return false, err
	}
	var resp struct {
		Allowed bool `json:"allowed"`
	}
	err = c.do(ctx, http.MethodPost, "/authorize", nil, authorizeQuery{
		ActorType:    actorType,
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		ContextFacts: facts,
	}, &resp, false)
	if err != nil {
		return false, err
	}
	return resp.Allowed, nil
}

// AuthorizeResources filters resources down to those actor may perform
// action on. The result is always an order-preserving, duplicate-
// preserving subsequence of the input, regardless of what order (or
// duplicates) the server responds with.
func (c *Client) AuthorizeResources(
	ctx context.Context,
	actor types.Value, action string, resources []types.Value,
	contextFacts ...types.Fact,
) ([]types.Value, error) {
	if len(resources) == 0 {
		return []types.Value{}, nil
	}
	actorType, actorID, err := decompose(actor)
	if err != nil {
		return nil, err
	}
	encodedResources := make([]types.ValueOnWire, len(resources))
	for i, r := range resources {
		if encodedResources[i], err = types.EncodeValue(r); err != nil {
			return nil, err
		}
	}
	facts, err := types.EncodeFacts(contextFacts)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Results []types.ValueOnWire `json:"results"`
	}
	err = c.do(ctx, http.MethodPost, "/authorize_resources", nil, authorizeResourcesQuery{
		ActorType:    actorType,
		ActorID:      actorID,
		Action:       action,
		Resources:    encodedResources,
		ContextFacts: facts,
	}, &resp, false)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(resp.Results))
	for _, r := range resp.Results {
		allowed[valueKey(r)] = true
	}
	ret := make([]types.Value, 0, len(resources))
	for i, r := range resources {
		if allowed[valueKey(encodedResources[i])] {
			ret = append(ret, r)
		}
	}
	return ret, nil
}

// valueKey builds the type:id lookup key for a wire value.
func valueKey(w types.ValueOnWire) string {
	var typ, id string
	if w.Type != nil {
		typ = *w.Type
	}
	if w.ID != nil {
		id = *w.ID
	}
	return typ + ":" + id
}

// List returns the ids of every resource of resourceType that actor
// may perform action on.
func (c *Client) List(
	ctx context.Context,
	actor types.Value, action string, resourceType string,
	contextFacts ...types.Fact,
) ([]string, error) {
	actorType, actorID, err := decompose(actor)
	if err != nil {
		return nil, err
	}
	facts, err := types.EncodeFacts(contextFacts)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Results []string `json:"results"`
	}
	err = c.do(ctx, http.MethodPost, "/list", nil, listQuery{
		ActorType:    actorType,
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ContextFacts: facts,
	}, &resp, false)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Actions returns every action actor may perform on resource.
func (c *Client) Actions(
	ctx context.Context,
	actor types.Value, resource types.Value,
	contextFacts ...types.Fact,
) ([]string, error) {
	actorType, actorID, err := decompose(actor)
	if err != nil {
		return nil, err
	}
	resourceType, resourceID, err := decompose(resource)
	if err != nil {
		return nil, err
	}
	facts, err := types.EncodeFacts(contextFacts)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Results []string `json:"results"`
	}
	err = c.do(ctx, http.MethodPost, "/actions", nil, actionsQuery{
		ActorType:    actorType,
		ActorID:      actorID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		ContextFacts: facts,
	}, &resp, false)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Query matches stored facts against a template that may contain
// wildcard arguments, with contextFacts considered for this call only.
func (c *Client) Query(
	ctx context.Context,
	fact types.Fact, contextFacts ...types.Fact,
) ([]types.Fact, error) {
	template, err := types.EncodeFact(fact)
	if err != nil {
		return nil, err
	}
	facts, err := types.EncodeFacts(contextFacts)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Results []types.FactOnWire `json:"results"`
	}
	err = c.do(ctx, http.MethodPost, "/query", nil, wireQuery{
		Fact:         template,
		ContextFacts: facts,
	}, &resp, false)
	if err != nil {
		return nil, err
	}
	return types.DecodeFacts(resp.Results), nil
}

// Get fetches stored facts matching the template. Wildcard arguments
// are omitted from the query string entirely, never sent as empty.
func (c *Client) Get(ctx context.Context, predicate string, args ...types.Value) ([]types.Fact, error) {
	params := url.Values{}
	params.Set("predicate", predicate)
	for i, arg := range args {
		w, err := types.EncodeValue(arg)
		if err != nil {
			return nil, err
		}
		if w.Type == nil || w.ID == nil {
			continue
		}
		params.Set(fmt.Sprintf("args.%d.type", i), *w.Type)
		params.Set(fmt.Sprintf("args.%d.id", i), *w.ID)
	}
	var resp []types.FactOnWire
	if err := c.do(ctx, http.MethodGet, "/facts", params, nil, &resp, false); err != nil {
		return nil, err
	}
	return types.DecodeFacts(resp), nil
}

// Stats reports instance-level counts.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	ret := new(Stats)
	if err := c.do(ctx, http.MethodGet, "/stats", nil, nil, ret, false); err != nil {
		return nil, err
	}
	return ret, nil
}

// ClearData removes all facts and policies from the instance.
func (c *Client) ClearData(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/clear_data", nil, nil, nil, true)
}
