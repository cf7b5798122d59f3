package hubspot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	ierr "github.com/flexprice/billsync/internal/errors"
	"github.com/samber/lo"
)

// GetObject reads one record with the requested properties
func (c *Client) GetObject(ctx context.Context, objectType ObjectType, id string, properties []string) (*Object, error) {
	if id == "" {
		return nil, ierr.NewError("object id is required").
			WithHintf("Cannot read a %s without an id", objectType).
			Mark(ierr.ErrValidation)
	}

	properties = c.knownProperties(ctx, objectType, properties)

	var obj Object
	path := objectPath(objectType, url.PathEscape(id)) + propertiesQuery(properties)
	if err := c.do(ctx, fmt.Sprintf("get %s", objectType), http.MethodGet, path, nil, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// BatchRead reads many records in chunks of 100. Missing ids are silently absent from the result.
func (c *Client) BatchRead(ctx context.Context, objectType ObjectType, ids []string, properties []string) ([]Object, error) {
	ids = lo.Uniq(lo.Compact(ids))
	if len(ids) == 0 {
		return nil, nil
	}

	properties = c.knownProperties(ctx, objectType, properties)
	op := fmt.Sprintf("batch read %s", objectType)

	var out []Object
	for _, chunk := range lo.Chunk(ids, maxBatchSize) {
		req := BatchReadRequest{
			Properties: properties,
			Inputs:     lo.Map(chunk, func(id string, _ int) ObjectID { return ObjectID{ID: id} }),
		}
		var resp BatchResponse
		if err := c.do(ctx, op, http.MethodPost, objectPath(objectType, "batch", "read"), req, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Results...)
	}
	return out, nil
}

// Search returns one page of results
func (c *Client) Search(ctx context.Context, objectType ObjectType, req SearchRequest) (*SearchResponse, error) {
	if req.Limit <= 0 || req.Limit > maxSearchPageSize {
		req.Limit = maxSearchPageSize
	}
	req.Properties = c.knownProperties(ctx, objectType, req.Properties)

	var resp SearchResponse
	if err := c.do(ctx, fmt.Sprintf("search %s", objectType), http.MethodPost, objectPath(objectType, "search"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchAll follows the after cursor until the last page
func (c *Client) SearchAll(ctx context.Context, objectType ObjectType, req SearchRequest) ([]Object, error) {
	var out []Object
	for {
		page, err := c.Search(ctx, objectType, req)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Results...)

		after := page.NextAfter()
		if after == "" || after == req.After {
			return out, nil
		}
		req.After = after
	}
}

// UpdateObject partially updates one record. Properties unknown to the schema are dropped.
func (c *Client) UpdateObject(ctx context.Context, objectType ObjectType, id string, properties map[string]string) error {
	properties = c.knownPropertyValues(ctx, objectType, properties)
	if len(properties) == 0 {
		return nil
	}

	path := objectPath(objectType, url.PathEscape(id))
	return c.do(ctx, fmt.Sprintf("update %s", objectType), http.MethodPatch, path, updateRequest{Properties: properties}, nil)
}

// BatchCreate creates records in chunks of 100. A partial failure returns the
// created records together with an error.
func (c *Client) BatchCreate(ctx context.Context, objectType ObjectType, inputs []CreateInput) ([]Object, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	for i := range inputs {
		inputs[i].Properties = c.knownPropertyValues(ctx, objectType, inputs[i].Properties)
	}

	op := fmt.Sprintf("batch create %s", objectType)
	var out []Object
	for _, chunk := range lo.Chunk(inputs, maxBatchSize) {
		var resp BatchResponse
		if err := c.do(ctx, op, http.MethodPost, objectPath(objectType, "batch", "create"), batchCreateRequest{Inputs: chunk}, &resp); err != nil {
			return out, err
		}
		out = append(out, resp.Results...)
		if len(resp.Errors) > 0 {
			return out, batchFailure(op, resp.Errors)
		}
	}
	return out, nil
}

// BatchUpdate updates records in chunks of 100
func (c *Client) BatchUpdate(ctx context.Context, objectType ObjectType, inputs []UpdateInput) ([]Object, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	for i := range inputs {
		inputs[i].Properties = c.knownPropertyValues(ctx, objectType, inputs[i].Properties)
	}

	op := fmt.Sprintf("batch update %s", objectType)
	var out []Object
	for _, chunk := range lo.Chunk(inputs, maxBatchSize) {
		var resp BatchResponse
		if err := c.do(ctx, op, http.MethodPost, objectPath(objectType, "batch", "update"), batchUpdateRequest{Inputs: chunk}, &resp); err != nil {
			return out, err
		}
		out = append(out, resp.Results...)
		if len(resp.Errors) > 0 {
			return out, batchFailure(op, resp.Errors)
		}
	}
	return out, nil
}

// BatchArchive archives records in chunks of 100. Archiving an already archived id succeeds.
func (c *Client) BatchArchive(ctx context.Context, objectType ObjectType, ids []string) error {
	ids = lo.Uniq(lo.Compact(ids))
	op := fmt.Sprintf("batch archive %s", objectType)
	for _, chunk := range lo.Chunk(ids, maxBatchSize) {
		req := batchArchiveRequest{
			Inputs: lo.Map(chunk, func(id string, _ int) ObjectID { return ObjectID{ID: id} }),
		}
		if err := c.do(ctx, op, http.MethodPost, objectPath(objectType, "batch", "archive"), req, nil); err != nil {
			return err
		}
	}
	return nil
}

// ListAssociations returns the ids of the toType records associated with a record
func (c *Client) ListAssociations(ctx context.Context, fromType ObjectType, fromID string, toType ObjectType) ([]string, error) {
	op := fmt.Sprintf("list %s associations of %s", toType, fromType)
	base := fmt.Sprintf("/crm/v4/objects/%s/%s/associations/%s?limit=%d", fromType, url.PathEscape(fromID), toType, maxAssociationPage)

	var ids []string
	after := ""
	for {
		path := base
		if after != "" {
			path += "&after=" + url.QueryEscape(after)
		}

		var resp AssociationResponse
		if err := c.do(ctx, op, http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}
		for _, r := range resp.Results {
			ids = append(ids, fmt.Sprintf("%d", r.ToObjectID))
		}

		next := ""
		if resp.Paging != nil && resp.Paging.Next != nil {
			next = resp.Paging.Next.After
		}
		if next == "" || next == after {
			return lo.Uniq(ids), nil
		}
		after = next
	}
}
