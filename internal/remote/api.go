package remote

import (
	"context"
	"encoding/json"
)

// API is the surface the sync engine depends on. *Client implements it;
// tests substitute an in-memory fake.
type API interface {
	Post(ctx context.Context, path string, body interface{}) (*Response, error)
	Put(ctx context.Context, path string, body interface{}) (*Response, error)
	Delete(ctx context.Context, path string) (*Response, error)
	BatchSync(ctx context.Context, plural string, records []json.RawMessage) ([]BatchAck, error)
	PullChanges(ctx context.Context, since string) ([]PullResult, error)
	Health(ctx context.Context) error
}

var _ API = (*Client)(nil)
