package blockrun

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// modelsEndpoint is the listing endpoint; listing calls go through the
// same payment cycle as everything else.
const modelsEndpoint = "/v1/models"

// Model describes one entry of the model listing.
type Model struct {
	ID      string        `json:"id"`
	Object  string        `json:"object,omitempty"`
	Pricing *ModelPricing `json:"pricing,omitempty"`
}

// ModelPricing holds per-token USD prices as decimal strings.
type ModelPricing struct {
	Prompt     string `json:"prompt,omitempty"`
	Completion string `json:"completion,omitempty"`
}

type modelList struct {
	Data []Model `json:"data"`
}

// modelCache memoizes the model listing for the life of the client.
// Concurrent first callers share one in-flight fetch; there is no TTL and
// no invalidation.
type modelCache struct {
	mu     sync.RWMutex
	flight singleflight.Group
	list   []Model
}

// Models returns the model listing, fetching it at most once per client
// instance. The fetch runs under the first caller's context; concurrent
// callers await the same in-flight request.
func (c *Client) Models(ctx context.Context) ([]Model, error) {
	c.models.mu.RLock()
	cached := c.models.list
	c.models.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := c.models.flight.Do("models", func() (interface{}, error) {
		raw, err := c.Get(ctx, modelsEndpoint)
		if err != nil {
			return nil, err
		}
		var list modelList
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode model listing: %w", err)
		}
		c.models.mu.Lock()
		c.models.list = list.Data
		c.models.mu.Unlock()
		return list.Data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Model), nil
}
