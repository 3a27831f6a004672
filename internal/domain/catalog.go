package domain

import (
	"errors"
	"sync"
	"time"

	"github.com/openbridge/difyproxy/internal/openai"
)

const modelOwner = "dify"

// ModelCatalog is the registry of model identifiers the proxy advertises.
// The Dify app behind a request is selected by its credential, not the model
// name, so any inbound model is accepted; the catalog exists to serve
// GET /v1/models and to supply a default model name for responses.
type ModelCatalog struct {
	mu        sync.RWMutex
	models    map[string]openai.Model
	order     []string
	defaultID string
}

// NewModelCatalog creates a catalog from the configured identifiers. The
// first identifier becomes the default.
func NewModelCatalog(ids []string) (*ModelCatalog, error) {
	if len(ids) == 0 {
		return nil, errors.New("at least one model identifier is required")
	}

	c := &ModelCatalog{
		models:    make(map[string]openai.Model, len(ids)),
		order:     make([]string, 0, len(ids)),
		defaultID: ids[0],
	}

	created := time.Now().Unix()
	for _, id := range ids {
		c.register(id, created)
	}

	return c, nil
}

func (c *ModelCatalog) register(id string, created int64) {
	if _, exists := c.models[id]; exists {
		return
	}

	c.models[id] = openai.Model{
		ID:      id,
		Object:  openai.ObjectModel,
		Created: created,
		OwnedBy: modelOwner,
	}
	c.order = append(c.order, id)
}

// Register adds a model identifier to the catalog.
func (c *ModelCatalog) Register(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.register(id, time.Now().Unix())
}

// List returns the advertised models in registration order.
func (c *ModelCatalog) List() []openai.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	models := make([]openai.Model, 0, len(c.order))
	for _, id := range c.order {
		models = append(models, c.models[id])
	}
	return models
}

// Resolve returns the model name to echo in responses: the requested name
// when present, otherwise the catalog default.
func (c *ModelCatalog) Resolve(model string) string {
	if model != "" {
		return model
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultID
}
