package session

import (
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"github.com/wricardo/mcp-training/tictactoe/game/service"
)

var (
	ErrClientExists   = service.ErrClientExists
	ErrClientNotFound = service.ErrClientNotFound
	ErrOutboxClosed   = errors.New("outbox closed")
)

// ClientRegistry maps connection ids to live clients behind one RWMutex
type ClientRegistry struct {
	clients map[string]*service.Client
	mu      sync.RWMutex
}

// NewClientRegistry creates an empty client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*service.Client),
	}
}

// Insert registers a client. It fails if the id is already connected.
func (r *ClientRegistry) Insert(c *service.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[c.ID]; exists {
		return errors.Wrapf(ErrClientExists, "client %s", c.ID)
	}
	r.clients[c.ID] = c
	return nil
}

// Remove unregisters a client and returns it
func (r *ClientRegistry) Remove(id string) (*service.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.clients[id]
	if exists {
		delete(r.clients, id)
	}
	return c, exists
}

// Get returns a copy of the client
func (r *ClientRegistry) Get(id string) (service.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.clients[id]
	if !exists {
		return service.Client{}, false
	}
	return *c, true
}

// Has reports whether id is connected
func (r *ClientRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.clients[id]
	return exists
}

// Update runs fn on the client under the write lock.
// Changes fn makes to the client persist even when it returns an error.
func (r *ClientRegistry) Update(id string, fn func(*service.Client) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.clients[id]
	if !exists {
		return errors.Wrapf(ErrClientNotFound, "client %s", id)
	}
	return fn(c)
}

// Send encodes event and queues it on the client's outbox. It never blocks.
func (r *ClientRegistry) Send(id string, event service.ServerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrapf(err, "encode %s event", event.Kind)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.clients[id]
	if !exists {
		return errors.Wrapf(ErrClientNotFound, "client %s", id)
	}
	if c.Outbox == nil || !c.Outbox.Push(data) {
		return errors.Wrapf(ErrOutboxClosed, "client %s", id)
	}
	return nil
}

// IDs returns the connected client ids in no particular order
func (r *ClientRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.clients)
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
