package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownType is returned by Dispatch for a request type nobody handles.
var ErrUnknownType = errors.New("unknown message type")

// HandlerFunc handles one WebSocket request and replies through client.
type HandlerFunc func(ctx context.Context, client *Client, req Request) error

// HandlerServer is what feature handlers register on.
type HandlerServer interface {
	Handle(requestType string, handler HandlerFunc) error
	// StartLifecycle runs start once the server accepts connections.
	StartLifecycle(start func(ctx context.Context))
}

// ServerHandler registers a group of request types in one call.
type ServerHandler interface {
	Register(server HandlerServer)
}

// HandlerRegistry routes requests by type.
type HandlerRegistry struct {
	mu       sync.RWMutex
	routes   map[string]HandlerFunc
	starters []func(ctx context.Context)
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{routes: make(map[string]HandlerFunc)}
}

// Handle routes requestType to handler. The first registration wins.
func (r *HandlerRegistry) Handle(requestType string, handler HandlerFunc) error {
	switch {
	case handler == nil:
		return fmt.Errorf("handler for %q cannot be nil", requestType)
	case requestType == "":
		return errors.New("request type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.routes[requestType]; taken {
		return fmt.Errorf("handler for request type %q already registered", requestType)
	}
	r.routes[requestType] = handler
	return nil
}

func (r *HandlerRegistry) Get(requestType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.routes[requestType]
	return h, ok
}

// Dispatch runs the handler for req.Type. It returns ErrUnknownType, wrapped
// with the type, when there is none.
func (r *HandlerRegistry) Dispatch(ctx context.Context, client *Client, req Request) error {
	h, ok := r.Get(req.Type)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, req.Type)
	}
	return h(ctx, client, req)
}

// MessageTypes lists the routed request types in sorted order. The health
// endpoint advertises them.
func (r *HandlerRegistry) MessageTypes() []string {
	r.mu.RLock()
	types := make([]string, 0, len(r.routes))
	for t := range r.routes {
		types = append(types, t)
	}
	r.mu.RUnlock()
	sort.Strings(types)
	return types
}

func (r *HandlerRegistry) RegisterLifecycle(start func(ctx context.Context)) {
	r.mu.Lock()
	r.starters = append(r.starters, start)
	r.mu.Unlock()
}

// StartLifecycleHandlers calls the registered starters in order.
func (r *HandlerRegistry) StartLifecycleHandlers(ctx context.Context) {
	r.mu.RLock()
	starters := append([]func(ctx context.Context){}, r.starters...)
	r.mu.RUnlock()
	for _, start := range starters {
		start(ctx)
	}
}
