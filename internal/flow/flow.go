// Package flow drives demo sessions through the lookup, consent and demo message
// workflow, and produces the copy of the messages it sends.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// MessageKind identifies an outbound message of the workflow.
type MessageKind string

const (
	MessageConsent MessageKind = "consent"
	MessageDemo    MessageKind = "demo"
)

// MessageRequest describes the message a generator is asked to produce.
type MessageRequest struct {
	Kind        MessageKind
	SessionID   string
	PhoneNumber string
}

// Generator defines how to create a message body.
type Generator interface {
	Generate(ctx context.Context, req MessageRequest) (string, error)
}

// Registry maps message kinds to generators.
type Registry struct {
	mu         sync.RWMutex
	generators map[MessageKind]Generator
}

// NewRegistry returns a registry holding the fixed consent and demo copy.
func NewRegistry() *Registry {
	r := &Registry{generators: make(map[MessageKind]Generator)}
	r.Register(MessageConsent, &StaticGenerator{Body: ConsentMessage})
	r.Register(MessageDemo, &StaticGenerator{Body: DemoMessage})
	return r
}

// Register associates a MessageKind with a Generator implementation.
func (r *Registry) Register(kind MessageKind, gen Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[kind] = gen
}

// Get retrieves the Generator for a given MessageKind.
func (r *Registry) Get(kind MessageKind) (Generator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gen, ok := r.generators[kind]
	return gen, ok
}

// Generate finds and runs the Generator for the request's kind.
func (r *Registry) Generate(ctx context.Context, req MessageRequest) (string, error) {
	if gen, ok := r.Get(req.Kind); ok {
		result, err := gen.Generate(ctx, req)
		if err != nil {
			slog.Error("Flow generator error", "kind", req.Kind, "sessionID", req.SessionID, "error", err)
		}
		return result, err
	}
	slog.Error("No generator registered for message kind", "kind", req.Kind, "sessionID", req.SessionID)
	return "", fmt.Errorf("no generator registered for message kind %s", req.Kind)
}
