package invoke

import (
	"context"
	"sync"

	"servis/internal/domain"
	"servis/internal/errors"
)

// Handler serves in-process invocations for one service.
type Handler func(ctx context.Context, call *Call) (*Response, error)

// InprocInvoker dispatches to handlers registered in the same process.
// Useful for built-in services and for tests that need a live registry
// without network transports.
type InprocInvoker struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewInprocInvoker() *InprocInvoker {
	return &InprocInvoker{handlers: make(map[string]Handler)}
}

// Register attaches a handler under the service name, replacing any
// previous one.
func (p *InprocInvoker) Register(name string, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[name] = handler
}

// Deregister removes the handler for a service.
func (p *InprocInvoker) Deregister(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handlers, name)
}

func (p *InprocInvoker) Invoke(ctx context.Context, desc *domain.ServiceDescriptor, call *Call) (*Response, error) {
	p.mu.RLock()
	handler, ok := p.handlers[desc.Name]
	p.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.KindTransportError, "no in-process handler for "+desc.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, classifyTransportErr(ctx, err, desc.Name)
	}
	resp, err := handler(ctx, call)
	if err != nil {
		if _, isTaxonomy := err.(*errors.CommandError); isTaxonomy {
			return nil, err
		}
		return nil, errors.Wrap(errors.KindServiceError, err, "handler "+desc.Name)
	}
	return resp, nil
}
