package swarm

import (
	"go.uber.org/zap"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

// MethodHandler processes one verified inbound envelope.
type MethodHandler func(env *protocol.Envelope, from SenderInfo) error

// Router verifies inbound frames and dispatches them to the subsystem
// registered for their method. Validation failures are never retried: the
// frame is dropped and the violation counted against the sender's
// reputation.
type Router struct {
	handlers   map[string]MethodHandler
	reputation *Reputation
	epochFn    func() uint64
	log        *zap.Logger
}

// NewRouter creates a router. epochFn supplies the local epoch for the
// envelope window check.
func NewRouter(reputation *Reputation, epochFn func() uint64, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		handlers:   make(map[string]MethodHandler),
		reputation: reputation,
		epochFn:    epochFn,
		log:        log,
	}
}

// Handle registers the handler for a method. Registration happens during
// node construction, before any traffic flows; it is not safe to call
// concurrently with Dispatch.
func (r *Router) Handle(method string, handler MethodHandler) {
	r.handlers[method] = handler
}

// Dispatch verifies a frame end-to-end and routes it. The verification
// order is fixed: known method, then sender signature (which also covers
// protocol version and the epoch window), then the handler.
func (r *Router) Dispatch(frame *Frame, from NodeID) error {
	if frame.Envelope == nil {
		return protocol.NewError(protocol.KindInvalidRequest, "frame without envelope")
	}
	method := frame.Envelope.Method
	if !protocol.KnownMethod(method) {
		return protocol.NewError(protocol.KindMethodNotFound, "method %q", method)
	}

	if err := frame.VerifySender(r.epochFn()); err != nil {
		r.reputation.RecordViolation(frame.Sender.AgentID, protocol.KindOf(err))
		r.log.Debug("dropped frame",
			zap.String("method", method),
			zap.String("sender", string(frame.Sender.AgentID)),
			zap.String("reason", err.Error()))
		return err
	}

	handler, ok := r.handlers[method]
	if !ok {
		return protocol.NewError(protocol.KindMethodNotFound, "no handler for %q", method)
	}
	if err := handler(frame.Envelope, frame.Sender); err != nil {
		r.reputation.RecordViolation(frame.Sender.AgentID, protocol.KindOf(err))
		return err
	}
	r.reputation.RecordSuccess(frame.Sender.AgentID)
	return nil
}
