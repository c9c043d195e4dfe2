package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/propstack/chatlink/proto"
	"github.com/propstack/chatlink/transport"
)

// pendingOp is one outstanding request awaiting its response frame.
// Settlement happens exactly once: the demux loop removes the op from
// the pending table before delivering, so a late frame of the same name
// finds nothing to settle.
type pendingOp struct {
	kind      string // request type, also the pending-table key
	opID      string
	success   string // response type that resolves the op
	failure   string // response type that rejects the op
	createdAt time.Time
	ch        chan opResult // buffered, capacity 1
}

type opResult struct {
	push proto.Push
	err  error
}

// roundTrip sends a correlated request and waits for exactly one
// matching response, the timeout, or teardown.
func (s *Session) roundTrip(ctx context.Context, kind, success, failure string, payload any, timeout time.Duration) (proto.Push, error) {
	op := &pendingOp{
		kind:      kind,
		opID:      uuid.NewString(),
		success:   success,
		failure:   failure,
		createdAt: time.Now(),
		ch:        make(chan opResult, 1),
	}
	if err := s.addPending(op); err != nil {
		return proto.Push{}, err
	}
	defer s.removePending(op)

	req, err := proto.NewRequest(kind, op.opID, payload)
	if err != nil {
		return proto.Push{}, fmt.Errorf("encode %s: %w", kind, err)
	}
	if err := s.tr.Send(ctx, req); err != nil {
		return proto.Push{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-op.ch:
		return res.push, res.err
	case <-timer.C:
		return proto.Push{}, fmt.Errorf("%s: %w", kind, ErrTimeout)
	case <-ctx.Done():
		return proto.Push{}, ctx.Err()
	case <-s.tr.Done():
		return proto.Push{}, ErrClosed
	}
}

// call is roundTrip gated on the authenticated state, used by every
// chat operation. The generic error event rejects the op.
func (s *Session) call(ctx context.Context, kind, success string, payload any) (proto.Push, error) {
	if s.tr.State() != transport.StateAuthenticated {
		return proto.Push{}, ErrNotAuthenticated
	}
	return s.roundTrip(ctx, kind, success, proto.TypeError, payload, s.opTimeout)
}

func (s *Session) addPending(op *pendingOp) error {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	if _, exists := s.pending[op.kind]; exists {
		return fmt.Errorf("%s: %w", op.kind, ErrOperationPending)
	}
	s.pending[op.kind] = op
	return nil
}

func (s *Session) removePending(op *pendingOp) {
	s.pendMu.Lock()
	if cur, ok := s.pending[op.kind]; ok && cur == op {
		delete(s.pending, op.kind)
	}
	s.pendMu.Unlock()
}

// matchPending claims the pending op answered by push, or nil. Matching
// prefers the echoed op_id; a frame without one matches by response
// type, and a bare generic error settles the oldest pending op, since
// the protocol gives nothing better to pin it to.
func (s *Session) matchPending(push proto.Push) *pendingOp {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()

	if push.OpID != "" {
		for kind, op := range s.pending {
			if op.opID == push.OpID {
				delete(s.pending, kind)
				return op
			}
		}
		return nil
	}

	var oldest *pendingOp
	for _, op := range s.pending {
		if push.Type != op.success && push.Type != op.failure {
			continue
		}
		if oldest == nil || op.createdAt.Before(oldest.createdAt) {
			oldest = op
		}
	}
	if oldest != nil {
		delete(s.pending, oldest.kind)
	}
	return oldest
}

// settle resolves or rejects a claimed op. The op is already out of the
// pending table; ch has capacity 1, so this never blocks.
func (s *Session) settle(op *pendingOp, push proto.Push) {
	res := opResult{push: push}
	if push.Type == op.failure || push.Error != nil {
		perr := push.Error
		if perr == nil {
			perr = &proto.Error{Code: push.Type, Msg: "operation rejected"}
		}
		res.err = perr
	}
	op.ch <- res
}

// failAllPending rejects every outstanding op, e.g. on disconnect.
func (s *Session) failAllPending(err error) {
	s.pendMu.Lock()
	pending := s.pending
	s.pending = make(map[string]*pendingOp)
	s.pendMu.Unlock()

	for _, op := range pending {
		op.ch <- opResult{err: fmt.Errorf("%s: %w", op.kind, err)}
	}
}
