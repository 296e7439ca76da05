package wsconn

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/protocolos/handshake/pkg/errors"
)

// defaultRequestTimeout applies when Request is called with timeout 0.
const defaultRequestTimeout = 10 * time.Second

type requestResult struct {
	data []byte
	err  error
}

type pendingRequest struct {
	ch chan requestResult
}

// Request sends a tagged message and waits for the inbound message
// carrying the same id. The timeout is per-request; an expired request
// is removed from the pending table so a late reply is ignored.
func (m *Manager) Request(ctx context.Context, msgType string, payload any, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	id := uuid.NewString()
	frame := map[string]any{"type": msgType, "id": id}
	if payload != nil {
		frame["payload"] = payload
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode request", err)
	}

	pending := &pendingRequest{ch: make(chan requestResult, 1)}
	m.pendingMu.Lock()
	m.pending[id] = pending
	m.pendingMu.Unlock()

	if err := m.write(data); err != nil {
		m.removePending(id)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-pending.ch:
		return result.data, result.err
	case <-timer.C:
		m.removePending(id)
		return nil, errors.NewTransportError("request timed out", nil)
	case <-ctx.Done():
		m.removePending(id)
		return nil, ctx.Err()
	case <-m.done:
		m.removePending(id)
		return nil, errors.NewTransportError("connection closed", nil)
	}
}

func (m *Manager) removePending(id string) {
	m.pendingMu.Lock()
	delete(m.pending, id)
	m.pendingMu.Unlock()
}

// resolvePending completes the pending request matching the frame's id.
// Returns false when no request is waiting on that id.
func (m *Manager) resolvePending(id string, data []byte) bool {
	m.pendingMu.Lock()
	pending, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.pendingMu.Unlock()
	if !ok {
		return false
	}

	result := requestResult{data: data}
	if gjson.GetBytes(data, "type").String() == "error" {
		detail := gjson.GetBytes(data, "error").String()
		if detail == "" {
			detail = gjson.GetBytes(data, "payload.message").String()
		}
		if detail == "" {
			detail = "request failed"
		}
		result = requestResult{err: errors.NewProtocolFaultError(detail, nil)}
	}
	pending.ch <- result
	return true
}

// rejectPending fails every in-flight request with the same reason.
// Called on disconnect and on connection loss so pending entries never
// survive across reconnects.
func (m *Manager) rejectPending(reason string) {
	m.pendingMu.Lock()
	pending := m.pending
	m.pending = make(map[string]*pendingRequest)
	m.pendingMu.Unlock()

	for _, p := range pending {
		p.ch <- requestResult{err: errors.NewTransportError(reason, nil)}
	}
}
