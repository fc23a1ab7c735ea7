// Package messaging is the in-process message transport between the manager and
// the workers of a partitioned step: messages with correlation headers, buffered
// channels, a gateway, a reply aggregator and a service activator.
package messaging

import (
	"github.com/google/uuid"

	"github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
)

// Header names.
const (
	HeaderCorrelationID  = "correlationId"
	HeaderSequenceNumber = "sequenceNumber"
	HeaderSequenceSize   = "sequenceSize"
	HeaderReplyChannel   = "replyChannel"
)

// Message is a payload with headers. Messages are treated as immutable once sent.
type Message struct {
	ID      uuid.UUID
	Payload interface{}
	Headers map[string]interface{}
}

// NewMessage creates a message with a fresh ID and no headers.
func NewMessage(payload interface{}) *Message {
	return &Message{ID: uuid.New(), Payload: payload, Headers: map[string]interface{}{}}
}

// WithHeader sets a header and returns m for chaining.
func (m *Message) WithHeader(name string, value interface{}) *Message {
	if m.Headers == nil {
		m.Headers = map[string]interface{}{}
	}
	m.Headers[name] = value
	return m
}

// CorrelationID returns the correlation id header.
func (m *Message) CorrelationID() string {
	s, _ := m.Headers[HeaderCorrelationID].(string)
	return s
}

// SequenceNumber returns the sequence number header, or -1 when absent.
func (m *Message) SequenceNumber() int {
	if n, ok := m.Headers[HeaderSequenceNumber].(int); ok {
		return n
	}
	return -1
}

// SequenceSize returns the sequence size header, or 0 when absent.
func (m *Message) SequenceSize() int {
	n, _ := m.Headers[HeaderSequenceSize].(int)
	return n
}

// ReplyChannel returns the reply channel header, if any.
func (m *Message) ReplyChannel() MessageChannel {
	ch, _ := m.Headers[HeaderReplyChannel].(MessageChannel)
	return ch
}

// Copy returns a message with the same ID, a copied header map and a copied payload
// when the payload is a step execution, a request or a slice of step executions.
// Channels deliver copies so that sender and receiver never share an execution.
func (m *Message) Copy() *Message {
	cp := &Message{ID: m.ID, Payload: copyPayload(m.Payload), Headers: make(map[string]interface{}, len(m.Headers))}
	for k, v := range m.Headers {
		cp.Headers[k] = v
	}
	return cp
}

func copyPayload(p interface{}) interface{} {
	switch v := p.(type) {
	case *model.StepExecution:
		return v.Clone()
	case []*model.StepExecution:
		out := make([]*model.StepExecution, len(v))
		for i, se := range v {
			out[i] = se.Clone()
		}
		return out
	case *model.StepExecutionRequest:
		r := *v
		return &r
	default:
		return p
	}
}

// ReplyHeaders copies the correlation headers of request onto reply.
func ReplyHeaders(request, reply *Message) *Message {
	for _, h := range []string{HeaderCorrelationID, HeaderSequenceNumber, HeaderSequenceSize, HeaderReplyChannel} {
		if v, ok := request.Headers[h]; ok {
			reply.WithHeader(h, v)
		}
	}
	return reply
}
