// Package phdtest plays the autoguider side of the shared segment in tests.
package phdtest

import (
	"sync"
	"time"

	"github.com/QHYCCD-QUARCS/guidelink/internal/channel"
	"github.com/QHYCCD-QUARCS/guidelink/internal/protocol"
)

// DefaultVersion is what GetVersion answers unless overridden.
const DefaultVersion = "2.6.13"

// Handler answers one request; the returned bytes are written at the
// response offset before the busy flag is cleared.
type Handler func(payload []byte) []byte

// Request is a request the responder served.
type Request struct {
	Op      protocol.Opcode
	Payload []byte
}

// Responder polls the busy flag the way the autoguider does.
type Responder struct {
	ch *channel.Channel

	mu       sync.Mutex
	handlers map[protocol.Opcode]Handler
	requests []Request
	silent   bool
	delay    time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewMemoryChannel returns an attached in-process channel of full size.
func NewMemoryChannel() *channel.Channel {
	ch := channel.New(channel.NewMemory(protocol.SegmentSize))
	if err := ch.Attach(); err != nil {
		panic(err)
	}
	return ch
}

// Start begins serving requests on ch.
func Start(ch *channel.Channel) *Responder {
	r := &Responder{
		ch: ch,
		handlers: map[protocol.Opcode]Handler{
			protocol.OpGetVersion: func([]byte) []byte {
				return protocol.EncodeString(DefaultVersion)
			},
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go r.run()
	return r
}

// Handle overrides the answer for op.
func (r *Responder) Handle(op protocol.Opcode, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[op] = h
}

// SetSilent makes the responder ignore requests, leaving the busy flag set.
func (r *Responder) SetSilent(silent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.silent = silent
}

// SetDelay makes the responder wait before answering.
func (r *Responder) SetDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

// Requests returns the requests served so far.
func (r *Responder) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.requests...)
}

// Ops returns the opcodes served so far, in order.
func (r *Responder) Ops() []protocol.Opcode {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]protocol.Opcode, len(r.requests))
	for i, req := range r.requests {
		ops[i] = req.Op
	}
	return ops
}

// Count returns how many times op was served.
func (r *Responder) Count(op protocol.Opcode) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, req := range r.requests {
		if req.Op == op {
			n++
		}
	}
	return n
}

// Close stops serving.
func (r *Responder) Close() {
	close(r.stop)
	<-r.done
}

func (r *Responder) run() {
	defer close(r.done)

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		busy, err := r.ch.ReadU8(protocol.BusyFlagOffset)
		if err != nil || busy != protocol.BusyPending {
			time.Sleep(20 * time.Microsecond)
			continue
		}

		r.mu.Lock()
		silent, delay := r.silent, r.delay
		r.mu.Unlock()
		if silent {
			time.Sleep(20 * time.Microsecond)
			continue
		}
		if delay > 0 {
			time.Sleep(delay)
		}

		r.serve()
	}
}

func (r *Responder) serve() {
	hdr, err := r.ch.ReadAt(protocol.OpcodeMSBOffset, 2)
	if err != nil {
		return
	}
	op := protocol.OpcodeFromBytes(hdr[0], hdr[1])
	payload, err := r.ch.ReadAt(protocol.PayloadOffset, protocol.PayloadCapacity)
	if err != nil {
		return
	}

	r.mu.Lock()
	r.requests = append(r.requests, Request{Op: op, Payload: payload})
	h := r.handlers[op]
	r.mu.Unlock()

	if h != nil {
		if resp := h(payload); len(resp) > 0 {
			_ = r.ch.WriteAt(protocol.PayloadOffset, resp)
		}
	}
	_ = r.ch.WriteU8(protocol.BusyFlagOffset, protocol.BusyIdle)
}
