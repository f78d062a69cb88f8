// Package pushrouter is the single point where inbound push bytes are
// classified by first byte and dispatched to their owning component
// (spec.md §4.4). Routing runs single-threaded with respect to handlers
// mutating shared state, but may fan out to several handlers.
package pushrouter

import (
	"sync/atomic"

	"github.com/iamruinous/meshcore-companion/pkg/meshcore"
)

// Handlers groups the callbacks a Router dispatches to. Any field left
// nil is simply skipped; unknown codes are always counted and dropped.
type Handlers struct {
	MessagesWaiting func()
	SendConfirmed   func(payload []byte)
	Advert          func(payload []byte)
	PathUpdated     func(payload []byte)
	NewAdvert       func(payload []byte)
	BinaryResponse  func(payload []byte)
	LoginResult     func(payload []byte)
}

// Router dispatches a single push frame at a time to the configured
// Handlers (spec.md §4.4).
type Router struct {
	h            Handlers
	unknownCount atomic.Uint64
}

// New creates a Router with the given handler set.
func New(h Handlers) *Router {
	return &Router{h: h}
}

// Dispatch classifies frame by its first byte and invokes the matching
// handler. It is safe to call from the Link's push callback directly
// since Handlers are expected to return quickly (spec.md §4.4:
// "single-threaded with respect to handlers that mutate shared state").
func (r *Router) Dispatch(frame []byte) {
	if len(frame) == 0 {
		r.unknownCount.Add(1)
		return
	}
	code := frame[0]
	payload := frame[1:]

	switch code {
	case meshcore.PushMessagesWaiting:
		if r.h.MessagesWaiting != nil {
			r.h.MessagesWaiting()
		}
	case meshcore.PushSendConfirmed:
		if r.h.SendConfirmed != nil {
			r.h.SendConfirmed(payload)
		}
	case meshcore.PushAdvert:
		if r.h.Advert != nil {
			r.h.Advert(payload)
		}
	case meshcore.PushPathUpdated:
		if r.h.PathUpdated != nil {
			r.h.PathUpdated(payload)
		}
	case meshcore.PushNewAdvert:
		if r.h.NewAdvert != nil {
			r.h.NewAdvert(payload)
		}
	case meshcore.PushBinaryResp:
		if r.h.BinaryResponse != nil {
			r.h.BinaryResponse(payload)
		}
	case meshcore.PushLoginResult:
		if r.h.LoginResult != nil {
			r.h.LoginResult(payload)
		}
	default:
		r.unknownCount.Add(1)
	}
}

// UnknownCount returns the number of push frames seen with an
// unrecognized code, for diagnostics.
func (r *Router) UnknownCount() uint64 {
	return r.unknownCount.Load()
}
