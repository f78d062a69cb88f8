// Package requestmux is the thin layer over link.Link.Send that enforces
// request/response pairing and centralizes response classification into
// ok / error{code} / payload shapes (spec.md §4.3).
package requestmux

import (
	"context"
	"errors"
	"time"

	"github.com/iamruinous/meshcore-companion/internal/link"
	"github.com/iamruinous/meshcore-companion/pkg/meshcore"
)

// ErrTimeout is returned when a request's per-call timeout elapses
// without a response (link.Link.Send reports this as a nil response with
// no error; Mux turns it into a distinguishable error so callers don't
// have to special-case nil).
var ErrTimeout = errors.New("requestmux: timed out waiting for response")

// ErrUnexpectedCode is returned when a response's code byte does not
// match what the caller expected.
var ErrUnexpectedCode = errors.New("requestmux: unexpected response code")

// RemoteError wraps a RESP_ERROR payload returned by the radio.
type RemoteError struct {
	Code byte
}

func (e *RemoteError) Error() string {
	return "requestmux: radio returned error"
}

// Mux correlates one outbound request with its response over a Link
// (spec.md §4.3). It holds no state beyond the Link reference: the
// single-in-flight-request guarantee is enforced by Link.Send itself.
type Mux struct {
	l link.Link
}

// New creates a Mux over the given Link.
func New(l link.Link) *Mux {
	return &Mux{l: l}
}

// LinkState exposes the underlying Link's connection state so higher
// layers (SendEngine, SessionManager) can gate on readiness without
// holding their own Link reference.
func (m *Mux) LinkState() link.State {
	return m.l.ConnectionState()
}

// DoRaw sends frame and returns the whole response (code byte included),
// without interpreting RESP_ERROR or validating the code. It is for
// callers like InboxDrainer that classify the response code themselves
// across a wider set of possibilities than ok/error/one-expected-code.
func (m *Mux) DoRaw(ctx context.Context, frame []byte, opts link.SendOptions) ([]byte, error) {
	resp, err := m.l.Send(ctx, frame, opts)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ErrTimeout
	}
	return resp, nil
}

// Do sends frame and returns the raw response payload (the code byte
// stripped), after confirming the response is not RESP_ERROR and matches
// one of wantCodes if any are given.
func (m *Mux) Do(ctx context.Context, frame []byte, opts link.SendOptions, wantCodes ...byte) ([]byte, error) {
	resp, err := m.l.Send(ctx, frame, opts)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ErrTimeout
	}
	code := resp[0]
	payload := resp[1:]

	if code == meshcore.RespError {
		errCode, decErr := meshcore.DecodeError(payload)
		if decErr != nil {
			return nil, decErr
		}
		return nil, &RemoteError{Code: errCode}
	}

	if len(wantCodes) > 0 {
		ok := false
		for _, w := range wantCodes {
			if code == w {
				ok = true
				break
			}
		}
		if !ok {
			return nil, ErrUnexpectedCode
		}
	}
	return payload, nil
}

// DoOK sends frame and expects a bare RESP_OK.
func (m *Mux) DoOK(ctx context.Context, frame []byte, opts link.SendOptions) error {
	_, err := m.Do(ctx, frame, opts, meshcore.RespOK)
	return err
}

// SendTextResult is the decoded shape of a "sent" response, used by
// SendEngine to install a PendingAck (spec.md §4.3, §4.5).
type SendTextResult struct {
	AckCode            uint32
	IsFlood            bool
	EstimatedTimeoutMs uint32
}

// SendText issues a SEND_TEXT_MSG-shaped request and decodes its "sent"
// response.
func (m *Mux) SendText(ctx context.Context, frame []byte, timeout time.Duration) (SendTextResult, error) {
	payload, err := m.Do(ctx, frame, link.SendOptions{Timeout: timeout}, meshcore.RespSent)
	if err != nil {
		return SendTextResult{}, err
	}
	sent, err := meshcore.DecodeSent(payload)
	if err != nil {
		return SendTextResult{}, err
	}
	return SendTextResult{
		AckCode:            sent.AckCode,
		IsFlood:            sent.IsFlood,
		EstimatedTimeoutMs: sent.EstimatedTimeoutMs,
	}, nil
}

// GetContacts issues GET_CONTACTS and drains CONTACT responses until
// END_OF_CONTACTS, returning every decoded Contact. The radio streams one
// response frame per contact rather than batching them into a single
// payload, so this helper sends GET_CONTACTS once and then loops
// Link.Send with the caller-supplied continueFrame until the terminator
// arrives.
func (m *Mux) GetContacts(ctx context.Context, continueFrame []byte, timeout time.Duration) ([]meshcore.Contact, error) {
	var contacts []meshcore.Contact
	frame := []byte{meshcore.CmdGetContacts}
	for {
		resp, err := m.l.Send(ctx, frame, link.SendOptions{Timeout: timeout})
		if err != nil {
			return contacts, err
		}
		if resp == nil {
			return contacts, ErrTimeout
		}
		code := resp[0]
		switch code {
		case meshcore.RespContactsStart:
			frame = continueFrame
			continue
		case meshcore.RespEndOfContacts:
			return contacts, nil
		case meshcore.RespContact:
			c, decErr := meshcore.DecodeContact(resp[1:])
			if decErr != nil {
				return contacts, decErr
			}
			contacts = append(contacts, c)
			frame = continueFrame
		case meshcore.RespError:
			errCode, _ := meshcore.DecodeError(resp[1:])
			return contacts, &RemoteError{Code: errCode}
		default:
			return contacts, ErrUnexpectedCode
		}
	}
}
