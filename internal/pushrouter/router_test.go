package pushrouter

import (
	"testing"

	"github.com/iamruinous/meshcore-companion/pkg/meshcore"
)

func TestDispatchRoutesByCode(t *testing.T) {
	var gotWaiting bool
	var gotConfirmed []byte
	var gotLogin []byte

	r := New(Handlers{
		MessagesWaiting: func() { gotWaiting = true },
		SendConfirmed:   func(payload []byte) { gotConfirmed = payload },
		LoginResult:     func(payload []byte) { gotLogin = payload },
	})

	r.Dispatch([]byte{meshcore.PushMessagesWaiting})
	if !gotWaiting {
		t.Error("expected MessagesWaiting handler invoked")
	}

	r.Dispatch(append([]byte{meshcore.PushSendConfirmed}, 1, 2, 3))
	if len(gotConfirmed) != 3 {
		t.Errorf("expected 3-byte payload, got %v", gotConfirmed)
	}

	r.Dispatch(append([]byte{meshcore.PushLoginResult}, 9))
	if len(gotLogin) != 1 || gotLogin[0] != 9 {
		t.Errorf("unexpected login payload: %v", gotLogin)
	}
}

func TestDispatchUnknownCodeCounted(t *testing.T) {
	r := New(Handlers{})
	r.Dispatch([]byte{0xFF})
	r.Dispatch([]byte{0x7F})
	if r.UnknownCount() != 2 {
		t.Errorf("expected 2 unknown codes counted, got %d", r.UnknownCount())
	}
}

func TestDispatchEmptyFrameCounted(t *testing.T) {
	r := New(Handlers{})
	r.Dispatch(nil)
	if r.UnknownCount() != 1 {
		t.Errorf("expected empty frame counted as unknown, got %d", r.UnknownCount())
	}
}

func TestDispatchNilHandlerSkipped(t *testing.T) {
	r := New(Handlers{})
	// Should not panic even though no handlers are installed.
	r.Dispatch([]byte{meshcore.PushAdvert, 1, 2, 3})
}
