package ai

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorfAndKindOf(t *testing.T) {
	err := Errorf(KindContextOverflow, "history needs %d tokens", 9000)
	if KindOf(err) != KindContextOverflow {
		t.Errorf("kind = %q", KindOf(err))
	}
	if got := err.Error(); got != "context_overflow: history needs 9000 tokens" {
		t.Errorf("message = %q", got)
	}
}

func TestKindOfWrappedChain(t *testing.T) {
	cause := Errorf(KindTransport, "connection reset")
	wrapped := fmt.Errorf("turn failed: %w", cause)
	if KindOf(wrapped) != KindTransport {
		t.Errorf("kind through fmt wrap = %q", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("untyped errors must report empty kind")
	}
	if KindOf(nil) != "" {
		t.Error("nil must report empty kind")
	}
}

func TestErrorsIsMatchesOnKind(t *testing.T) {
	err := WrapErr(KindProtocol, errors.New("bad frame"), "parse chunk")
	if !errors.Is(err, &Error{Kind: KindProtocol}) {
		t.Error("errors.Is must match on kind")
	}
	if errors.Is(err, &Error{Kind: KindTimeout}) {
		t.Error("errors.Is must not match a different kind")
	}
}

func TestWrapErrNil(t *testing.T) {
	if WrapErr(KindTransport, nil, "x") != nil {
		t.Error("wrapping nil must stay nil")
	}
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("EOF")
	err := WrapErr(KindTransport, cause, "read")
	if !errors.Is(err, cause) {
		t.Error("cause must survive unwrapping")
	}
}
