package agenterr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_Classified(t *testing.T) {
	err := New(DraftExpired, "draft %s expired", "abc")
	if got := KindOf(err); got != DraftExpired {
		t.Errorf("KindOf = %s, want %s", got, DraftExpired)
	}
	if err.Error() != "DraftExpired: draft abc expired" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestKindOf_WrappedByFmt(t *testing.T) {
	inner := New(TokenAlreadyUsed, "token already used")
	outer := fmt.Errorf("applying: %w", inner)
	if !Is(outer, TokenAlreadyUsed) {
		t.Errorf("Is(outer, TokenAlreadyUsed) = false, want true")
	}
}

func TestKindOf_UnclassifiedIsInternal(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != Internal {
		t.Errorf("KindOf = %s, want Internal", got)
	}
	if Is(nil, Internal) {
		t.Error("Is(nil, Internal) should be false")
	}
}

func TestWrap_NilPassthrough(t *testing.T) {
	if Wrap(GenerationError, nil, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWrap_Unwraps(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(GenerationError, cause, "completion failed")
	if !errors.Is(err, cause) {
		t.Error("wrapped error should unwrap to cause")
	}
	if Message(err) != "completion failed" {
		t.Errorf("Message = %q", Message(err))
	}
}

func TestMessage_HidesInternals(t *testing.T) {
	if got := Message(errors.New("sql: connection reset")); got != "internal error" {
		t.Errorf("Message = %q, want internal error", got)
	}
}
