package recovery_test

import (
	"context"
	"errors"
	"testing"

	"github.com/wudi/pdfgraph/recovery"
)

func TestRecoveryStrategies(t *testing.T) {
	broken := errors.New("startxref not found")
	loc := recovery.Location{ByteOffset: 290, Component: "xref"}

	t.Run("StrictStrategy", func(t *testing.T) {
		action := recovery.NewStrictStrategy().OnError(context.Background(), broken, loc)
		if action != recovery.ActionFail || action.Recovers() {
			t.Fatalf("strict strategy must fail, got %s", action)
		}
	})

	t.Run("LenientStrategy", func(t *testing.T) {
		rec := recovery.NewLenientStrategy()
		action := rec.OnError(context.Background(), broken, loc)
		if !action.Recovers() {
			t.Fatalf("lenient strategy must recover, got %s", action)
		}
		if len(rec.Errors) != 1 || !errors.Is(rec.Errors[0], broken) {
			t.Fatalf("expected the error to be kept, got %v", rec.Errors)
		}
		if got := rec.Errors[0].Error(); got != "[xref] offset 290: startxref not found" {
			t.Fatalf("unexpected message %q", got)
		}
	})
}

func TestActionRecovers(t *testing.T) {
	for action, want := range map[recovery.Action]bool{
		recovery.ActionFail: false,
		recovery.ActionSkip: true,
		recovery.ActionFix:  true,
		recovery.ActionWarn: true,
	} {
		if action.Recovers() != want {
			t.Errorf("%s: Recovers() = %v", action, !want)
		}
	}
}

func TestDuplicatePolicy(t *testing.T) {
	if !recovery.LastWins.Replace() || recovery.FirstWins.Replace() {
		t.Fatalf("LastWins replaces, FirstWins keeps")
	}
	var zero recovery.DuplicatePolicy
	if zero != recovery.LastWins || zero.String() != "last-wins" {
		t.Fatalf("zero value should be last-wins")
	}
}
