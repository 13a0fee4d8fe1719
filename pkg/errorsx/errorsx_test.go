package errorsx

import "testing"

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonProviderTransport)
	if Reason(err) != ReasonProviderTransport {
		t.Fatalf("expected reason %s, got %s", ReasonProviderTransport, Reason(err))
	}
	if !HasReason(err, ReasonProviderTransport) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonProviderAuth)
	second := Wrap(first, ReasonProviderTransport)
	if Reason(second) != ReasonProviderAuth {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestIsProviderFatal(t *testing.T) {
	fatal := []ReasonCode{ReasonProviderAuth, ReasonProviderRateLimit, ReasonProviderTransport}
	for _, r := range fatal {
		if !IsProviderFatal(r) {
			t.Fatalf("expected %s to be fatal", r)
		}
	}
	recoverable := []ReasonCode{ReasonToolTimeout, ReasonToolNotFound, ReasonToolSchema, ReasonToolExecute}
	for _, r := range recoverable {
		if IsProviderFatal(r) {
			t.Fatalf("expected %s to be recoverable", r)
		}
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
