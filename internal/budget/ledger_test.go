package budget

import "testing"

func TestLedger_ExceedsBudget(t *testing.T) {
	l := NewLedger(10.0)
	if l.ExceedsBudget(900, 50) {
		t.Fatalf("950 cents (€9.50) should not exceed a €10 budget")
	}
	if !l.ExceedsBudget(950, 51) {
		t.Fatalf("1001 cents (€10.01) should exceed a €10 budget")
	}
}

func TestCentsToEURRoundTrip(t *testing.T) {
	eur := CentsToEUR(1234)
	if got := EURToCents(eur); got != 1234 {
		t.Fatalf("round trip mismatch: got %d, want 1234", got)
	}
}
