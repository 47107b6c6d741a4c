package payment

import "testing"

func TestIsValidTransitionPermittedPairs(t *testing.T) {
	cases := []struct{ from, to Status }{
		{StatusInit, StatusNew},
		{StatusInit, StatusCancelled},
		{StatusInit, StatusExpired},
		{StatusNew, StatusFormShowed},
		{StatusFormShowed, StatusAuthorized},
		{StatusAuthorized, StatusConfirmed},
		{StatusConfirmed, StatusRefunded},
		{StatusConfirmed, StatusPartialRefunded},
		{StatusPartialRefunded, StatusRefunded},
	}
	for _, c := range cases {
		if !IsValidTransition(c.from, c.to) {
			t.Errorf("expected %s -> %s to be valid", c.from, c.to)
		}
	}
}

// TestIsValidTransitionRejectsEverythingElse is invariant 1: for every
// pair not in the table, IsValidTransition must return false.
func TestIsValidTransitionRejectsEverythingElse(t *testing.T) {
	all := []Status{
		StatusInit, StatusNew, StatusFormShowed, StatusAuthorized, StatusConfirmed,
		StatusCancelled, StatusRejected, StatusRefunded, StatusPartialRefunded, StatusExpired,
	}
	permitted := map[Status]map[Status]bool{}
	for from, tos := range transitions {
		permitted[from] = tos
	}

	for _, from := range all {
		for _, to := range all {
			want := permitted[from][to]
			if got := IsValidTransition(from, to); got != want {
				t.Errorf("IsValidTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminals := []Status{StatusCancelled, StatusRejected, StatusRefunded, StatusExpired}
	for _, s := range terminals {
		if !IsTerminal(s) {
			t.Errorf("expected %s to be terminal", s)
		}
	}

	nonTerminals := []Status{StatusInit, StatusNew, StatusFormShowed, StatusAuthorized, StatusConfirmed, StatusPartialRefunded}
	for _, s := range nonTerminals {
		if IsTerminal(s) {
			t.Errorf("expected %s not to be terminal", s)
		}
	}
}
