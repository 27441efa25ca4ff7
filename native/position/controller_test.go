package position

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestHealthFactorsValidate(t *testing.T) {
	cases := []struct {
		name    string
		factors HealthFactors
		ok      bool
	}{
		{"ordered", HealthFactors{Min: 150, Target: 200, Max: 250}, true},
		{"all equal", HealthFactors{Min: 120, Target: 120, Max: 120}, true},
		{"min at one", HealthFactors{Min: 100, Target: 200, Max: 250}, false},
		{"target below min", HealthFactors{Min: 150, Target: 140, Max: 250}, false},
		{"max below target", HealthFactors{Min: 150, Target: 200, Max: 190}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.factors.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidHealthFactors) {
				t.Fatalf("expected ErrInvalidHealthFactors, got %v", err)
			}
		})
	}
}

func TestSettingsSetters(t *testing.T) {
	if _, err := NewSettings(common.Address{}, testFactors(), nil); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
	s, err := NewSettings(testOperator, testFactors(), nil)
	if err != nil {
		t.Fatalf("new settings: %v", err)
	}
	if s.Tracker() == nil {
		t.Fatalf("settings should default a tracker")
	}

	if err := s.SetHealthFactors(HealthFactors{Min: 300, Target: 200, Max: 250}); err == nil {
		t.Fatalf("expected invalid factors to be rejected")
	}
	if got := s.HealthFactors(); got != testFactors() {
		t.Fatalf("rejected update must not apply, got %+v", got)
	}
	next := HealthFactors{Min: 110, Target: 130, Max: 180, MaxOvershoot: 20}
	if err := s.SetHealthFactors(next); err != nil {
		t.Fatalf("set factors: %v", err)
	}
	if got := s.HealthFactors(); got != next {
		t.Fatalf("factors: got %+v", got)
	}

	if err := s.SetOperator(common.Address{}); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
	if err := s.SetOperator(testStranger); err != nil || s.Operator() != testStranger {
		t.Fatalf("operator not updated: %v", err)
	}

	s.SetPaused(true)
	if !s.IsPaused(ModuleName) || s.IsPaused("other") {
		t.Fatalf("pause should only cover the position module")
	}
	s.SetPaused(false)
	if s.IsPaused(ModuleName) {
		t.Fatalf("unpause did not apply")
	}
}

func TestHealthFactorBounds(t *testing.T) {
	h := HealthFactors{Min: 150, Target: 200, Max: 250}
	if h.ceiling18() != nil {
		t.Fatalf("no ceiling without an overshoot allowance")
	}
	h.MaxOvershoot = 10
	if got := h.ceiling18(); got.Cmp(hf2To18(260)) != 0 {
		t.Fatalf("ceiling: got %s", got)
	}
	if h.min18().Cmp(new(big.Int).Div(e18(3), big.NewInt(2))) != 0 || h.target18().Cmp(e18(2)) != 0 {
		t.Fatalf("unexpected scaling: min %s target %s", h.min18(), h.target18())
	}
}

func TestTrackerListSorted(t *testing.T) {
	tr := NewTracker()
	tr.Open(testAddr(0x33))
	tr.Open(testAddr(0x11))
	tr.Open(testAddr(0x22))
	tr.Close(testAddr(0x22))
	tr.Close(testAddr(0x44))

	got := tr.List()
	want := []common.Address{testAddr(0x11), testAddr(0x33)}
	if len(got) != len(want) {
		t.Fatalf("list: got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("list[%d]: got %s want %s", i, got[i].Hex(), want[i].Hex())
		}
	}
	if !tr.IsOpen(testAddr(0x11)) || tr.IsOpen(testAddr(0x22)) {
		t.Fatalf("membership mismatch")
	}
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		StateUninitialized: "uninitialized",
		StateOpen:          "open",
		StateClosed:        "closed",
		State(9):           "state(9)",
	} {
		if got := state.String(); got != want {
			t.Fatalf("state %d: got %q want %q", uint8(state), got, want)
		}
	}
}
