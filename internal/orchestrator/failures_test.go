package orchestrator

import "testing"

func TestFailureTrackerDerivesDisabledFromCount(t *testing.T) {
	f := newFailureTracker(3)

	for i := 0; i < 3; i++ {
		count, tripped := f.recordFailure("social")
		wantTrip := i == 2
		if count != i+1 || tripped != wantTrip {
			t.Fatalf("failure %d: count=%d tripped=%v, want count=%d tripped=%v",
				i+1, count, tripped, i+1, wantTrip)
		}
	}
	if !f.isDisabled("social") {
		t.Fatal("breaker should be open at the threshold")
	}

	// A success zeroes the count, and the disabled view must follow it:
	// the two can never disagree because one is computed from the other.
	f.recordSuccess("social")
	if f.isDisabled("social") {
		t.Error("breaker should close when the count resets")
	}
	snap := f.snapshot([]string{"social"})
	if mh := snap["social"]; mh.Failures != 0 || mh.Disabled {
		t.Errorf("snapshot = %+v, want failures=0 disabled=false", mh)
	}
}

func TestFailureTrackerTripFiresOncePerCrossing(t *testing.T) {
	f := newFailureTracker(2)

	if _, tripped := f.recordFailure("m"); tripped {
		t.Error("first failure must not trip")
	}
	if _, tripped := f.recordFailure("m"); !tripped {
		t.Error("threshold failure must trip")
	}
	if _, tripped := f.recordFailure("m"); tripped {
		t.Error("failures past the threshold must not re-trip")
	}

	// After a reset the breaker can trip again.
	f.enable("m")
	if f.isDisabled("m") {
		t.Fatal("enable should close the breaker")
	}
	f.recordFailure("m")
	if _, tripped := f.recordFailure("m"); !tripped {
		t.Error("breaker should trip again after re-crossing the threshold")
	}
}
