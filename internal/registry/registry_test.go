package registry

import (
	"testing"

	"tilestroke/internal/model"
)

func TestIdentifyPeerInsertsAndSnapshotsOthers(t *testing.T) {
	r := New()

	first, others := r.IdentifyPeer()
	if len(others) != 0 {
		t.Fatalf("first peer should see no others, got %d", len(others))
	}
	if first.Role != model.RolePeer {
		t.Errorf("Role = %v, want RolePeer", first.Role)
	}

	_, others = r.IdentifyPeer()
	if len(others) != 1 || others[0].ID != first.ID {
		t.Fatalf("second peer should see [first], got %+v", others)
	}
}

func TestRemoveDeletesSession(t *testing.T) {
	r := New()
	s, _ := r.IdentifyPeer()

	r.Remove(s.ID)
	if _, ok := r.Get(s.ID); ok {
		t.Error("session still present after Remove")
	}
}

func TestUpdateAppliesPartialMutation(t *testing.T) {
	r := New()
	s, _ := r.IdentifyPeer()

	x, y := 5.0, 6.0
	updated, ok := r.Update(s.ID, &x, &y, nil, nil)
	if !ok {
		t.Fatal("Update returned ok=false")
	}
	if updated.X != 5 || updated.Y != 6 {
		t.Errorf("X,Y = %v,%v, want 5,6", updated.X, updated.Y)
	}
	if updated.DisplayName != s.DisplayName {
		t.Errorf("DisplayName changed unexpectedly: %q", updated.DisplayName)
	}
}

func TestUpdateTruncatesLongDisplayName(t *testing.T) {
	r := New()
	s, _ := r.IdentifyPeer()

	long := "this display name is definitely over the limit"
	updated, ok := r.Update(s.ID, nil, nil, &long, nil)
	if !ok {
		t.Fatal("Update returned ok=false")
	}
	if len(updated.DisplayName) != 24 {
		t.Errorf("len(DisplayName) = %d, want 24", len(updated.DisplayName))
	}
}

func TestUpdateIgnoresNonFiniteCoordinates(t *testing.T) {
	r := New()
	s, _ := r.IdentifyPeer()

	nan := 0.0
	nan = nan / nan // NaN

	updated, ok := r.Update(s.ID, &nan, &nan, nil, nil)
	if !ok {
		t.Fatal("Update returned ok=false")
	}
	if updated.X != 0 || updated.Y != 0 {
		t.Errorf("non-finite coordinates were applied: %v, %v", updated.X, updated.Y)
	}
}

func TestUpdateUnknownSessionReturnsFalse(t *testing.T) {
	r := New()
	if _, ok := r.Update("nonexistent", nil, nil, nil, nil); ok {
		t.Error("Update on unknown id returned ok=true")
	}
}
