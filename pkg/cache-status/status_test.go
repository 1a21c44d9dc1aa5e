package cachestatus

import "testing"

func TestStatusString(t *testing.T) {
	cs := New("TravelNotes")
	cs.Hit()
	if s := cs.String(); s != "TravelNotes; hit" {
		t.Fatalf("Status is %s", s)
	}

	cs = New("TravelNotes")
	cs.Forward(FwdUriMiss)
	cs.Stored()
	if s := cs.String(); s != "TravelNotes; fwd=uri-miss; stored" {
		t.Fatalf("Status is %s", s)
	}

	cs = New("TravelNotes")
	cs.Hit()
	cs.Detail("offline-shell")
	if s := cs.String(); s != "TravelNotes; hit; detail=offline-shell" {
		t.Fatalf("Status is %s", s)
	}
}
