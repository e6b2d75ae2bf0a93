package types

import "testing"

func TestQueryKeyString(t *testing.T) {
	k := QueryKey{EventID: "ev1", Service: ServiceRRSM, DelayMinutes: 60}
	if got := k.String(); got != "ev1/RRSM/t60" {
		t.Fatalf("key string = %q", got)
	}
}

func TestIsFinalStage(t *testing.T) {
	q := &ScheduledQuery{NextDelayMinutes: IntPtr(180)}
	if q.IsFinalStage() {
		t.Fatal("row with next delay reported final")
	}
	q.NextDelayMinutes = nil
	if !q.IsFinalStage() {
		t.Fatal("row without next delay not final")
	}
}

func TestChannelFromSNCL(t *testing.T) {
	ch, err := ChannelFromSNCL("KO.KHMN.00.HNZ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ch.Network != "KO" || ch.Station != "KHMN" || ch.Location != "00" || ch.Channel != "HNZ" {
		t.Fatalf("channel = %+v", ch)
	}
	if ch.SNCL() != "KO.KHMN.00.HNZ" {
		t.Fatalf("round trip = %q", ch.SNCL())
	}

	for _, bad := range []string{"", "KO.KHMN", "a.b.c.d.e"} {
		if _, err := ChannelFromSNCL(bad); err == nil {
			t.Errorf("ChannelFromSNCL(%q) accepted", bad)
		}
	}
}

func TestRawStationSNCL(t *testing.T) {
	s := RawStation{Network: "KO", Station: "KHMN"}
	if s.HasFullSNCL() {
		t.Fatal("partial codes reported full")
	}
	s.Location, s.Channel = "00", "HNZ"
	if !s.HasFullSNCL() {
		t.Fatal("full codes reported partial")
	}
	if s.SNCL() != "KO.KHMN.00.HNZ" {
		t.Fatalf("sncl = %q", s.SNCL())
	}
}
