package timeutil

import (
	"testing"
	"time"
)

func TestParseToleratesVariants(t *testing.T) {
	want := time.Date(2023, 2, 6, 1, 17, 34, 0, time.UTC)
	cases := []string{
		"2023-02-06T01:17:34Z",
		"2023-02-06T01:17:34",
		"2023-02-06T01:17:34.0Z",
		"2023-02-06T01:17:34.000000Z",
		"2023-02-06T01:17:34.123456",
		"2023-02-06 01:17:34",
		"2023-02-06 01:17:34.123456",
	}
	for _, in := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Errorf("Parse(%q): %v", in, err)
			continue
		}
		if got.Truncate(time.Second) != want {
			t.Errorf("Parse(%q) = %v, want %v", in, got, want)
		}
		if got.Location() != time.UTC {
			t.Errorf("Parse(%q) not UTC: %v", in, got.Location())
		}
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "yesterday", "2023-13-45T99:99:99Z"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) accepted", in)
		}
	}
}

func TestFormatRoundTrip(t *testing.T) {
	in := time.Date(2023, 2, 6, 1, 17, 34, 987654321, time.UTC)
	s := Format(in)
	if s != "2023-02-06T01:17:34Z" {
		t.Fatalf("Format = %q, want seconds precision with Z", s)
	}
	back, err := Parse(s)
	if err != nil {
		t.Fatalf("round trip parse: %v", err)
	}
	if !back.Equal(in.Truncate(time.Second)) {
		t.Fatalf("round trip = %v", back)
	}
}

func TestEpochSeconds(t *testing.T) {
	in := time.Date(1970, 1, 1, 0, 1, 0, 0, time.UTC)
	if got := EpochSeconds(in); got != 60 {
		t.Fatalf("EpochSeconds = %d", got)
	}
}
