package clock

import (
	"testing"
	"time"
)

func TestNewResolvesTimezone(t *testing.T) {
	c, ok := New("America/New_York")
	if !ok {
		t.Fatal("known timezone did not resolve")
	}
	if c.Location().String() != "America/New_York" {
		t.Errorf("location = %s", c.Location())
	}
}

func TestNewUnknownFallsBack(t *testing.T) {
	c, ok := New("Mars/Olympus_Mons")
	if ok {
		t.Error("unknown timezone reported as resolved")
	}
	if c.Location().String() != DefaultTimezone {
		t.Errorf("fallback location = %s, want %s", c.Location(), DefaultTimezone)
	}

	c, ok = New("")
	if ok || c.Location().String() != DefaultTimezone {
		t.Errorf("empty name: ok=%v location=%s", ok, c.Location())
	}
}

func TestFixedIDStamp(t *testing.T) {
	c := Fixed(time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC))
	date, minute := c.IDStamp()
	if date != "20250301" || minute != "0930" {
		t.Errorf("IDStamp = %s, %s", date, minute)
	}
	if !c.Now().Equal(time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("Now = %v", c.Now())
	}
}

func TestParseISO(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Brussels")
	if err != nil {
		t.Fatal(err)
	}
	c := Fixed(time.Date(2025, 3, 1, 9, 30, 0, 0, loc))

	got, err := c.ParseISO("2025-03-01T09:30:00+01:00")
	if err != nil {
		t.Fatalf("ParseISO datetime: %v", err)
	}
	if !got.Equal(time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC)) {
		t.Errorf("parsed = %v", got)
	}

	// Date-only values mean local midnight.
	got, err = c.ParseISO("2025-03-01")
	if err != nil {
		t.Fatalf("ParseISO date: %v", err)
	}
	want := time.Date(2025, 3, 1, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("parsed = %v, want %v", got, want)
	}

	if _, err := c.ParseISO("next tuesday"); err == nil {
		t.Error("garbage accepted")
	}
}

func TestFormatISO(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Brussels")
	if err != nil {
		t.Fatal(err)
	}
	c := Fixed(time.Date(2025, 3, 1, 9, 30, 0, 0, loc))
	got := c.FormatISO(time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC))
	if got != "2025-03-01T09:30:00+01:00" {
		t.Errorf("FormatISO = %s", got)
	}
}
