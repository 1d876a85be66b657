package swc

import "testing"

func TestDecodeLowestBitWins(t *testing.T) {
	tests := []struct {
		src  Source
		raw  byte
		want Button
	}{
		{Audio, 0x00, None},
		{Audio, 0x01, VolUp},
		{Audio, 0x02, VolDown},
		{Audio, 0x20, Mute},
		{Audio, 0x06, VolDown}, // VOL- and MODE together
		{Audio, 0x28, SeekUp},
		{Audio, 0xC0, None}, // unused bits
		{Cruise, 0x01, CruiseOnOff},
		{Cruise, 0x0C, ResPlus},
		{Cruise, 0x08, SetMinus},
		{Cruise, 0x30, None},
	}
	for _, tt := range tests {
		if got := Decode(tt.src, tt.raw); got != tt.want {
			t.Errorf("Decode(%d, %#02x) = %v, want %v", tt.src, tt.raw, got, tt.want)
		}
	}
}

func TestRepeatedBytesProduceOneEvent(t *testing.T) {
	d := NewDebouncer(Audio)
	events := 0
	for ms := uint32(0); ms < DebounceMs; ms += 5 {
		if _, ok := d.Sample(0x01, 1000+ms); ok {
			events++
		}
	}
	if events != 1 {
		t.Fatalf("got %d events, want 1", events)
	}
}

func TestBounceWithinWindowIsIgnored(t *testing.T) {
	d := NewDebouncer(Audio)
	if ev, ok := d.Sample(0x20, 0); !ok || ev.Button != Mute {
		t.Fatalf("first press: %v %v", ev, ok)
	}
	d.Sample(0x00, 10)
	if _, ok := d.Sample(0x20, 30); ok {
		t.Fatal("bounce produced a second event")
	}
	d.Sample(0x00, 40)
	if ev, ok := d.Sample(0x20, 200); !ok || ev.Repeat {
		t.Fatalf("press after window: %v %v", ev, ok)
	}
}

func TestAutoRepeat(t *testing.T) {
	d := NewDebouncer(Audio)
	var got []Event
	for ms := uint32(0); ms <= 800; ms += 10 {
		if ev, ok := d.Sample(0x01, ms); ok {
			got = append(got, ev)
		}
	}
	// press at 0, repeats at 500, 600, 700, 800
	want := []uint32{0, 500, 600, 700, 800}
	if len(got) != len(want) {
		t.Fatalf("got %d events %v, want %d", len(got), got, len(want))
	}
	for i, ev := range got {
		if ev.AtMs != want[i] || ev.Button != VolUp {
			t.Errorf("event %d = %+v, want VolUp at %d", i, ev, want[i])
		}
		if ev.Repeat != (i > 0) {
			t.Errorf("event %d Repeat = %v", i, ev.Repeat)
		}
	}
}

func TestTickRepeatsAndReleases(t *testing.T) {
	d := NewDebouncer(Cruise)
	d.Sample(0x02, 0)
	// Frames keep arriving every 100 ms; ticks fill the gaps.
	var repeats int
	for ms := uint32(1); ms <= 700; ms++ {
		if ms%100 == 0 {
			if _, ok := d.Sample(0x02, ms); ok {
				repeats++
			}
			continue
		}
		if _, ok := d.Tick(ms); ok {
			repeats++
		}
	}
	if repeats != 3 { // 500, 600, 700
		t.Fatalf("repeats = %d, want 3", repeats)
	}
	if d.Held() != Cancel {
		t.Fatalf("Held = %v", d.Held())
	}
	if _, ok := d.Tick(700 + ReleaseMs); ok {
		t.Fatal("stale source should release, not repeat")
	}
	if d.Held() != None {
		t.Fatalf("Held after silence = %v", d.Held())
	}
	ev, ok := d.Tick(700 + ReleaseMs + DebounceMs)
	if !ok || !ev.Release || ev.Button != Cancel {
		t.Fatalf("release event = %+v %v", ev, ok)
	}
	if _, ok := d.Tick(700 + ReleaseMs + 2*DebounceMs); ok {
		t.Fatal("release reported twice")
	}
}

func TestReleaseWaitsOutBounces(t *testing.T) {
	d := NewDebouncer(Audio)
	d.Sample(0x04, 0)
	if _, ok := d.Sample(0x00, 100); ok {
		t.Fatal("release reported before the debounce window")
	}
	// Contact bounce: MODE comes back inside the window.
	d.Sample(0x04, 120)
	if ev, ok := d.Tick(200); ok {
		t.Fatalf("bounce produced %+v", ev)
	}
	d.Sample(0x00, 300)
	if _, ok := d.Sample(0x00, 320); ok {
		t.Fatal("release inside the window")
	}
	ev, ok := d.Sample(0x00, 360)
	if !ok || !ev.Release || ev.Button != Mode || ev.AtMs != 360 {
		t.Fatalf("release = %+v %v", ev, ok)
	}
}

func TestSwitchingButtons(t *testing.T) {
	d := NewDebouncer(Audio)
	d.Sample(0x01, 0)
	if _, ok := d.Sample(0x02, 20); ok {
		t.Fatal("chatter to another button inside the window was accepted")
	}
	if ev, ok := d.Sample(0x02, 80); !ok || ev.Button != VolDown {
		t.Fatalf("switch after window: %v %v", ev, ok)
	}
}
