package beep

import "testing"

func frames(d float64) int { return int(sampleRate * d) }

func TestSamplesLength(t *testing.T) {
	tail := 0.17
	tests := []struct {
		kind     Kind
		channels int
		tail     float64
		want     int
	}{
		{Start, 1, 0, frames(0.03)},
		{End, 1, 0, frames(0.05)},
		{Start, 2, tail, frames(0.03+tail) * 2},
		{Error, 1, 0, frames(0.08)*2 + frames(0.05)},
	}
	for _, tt := range tests {
		if got := len(Samples(tt.kind, tt.channels, tt.tail)); got != tt.want {
			t.Errorf("%s/%dch: len = %d, want %d", tt.kind, tt.channels, got, tt.want)
		}
	}
}

func TestStereoChannelsMatch(t *testing.T) {
	s := Samples(End, 2, 0)
	for i := 0; i+1 < len(s); i += 2 {
		if s[i] != s[i+1] {
			t.Fatalf("frame %d: left %d != right %d", i/2, s[i], s[i+1])
		}
	}
}

func TestTickDecays(t *testing.T) {
	s := Samples(Start, 1, 0.2)
	peak := func(from, to int) int16 {
		var p int16
		for _, v := range s[from:to] {
			if v < 0 {
				v = -v
			}
			p = max(p, v)
		}
		return p
	}
	head, tail := peak(0, 500), peak(len(s)-500, len(s))
	if head == 0 || tail >= head/10 {
		t.Errorf("head peak %d, tail peak %d: expected decay", head, tail)
	}
}

func TestErrorHasGap(t *testing.T) {
	s := Samples(Error, 1, 0)
	beepLen := frames(0.08)
	for i, v := range s[beepLen : beepLen+frames(0.05)] {
		if v != 0 {
			t.Fatalf("gap sample %d = %d, want 0", i, v)
		}
	}
}

func TestToBytesLittleEndian(t *testing.T) {
	b := toBytes([]int16{0x0102, -2})
	want := []byte{0x02, 0x01, 0xfe, 0xff}
	for i := range want {
		if b[i] != want[i] {
			t.Fatalf("bytes = %x, want %x", b, want)
		}
	}
}

func TestDisable(t *testing.T) {
	if !Enabled() {
		t.Fatal("enabled by default")
	}
	Disable()
	if Enabled() {
		t.Fatal("still enabled after Disable")
	}
	// no backend is touched once disabled
	Play(Start)
}
