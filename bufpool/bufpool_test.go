package bufpool

import "testing"

func TestClassFor(t *testing.T) {
	tests := []struct {
		n        int
		wantIdx  int
		wantSize int
	}{
		{0, 0, 64},
		{1, 0, 64},
		{64, 0, 64},
		{65, 1, 128},
		{100, 1, 128},
		{maxClass, 10, maxClass},
		{maxClass + 1, -1, 0},
		{1 << 20, -1, 0},
	}
	for _, tc := range tests {
		idx, size := classFor(tc.n)
		if idx != tc.wantIdx || size != tc.wantSize {
			t.Errorf("classFor(%d) = (%d, %d), want (%d, %d)", tc.n, idx, size, tc.wantIdx, tc.wantSize)
		}
	}
}

func TestGetLength(t *testing.T) {
	p := New()
	for _, n := range []int{0, 1, 63, 64, 65, 4096, maxClass, maxClass + 1, 1 << 20} {
		bs := p.Get(n)
		if len(bs) != n {
			t.Errorf("Get(%d) returned slice of length %d", n, len(bs))
		}
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	p := New()
	bs := p.Get(100)
	bs[0] = 0xAB
	p.Put(bs)

	got := p.Get(100)
	if cap(got) < 100 {
		t.Fatalf("Get(100) after Put returned cap %d, want >= 100", cap(got))
	}
}

func TestPutOversizedDropped(t *testing.T) {
	p := New()
	bs := make([]byte, maxClass+1)
	// Must not panic despite the buffer matching no size class.
	p.Put(bs)
}
