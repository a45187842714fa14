package wbin

import "testing"

func TestRoundTrip(t *testing.T) {
	b := make([]byte, 16)
	PutU32(b, 0, 0xdeadbeef)
	if got := U32(b, 0); got != 0xdeadbeef {
		t.Fatalf("got %x", got)
	}
	PutOff4(b, 4, 0x4000)
	if got := Off4(b, 4); got != 0x4000 {
		t.Fatalf("got %x", got)
	}
}

func TestAlign(t *testing.T) {
	if AlignUp(0x7C01, 0x8000) != 0x8000 {
		t.Fatal("align up wrong")
	}
	if AlignDown(0x8001, 0x8000) != 0x8000 {
		t.Fatal("align down wrong")
	}
	if !IsPow2(0x8000) || IsPow2(0x8001) {
		t.Fatal("ispow2 wrong")
	}
}
