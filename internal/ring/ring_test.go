package ring

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestPushPeekConsumeRoundTrip(t *testing.T) {
	b := New(64)
	src := make([]byte, 40)
	rand.New(rand.NewSource(1)).Read(src)

	if n := b.Push(src, false); n != len(src) {
		t.Fatalf("Push returned %d, want %d", n, len(src))
	}

	dst := make([]byte, len(src))
	if n := b.Peek(dst); n != len(src) {
		t.Fatalf("Peek returned %d, want %d", n, len(src))
	}
	if !bytes.Equal(dst, src) {
		t.Fatal("peeked bytes do not match written bytes")
	}
	if b.Len() != len(src) {
		t.Fatalf("Len() = %d, want %d after non-destructive peek", b.Len(), len(src))
	}

	b.Consume(len(src))
	if b.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after consuming everything", b.Len())
	}
}

func TestPushRejectOnFullWhenNotOverwriting(t *testing.T) {
	b := New(16)
	if n := b.Push(make([]byte, 16), false); n != 16 {
		t.Fatalf("initial fill: got %d, want 16", n)
	}
	if n := b.Push([]byte{1}, false); n != 0 {
		t.Fatalf("Push into a full non-overwrite ring returned %d, want 0", n)
	}
	if b.Free() != 0 {
		t.Fatalf("Free() = %d, want 0", b.Free())
	}
}

func TestOverwritePreservesLastCapacityBytesInOrder(t *testing.T) {
	b := New(8)
	var all []byte
	for i := 0; i < 20; i++ {
		all = append(all, byte(i))
		b.Push([]byte{byte(i)}, true)
	}
	if b.Len() != 8 {
		t.Fatalf("Len() = %d, want 8", b.Len())
	}
	want := all[len(all)-8:]
	got := make([]byte, 8)
	b.Peek(got)
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestEmptyAfterSingleByteRoundTripResetsIndices(t *testing.T) {
	b := New(32)
	b.Push([]byte{7}, false)
	out := make([]byte, 1)
	b.Pop(out)
	if b.head != 0 || b.tail != 0 {
		t.Fatalf("head=%d tail=%d, want 0,0 once ring empties", b.head, b.tail)
	}
}

func TestRandomWriteSequencesPreserveOrderWithoutOverwrite(t *testing.T) {
	const capacity = 256
	b := New(capacity)
	rng := rand.New(rand.NewSource(42))
	var want []byte

	for len(want) < capacity-8 {
		n := 1 + rng.Intn(8)
		chunk := make([]byte, n)
		rng.Read(chunk)
		if b.Free() < n {
			break
		}
		b.Push(chunk, false)
		want = append(want, chunk...)
	}

	got := make([]byte, len(want))
	b.Pop(got)
	if !bytes.Equal(got, want) {
		t.Fatalf("round-tripped bytes diverge from what was written")
	}
}

func TestNewPanicsOnNonPowerOfTwoCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-power-of-two capacity")
		}
	}()
	New(100)
}
