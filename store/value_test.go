package store

import (
	"testing"
	"time"
)

func TestComputeHashDeterministic(t *testing.T) {
	h1 := ComputeHash(1, "node1", []byte("v"))
	h2 := ComputeHash(1, "node1", []byte("v"))
	if h1 != h2 {
		t.Fatalf("ComputeHash not deterministic: %d != %d", h1, h2)
	}
	if h3 := ComputeHash(2, "node1", []byte("v")); h3 == h1 {
		t.Fatalf("ComputeHash collided across differing version")
	}
}

func TestCompareValuesVersionDominates(t *testing.T) {
	a := Value{Version: 2, OriginatorId: "n1"}
	b := Value{Version: 1, OriginatorId: "n1"}
	if compareValues(a, b) != orderGreater {
		t.Fatalf("expected a to dominate on version")
	}
	if compareValues(b, a) != orderLess {
		t.Fatalf("expected b to lose on version")
	}
}

func TestCompareValuesOriginatorTiebreak(t *testing.T) {
	a := Value{Version: 1, OriginatorId: "n2"}
	b := Value{Version: 1, OriginatorId: "n1"}
	if compareValues(a, b) != orderGreater {
		t.Fatalf("expected higher originator id to win tie on version")
	}
}

func TestCompareValuesHashMismatchIsUnknown(t *testing.T) {
	a := Value{Version: 1, OriginatorId: "n1", Hash: 1, Value: []byte("a")}
	b := Value{Version: 1, OriginatorId: "n1", Hash: 2, Value: []byte("b")}
	if compareValues(a, b) != orderUnknown {
		t.Fatalf("expected hash mismatch at tied version/originator to be UNKNOWN")
	}
}

func TestCompareValuesHashOnlyIsEqual(t *testing.T) {
	full := Value{Version: 1, OriginatorId: "n1", Hash: 7, Value: []byte("v")}
	hashOnly := Value{Version: 1, OriginatorId: "n1", Hash: 7, Value: nil}
	if compareValues(hashOnly, full) != orderEqual {
		t.Fatalf("expected hash-only record to compare equal to the full one sharing its hash")
	}
}

func TestCompareValuesTtlVersionRefresh(t *testing.T) {
	a := Value{Version: 1, OriginatorId: "n1", Hash: 7, Value: []byte("v"), TtlVersion: 2}
	b := Value{Version: 1, OriginatorId: "n1", Hash: 7, Value: []byte("v"), TtlVersion: 1}
	if compareValues(a, b) != orderGreater {
		t.Fatalf("expected higher ttlVersion to win once version/originator/hash tie")
	}
}

func TestRemainingTTLInfinite(t *testing.T) {
	v := Value{Ttl: InfiniteTTL, OriginatedAt: time.Now()}
	if got := remainingTTL(v, time.Now().Add(time.Hour)); got != InfiniteTTL {
		t.Fatalf("expected InfiniteTTL, got %v", got)
	}
}

func TestRemainingTTLExpired(t *testing.T) {
	now := time.Now()
	v := Value{Ttl: time.Second, OriginatedAt: now.Add(-2 * time.Second)}
	if got := remainingTTL(v, now); got != 0 {
		t.Fatalf("expected 0 remaining, got %v", got)
	}
}

func TestHasBody(t *testing.T) {
	if (Value{Value: nil}).HasBody() {
		t.Fatalf("nil Value should report HasBody false")
	}
	if !(Value{Value: []byte{}}).HasBody() {
		t.Fatalf("non-nil empty byte slice should still report HasBody true")
	}
}
