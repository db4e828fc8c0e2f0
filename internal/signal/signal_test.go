package signal

import (
	"testing"
	"time"
)

func TestDirectionText(t *testing.T) {
	for _, d := range []Direction{Long, Short, Neutral} {
		b, err := d.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText error: %v", err)
		}
		var back Direction
		if err := back.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText error: %v", err)
		}
		if back != d {
			t.Fatalf("expected %s got %s", d, back)
		}
	}
	var d Direction
	if err := d.UnmarshalText([]byte("sideways")); err == nil {
		t.Fatalf("expected error for unknown direction")
	}
}

func TestBookImbalanceRatio(t *testing.T) {
	if _, ok := (BookImbalance{}).Ratio(); ok {
		t.Fatalf("expected empty book to report no ratio")
	}
	r, ok := BookImbalance{BidVolume: 3, AskVolume: 1}.Ratio()
	if !ok || r != 0.5 {
		t.Fatalf("expected 0.5, got %v (%v)", r, ok)
	}
}

func TestHorizonSeconds(t *testing.T) {
	h := Horizon{Key: "5m", Duration: 5 * time.Minute}
	if h.Seconds() != 300 {
		t.Fatalf("expected 300 seconds, got %v", h.Seconds())
	}
}
