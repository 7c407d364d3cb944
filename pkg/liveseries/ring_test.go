package liveseries

import (
	"testing"
	"time"
)

func TestRingKeepsLastN(t *testing.T) {
	r := newRing(3)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r.push(Point{Timestamp: base.Add(time.Duration(i) * time.Second), Value: float64(i)})
	}
	if r.len() != 3 {
		t.Fatalf("len = %d, want 3", r.len())
	}
	pts := r.points()
	for i, want := range []float64{2, 3, 4} {
		if pts[i].Value != want {
			t.Errorf("points[%d].Value = %v, want %v", i, pts[i].Value, want)
		}
	}
}

func TestRingUnderCapacity(t *testing.T) {
	r := newRing(10)
	r.push(Point{Value: 1})
	r.push(Point{Value: 2})
	pts := r.points()
	if len(pts) != 2 || pts[0].Value != 1 || pts[1].Value != 2 {
		t.Fatalf("unexpected contents: %+v", pts)
	}
}

func TestRingPointsIsACopy(t *testing.T) {
	r := newRing(2)
	r.push(Point{Value: 1})
	pts := r.points()
	r.push(Point{Value: 2})
	r.push(Point{Value: 3})
	if pts[0].Value != 1 {
		t.Fatal("snapshot mutated by later pushes")
	}
}
