package motion

import (
	"math"
	"testing"
)

func TestTrapezoidProfile(t *testing.T) {
	// 10 mm at 50 mm/s cruise, 1200 mm/s^2, rest-to-rest.
	p := NewAccelProfile(10, 50, 0, 0, 1200)

	if p.PeakVelocity() != 50 {
		t.Errorf("peak velocity %.3f, want 50", p.PeakVelocity())
	}
	// t = 2*50/1200 + (10 - 50^2/1200)/50
	want := 2*50.0/1200 + (10-50.0*50/1200)/50
	if math.Abs(p.Duration()-want) > 1e-9 {
		t.Errorf("duration %.9f, want %.9f", p.Duration(), want)
	}
}

func TestTriangularProfile(t *testing.T) {
	// Too short to reach the requested cruise velocity.
	p := NewAccelProfile(1, 50, 0, 0, 1200)

	want := math.Sqrt(2 * 1200 * 1 / 2.0) // sqrt((2ad)/2)
	if math.Abs(p.PeakVelocity()-want) > 1e-9 {
		t.Errorf("peak velocity %.6f, want %.6f", p.PeakVelocity(), want)
	}
	if p.tCruise != 0 {
		t.Errorf("triangular profile has cruise time %.9f", p.tCruise)
	}
}

func TestDistanceCoversSegment(t *testing.T) {
	tests := []struct {
		name             string
		d, vc, ve, vx, a float64
	}{
		{"trapezoid", 10, 50, 0, 0, 1200},
		{"triangle", 1, 50, 0, 0, 1200},
		{"slow cruise", 25, 10, 0, 0, 1200},
		{"tiny", 0.01, 50, 0, 0, 1200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewAccelProfile(tt.d, tt.vc, tt.ve, tt.vx, tt.a)
			got := p.DistanceAt(p.Duration())
			if math.Abs(got-tt.d)/tt.d > 1e-6 {
				t.Errorf("DistanceAt(Duration) = %.9f, want %.9f", got, tt.d)
			}
		})
	}
}

func TestDistanceMonotone(t *testing.T) {
	p := NewAccelProfile(10, 50, 0, 0, 1200)
	prev := -1.0
	for i := 0; i <= 1000; i++ {
		ti := p.Duration() * float64(i) / 1000
		s := p.DistanceAt(ti)
		if s < prev {
			t.Fatalf("DistanceAt not monotone at t=%.6f: %.9f < %.9f", ti, s, prev)
		}
		prev = s
	}
}

func TestTimeAtDistanceInvertsDistanceAt(t *testing.T) {
	p := NewAccelProfile(10, 50, 0, 0, 1200)
	for i := 1; i < 100; i++ {
		s := 10 * float64(i) / 100
		ti := p.TimeAtDistance(s)
		back := p.DistanceAt(ti)
		if math.Abs(back-s) > 1e-9 {
			t.Errorf("DistanceAt(TimeAtDistance(%.3f)) = %.9f", s, back)
		}
	}
}

func TestVelocityProfileShape(t *testing.T) {
	p := NewAccelProfile(10, 50, 0, 0, 1200)

	if v := p.VelocityAt(0); v != 0 {
		t.Errorf("entry velocity %.3f, want 0", v)
	}
	if v := p.VelocityAt(p.tAccel + p.tCruise/2); v != 50 {
		t.Errorf("cruise velocity %.3f, want 50", v)
	}
	if v := p.VelocityAt(p.Duration() + 1); v != 0 {
		t.Errorf("exit velocity %.3f, want 0", v)
	}
}
