package gcode

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/js-god/printipi/pkg/config"
	"github.com/js-god/printipi/pkg/motion"
	"github.com/js-god/printipi/pkg/sched"
)

// newTestDispatcher runs a scheduler with no hardware attached: moves
// are planned and consumed, pins are never touched.
func newTestDispatcher(t *testing.T) (*Dispatcher, *motion.Planner, func()) {
	t.Helper()
	cfg := config.DefaultKossel()
	cfg.HomeBeforeFirstMovement = false

	m := motion.NewDeltaCoordMap(&cfg)
	planner := motion.NewPlanner(&cfg, m)
	s := sched.New(&cfg, sched.NewSimClock(0), planner, sched.Hardware{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	return NewDispatcher(s), planner, func() {
		s.Abort()
		cancel()
		<-done
	}
}

func waitCond(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDispatchMove(t *testing.T) {
	d, planner, stop := newTestDispatcher(t)
	defer stop()

	reply, err := d.Execute("G1 X10 Y5 Z50 F3000")
	if err != nil || reply != "ok" {
		t.Fatalf("Execute = (%q, %v)", reply, err)
	}

	waitCond(t, "planned position", func() bool {
		x, y, z, _ := planner.Position()
		return x == 10 && y == 5 && z == 50
	})
}

func TestFeedratePersists(t *testing.T) {
	d, _, stop := newTestDispatcher(t)
	defer stop()

	d.Execute("G1 X1 F1200")
	if d.feedrate != 20 {
		t.Errorf("feedrate %v mm/s, want 20", d.feedrate)
	}
	d.Execute("G1 X2")
	if d.feedrate != 20 {
		t.Errorf("feedrate changed without F: %v", d.feedrate)
	}
}

func TestDispatchReports(t *testing.T) {
	d, _, stop := newTestDispatcher(t)
	defer stop()

	reply, err := d.Execute("M105")
	if err != nil || !strings.HasPrefix(reply, "ok T:") {
		t.Errorf("M105 = (%q, %v)", reply, err)
	}
	reply, err = d.Execute("M114")
	if err != nil || !strings.HasPrefix(reply, "ok X:") {
		t.Errorf("M114 = (%q, %v)", reply, err)
	}
}

func TestDispatchEmergencyStop(t *testing.T) {
	d, _, stop := newTestDispatcher(t)
	defer stop()

	fired := false
	d.EmergencyStop = func() { fired = true }
	if _, err := d.Execute("M112"); err != nil {
		t.Fatal(err)
	}
	if !fired {
		t.Errorf("M112 did not invoke the emergency stop")
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	d, _, stop := newTestDispatcher(t)
	defer stop()

	if _, err := d.Execute("M999"); err == nil {
		t.Errorf("M999 accepted")
	}
}

func TestServeRepliesPerLine(t *testing.T) {
	d, _, stop := newTestDispatcher(t)
	defer stop()

	in := strings.NewReader("G1 X5 F600\nbogus\nM114\n")
	var out strings.Builder
	if err := Serve(context.Background(), d, in, &out); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d replies: %q", len(lines), out.String())
	}
	if lines[0] != "ok" {
		t.Errorf("move reply %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "Error:") {
		t.Errorf("bad line reply %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "ok X:") {
		t.Errorf("M114 reply %q", lines[2])
	}
}
