package indicator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/davarch/buildlight/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type write struct {
	pin   string
	level byte
}

type fakeBoard struct {
	mu         sync.Mutex
	writes     []write
	connectErr error
	finalized  bool
}

func (b *fakeBoard) Connect() error { return b.connectErr }

func (b *fakeBoard) DigitalWrite(pin string, level byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, write{pin, level})
	return nil
}

func (b *fakeBoard) Finalize() error {
	b.finalized = true
	return nil
}

func TestFirmata_SetOutputAndAllOff(t *testing.T) {
	b := &fakeBoard{}
	f, err := NewFirmata(b, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	_ = f.SetOutput(10, true)
	_ = f.AllOff([]domain.OutputID{9, 10, 11})

	want := []write{{"10", 1}, {"9", 0}, {"10", 0}, {"11", 0}}
	if len(b.writes) != len(want) {
		t.Fatalf("writes = %v, want %v", b.writes, want)
	}
	for i := range want {
		if b.writes[i] != want[i] {
			t.Errorf("write %d = %v, want %v", i, b.writes[i], want[i])
		}
	}
}

func TestFirmata_BuzzPulsesPin(t *testing.T) {
	b := &fakeBoard{}
	f, _ := NewFirmata(b, zap.NewNop())

	start := time.Now()
	if err := f.Buzz(context.Background(), 5, 20*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Errorf("buzz returned before its duration")
	}
	if len(b.writes) != 2 || b.writes[0] != (write{"5", 1}) || b.writes[1] != (write{"5", 0}) {
		t.Errorf("unexpected writes %v", b.writes)
	}
}

func TestFirmata_BuzzReleasesOnCancel(t *testing.T) {
	b := &fakeBoard{}
	f, _ := NewFirmata(b, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = f.Buzz(ctx, 5, time.Hour)

	if len(b.writes) != 2 || b.writes[1] != (write{"5", 0}) {
		t.Errorf("buzzer not released: %v", b.writes)
	}
}

func TestFirmata_CloseUrgentlyTurnsOffTouchedPins(t *testing.T) {
	b := &fakeBoard{}
	f, _ := NewFirmata(b, zap.NewNop())
	_ = f.SetOutput(11, true)
	_ = f.SetOutput(9, true)
	b.writes = nil

	if err := f.CloseUrgently(); err != nil {
		t.Fatal(err)
	}
	if !b.finalized {
		t.Error("board not finalized")
	}
	want := []write{{"9", 0}, {"11", 0}}
	if len(b.writes) != 2 || b.writes[0] != want[0] || b.writes[1] != want[1] {
		t.Errorf("writes = %v, want %v", b.writes, want)
	}
}

func TestFirmata_ConnectFailure(t *testing.T) {
	b := &fakeBoard{connectErr: errors.New("no such port")}
	if _, err := NewFirmata(b, zap.NewNop()); err == nil {
		t.Fatal("expected error")
	}
}

func TestFirmata_NoOutputIsIgnored(t *testing.T) {
	b := &fakeBoard{}
	f, _ := NewFirmata(b, zap.NewNop())
	_ = f.SetOutput(domain.NoOutput, true)
	if len(b.writes) != 0 {
		t.Errorf("unexpected writes %v", b.writes)
	}
}

// slowIndicator records the maximum number of concurrent calls it sees.
type slowIndicator struct {
	domain.MockIndicator
	mu      sync.Mutex
	active  int
	maxSeen int
}

func (s *slowIndicator) enter() {
	s.mu.Lock()
	s.active++
	if s.active > s.maxSeen {
		s.maxSeen = s.active
	}
	s.mu.Unlock()
	time.Sleep(time.Millisecond)
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
}

func (s *slowIndicator) SetOutput(id domain.OutputID, on bool) error {
	s.enter()
	return s.MockIndicator.SetOutput(id, on)
}

func TestSerialized_NoConcurrentAccess(t *testing.T) {
	dev := &slowIndicator{}
	s := NewSerialized(dev)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.SetOutput(domain.OutputID(i), true)
		}(i)
	}
	wg.Wait()

	if dev.maxSeen != 1 {
		t.Errorf("saw %d concurrent calls", dev.maxSeen)
	}
}

func TestSerialized_CloseUrgentlyDoesNotWaitForever(t *testing.T) {
	dev := &domain.MockIndicator{}
	s := NewSerialized(dev)

	s.lock() // simulate a caller stuck while holding the device
	done := make(chan error, 1)
	go func() { done <- s.CloseUrgently() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("CloseUrgently blocked")
	}
	if !dev.Urgent {
		t.Error("device not closed")
	}
}

func TestConsole_TracksLevels(t *testing.T) {
	c := NewConsole(zap.NewNop())
	_ = c.SetOutput(9, true)
	if !c.Lit(9) {
		t.Fatal("expected pin 9 lit")
	}
	_ = c.AllOff([]domain.OutputID{9, 10})
	if c.Lit(9) {
		t.Fatal("expected pin 9 off")
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open("smoke-signals", "", zap.NewNop()); err == nil {
		t.Fatal("expected error")
	}
}

func TestShutdownSequenceDoesNotLog(t *testing.T) {
	ids := []domain.OutputID{9, 10, 11, 5}

	b := &fakeBoard{}
	f, err := NewFirmata(b, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	core, logs := observer.New(zap.DebugLevel)
	f.log = zap.New(core)
	_ = f.SetOutput(10, true)
	logs.TakeAll()

	ind := NewSerialized(f)
	if err := ind.AllOff(ids); err != nil {
		t.Fatal(err)
	}
	if err := ind.CloseUrgently(); err != nil {
		t.Fatal(err)
	}
	if n := logs.Len(); n != 0 {
		t.Errorf("firmata logged %d entries on shutdown: %v", n, logs.All())
	}
	if !b.finalized {
		t.Error("board not finalized")
	}

	ccore, clogs := observer.New(zap.DebugLevel)
	c := NewConsole(zap.New(ccore))
	_ = c.SetOutput(9, true)
	clogs.TakeAll()

	_ = c.AllOff(ids)
	_ = c.CloseUrgently()
	if n := clogs.Len(); n != 0 {
		t.Errorf("console logged %d entries on shutdown: %v", n, clogs.All())
	}
	if c.Lit(9) {
		t.Error("pin 9 still lit")
	}
}
