package indicator

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/davarch/buildlight/internal/domain"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gobot.io/x/gobot/v2/platforms/firmata"
)

// Board is the subset of a Firmata connection the driver needs.
type Board interface {
	Connect() error
	DigitalWrite(pin string, level byte) error
	Finalize() error
}

// Firmata drives LEDs and a buzzer wired to the digital pins of a board
// running the Firmata firmware.
type Firmata struct {
	log   *zap.Logger
	board Board

	mu      sync.Mutex
	touched map[domain.OutputID]struct{}
}

// DialFirmata connects to a board on the given serial port.
func DialFirmata(port string, log *zap.Logger) (*Firmata, error) {
	return NewFirmata(firmata.NewAdaptor(port), log)
}

func NewFirmata(b Board, log *zap.Logger) (*Firmata, error) {
	log.Debug("connecting to board")
	if err := b.Connect(); err != nil {
		return nil, err
	}
	log.Info("board connected")

	return &Firmata{log: log, board: b, touched: make(map[domain.OutputID]struct{})}, nil
}

func (f *Firmata) write(id domain.OutputID, on bool) error {
	if id == domain.NoOutput {
		return nil
	}
	f.mu.Lock()
	f.touched[id] = struct{}{}
	f.mu.Unlock()

	var level byte
	if on {
		level = 1
	}
	return f.board.DigitalWrite(strconv.Itoa(int(id)), level)
}

func (f *Firmata) SetOutput(id domain.OutputID, on bool) error {
	f.log.Debug("set output", zap.Stringer("pin", id), zap.Bool("on", on))
	return f.write(id, on)
}

func (f *Firmata) Buzz(ctx context.Context, id domain.OutputID, d time.Duration) error {
	f.log.Debug("buzz", zap.Stringer("pin", id), zap.Duration("for", d))
	if err := f.write(id, true); err != nil {
		return err
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}

	return f.write(id, false)
}

// AllOff is also the first step of shutdown and does not log.
func (f *Firmata) AllOff(ids []domain.OutputID) error {
	var err error
	for _, id := range ids {
		err = multierr.Append(err, f.write(id, false))
	}
	return err
}

func (f *Firmata) Close() error {
	f.log.Debug("closing board connection")
	return f.board.Finalize()
}

// CloseUrgently pulls every pin ever driven low, gives the board a moment
// to apply the writes, then drops the connection.
func (f *Firmata) CloseUrgently() error {
	var err error
	for _, id := range f.touchedPins() {
		err = multierr.Append(err, f.board.DigitalWrite(strconv.Itoa(int(id)), 0))
	}
	time.Sleep(100 * time.Millisecond)
	return multierr.Append(err, f.board.Finalize())
}

func (f *Firmata) touchedPins() []domain.OutputID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.OutputID, 0, len(f.touched))
	for id := range f.touched {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
