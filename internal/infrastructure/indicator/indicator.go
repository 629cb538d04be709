package indicator

import (
	"fmt"

	"github.com/davarch/buildlight/internal/domain"
	"go.uber.org/zap"
)

const (
	DriverFirmata = "firmata"
	DriverConsole = "console"
)

// Open builds the configured driver and wraps it so that concurrent
// trackers never interleave writes.
func Open(driver, port string, log *zap.Logger) (*Serialized, error) {
	var (
		dev domain.Indicator
		err error
	)

	switch driver {
	case DriverFirmata, "":
		dev, err = DialFirmata(port, log.Named("firmata"))
	case DriverConsole:
		dev = NewConsole(log.Named("console"))
	default:
		return nil, fmt.Errorf("unknown indicator driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s indicator on %q: %w", driver, port, err)
	}

	return NewSerialized(dev), nil
}
