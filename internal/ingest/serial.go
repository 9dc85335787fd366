package ingest

import (
	"fmt"
	"io"

	"go.bug.st/serial"

	"github.com/akfujita/prodtrac/internal/config"
)

// OpenSerial opens the serial device described by cfg. The returned
// reader yields (0, nil) on read timeout so callers can poll for
// shutdown between reads.
func OpenSerial(cfg config.PortConfig) (io.ReadCloser, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: cfg.DataBits,
		Parity:   parityOf(cfg.Parity),
		StopBits: stopBitsOf(cfg.StopBits),
	}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout()); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", cfg.Device, err)
	}
	return port, nil
}

func parityOf(s string) serial.Parity {
	switch s {
	case "E":
		return serial.EvenParity
	case "O":
		return serial.OddParity
	case "M":
		return serial.MarkParity
	case "S":
		return serial.SpaceParity
	default:
		return serial.NoParity
	}
}

func stopBitsOf(n int) serial.StopBits {
	if n == 2 {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}
