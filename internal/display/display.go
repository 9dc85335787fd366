// Package display is the boundary to the station character LCD. Frames and
// error screens are published to NATS subjects consumed by the panel driver;
// when no broker is configured a no-op sink keeps the rest of the pipeline
// unchanged.
package display

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Frame is one full redraw of the station display for a port.
type Frame struct {
	Port    string `json:"port"`
	Status  string `json:"status"`
	Timer   string `json:"timer"`
	Worker  string `json:"worker"`
	Process string `json:"process"`
	CheckNo string `json:"check_no"`
	Rework  bool   `json:"rework,omitempty"`
	Blink   bool   `json:"blink,omitempty"`
}

// ErrorScreen is a two-line error display with an optional hold.
type ErrorScreen struct {
	Port  string    `json:"port"`
	Code  string    `json:"code"`
	Lines [2]string `json:"lines"`
	// HoldSec 0 means the screen stays until the next frame.
	HoldSec int `json:"hold_sec"`
}

// Message is a transient one-line notice, shown for HoldSec seconds.
type Message struct {
	Port    string `json:"port"`
	Text    string `json:"text"`
	HoldSec int    `json:"hold_sec"`
}

// Display is the interface for driving station panels.
type Display interface {
	ShowFrame(ctx context.Context, f Frame) error
	ShowError(ctx context.Context, port, code string, hold time.Duration) error
	ShowMessage(ctx context.Context, port, text string, hold time.Duration) error
	PlayPairAnimation(ctx context.Context, port string) error
	Close() error
}

// NATSDisplay publishes display updates to NATS subjects. Publishing is
// fire-and-forget: a lost frame is repainted by the next timer tick.
type NATSDisplay struct {
	conn    *nats.Conn
	station string
}

func NewNATSDisplay(url, station string) (*NATSDisplay, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSDisplay{conn: nc, station: station}, nil
}

func (d *NATSDisplay) subject(kind string) string {
	return "display." + d.station + "." + kind
}

func (d *NATSDisplay) publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling display payload: %w", err)
	}
	return d.conn.Publish(subject, data)
}

func (d *NATSDisplay) ShowFrame(ctx context.Context, f Frame) error {
	return d.publish(d.subject("frame"), f)
}

func (d *NATSDisplay) ShowError(ctx context.Context, port, code string, hold time.Duration) error {
	return d.publish(d.subject("error"), ErrorScreen{
		Port:    port,
		Code:    code,
		Lines:   Lines(code),
		HoldSec: int(hold.Seconds()),
	})
}

func (d *NATSDisplay) ShowMessage(ctx context.Context, port, text string, hold time.Duration) error {
	return d.publish(d.subject("message"), Message{
		Port:    port,
		Text:    text,
		HoldSec: int(hold.Seconds()),
	})
}

func (d *NATSDisplay) PlayPairAnimation(ctx context.Context, port string) error {
	return d.publish(d.subject("animation"), Message{Port: port, Text: "pair"})
}

func (d *NATSDisplay) Close() error {
	d.conn.Close()
	return nil
}
