// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package exio

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// DefaultTimeout bounds a single command round trip.
const DefaultTimeout = 500 * time.Millisecond

// ErrTimeout is returned when no DATA frame arrives in time.
var ErrTimeout = errors.New("timed out waiting for response")

// Client drives an expander from the host side of a link. Every command is a
// WRITE frame followed by a READ poll; the device answers the poll with a DATA
// frame carrying the response armed by the command.
type Client struct {
	conn    io.ReadWriter
	logger  *log.Logger
	timeout time.Duration

	mu      sync.Mutex // one transaction at a time
	address uint8

	frames chan *Frame
	done   chan struct{}
	err    error // set before done is closed
}

// NewClient starts reading conn in the background. The caller owns conn;
// closing it stops the client.
func NewClient(conn io.ReadWriter, address uint8, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	c := &Client{
		conn:    conn,
		logger:  logger,
		timeout: DefaultTimeout,
		address: address,
		frames:  make(chan *Frame, 16),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Address returns the bus address commands are sent to.
func (c *Client) Address() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address
}

// SetAddress changes the bus address commands are sent to.
func (c *Client) SetAddress(address uint8) {
	c.mu.Lock()
	c.address = address
	c.mu.Unlock()
}

// SetTimeout changes the per-command timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// Done is closed when the link read loop stops.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) readLoop() {
	defer close(c.done)

	decoder := NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := c.conn.Read(buf)
		for _, b := range buf[:n] {
			frame, decodeErr := decoder.DecodeByte(b)
			if decodeErr != nil {
				c.logger.Debug("link decode error", "err", decodeErr)
				continue
			}
			if frame == nil || frame.kind != KindData {
				continue
			}
			select {
			case c.frames <- frame:
			default:
				c.logger.Warn("dropping unsolicited frame", "addr", frame.address)
			}
		}
		if err != nil {
			c.err = err
			return
		}
	}
}

// Transact sends cmd and returns the device response.
func (c *Client) Transact(ctx context.Context, cmd []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transact(ctx, c.address, cmd)
}

// Probe sends READ_VERSION to address without changing the client address.
func (c *Client) Probe(ctx context.Context, address uint8) (*semver.Version, error) {
	c.mu.Lock()
	resp, err := c.transact(ctx, address, NewReadVersion())
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return ParseVersion(resp)
}

func (c *Client) transact(ctx context.Context, address uint8, cmd []byte) ([]byte, error) {
	c.drain()

	if err := c.send(address, KindWrite, cmd); err != nil {
		return nil, err
	}
	if err := c.send(address, KindRead, nil); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	for {
		select {
		case frame := <-c.frames:
			if frame.address != address {
				c.logger.Debug("ignoring frame from other device", "addr", frame.address)
				continue
			}
			c.logger.Debug("response", "op", FormatOpcode(cmd[0]), "resp", frame.payload)
			return frame.payload, nil
		case <-c.done:
			return nil, errors.Wrap(c.linkErr(), "link closed")
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, errors.Wrapf(ErrTimeout, "%s to 0x%02X", FormatOpcode(cmd[0]), address)
			}
			return nil, ctx.Err()
		}
	}
}

func (c *Client) linkErr() error {
	if c.err != nil {
		return c.err
	}
	return io.EOF
}

func (c *Client) send(address uint8, kind Kind, payload []byte) error {
	data, err := EncodeFrame(address, kind, payload)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(data); err != nil {
		return errors.Wrapf(err, "write %s frame", kind)
	}
	return nil
}

// drain discards responses left over from a timed-out transaction.
func (c *Client) drain() {
	for {
		select {
		case <-c.frames:
		default:
			return
		}
	}
}

func (c *Client) ack(ctx context.Context, cmd []byte) error {
	resp, err := c.Transact(ctx, cmd)
	if err != nil {
		return err
	}
	return errors.Wrap(ParseAck(resp), FormatOpcode(cmd[0]))
}

// Init sends INIT and returns the device pin counts. ok is false when the
// device disagrees about the pin count.
func (c *Client) Init(ctx context.Context, pinCount uint8, firstVpin uint16) (InitReply, bool, error) {
	resp, err := c.Transact(ctx, NewInit(pinCount, firstVpin))
	if err != nil {
		return InitReply{}, false, err
	}
	return ParseInitReply(resp)
}

// SetPullup claims pin as a digital input with or without pullup.
func (c *Client) SetPullup(ctx context.Context, pin uint8, pullup bool) error {
	return c.ack(ctx, NewSetPullup(pin, pullup))
}

// Version reads the firmware version.
func (c *Client) Version(ctx context.Context) (*semver.Version, error) {
	resp, err := c.Transact(ctx, NewReadVersion())
	if err != nil {
		return nil, err
	}
	return ParseVersion(resp)
}

// ReadAnalogue reads the analogue snapshot.
func (c *Client) ReadAnalogue(ctx context.Context) ([]uint16, error) {
	resp, err := c.Transact(ctx, NewReadAnalogue())
	if err != nil {
		return nil, err
	}
	return AnalogueValues(resp), nil
}

// WriteDigital drives pin high or low.
func (c *Client) WriteDigital(ctx context.Context, pin uint8, high bool) error {
	return c.ack(ctx, NewWriteDigital(pin, high))
}

// ReadDigital reads the digital snapshot bitset.
func (c *Client) ReadDigital(ctx context.Context) ([]byte, error) {
	return c.Transact(ctx, NewReadDigital())
}

// EnableAnalogue claims pin as an analogue input.
func (c *Client) EnableAnalogue(ctx context.Context, pin uint8) error {
	return c.ack(ctx, NewEnableAnalogue(pin))
}

// AnalogueMap reads the logical index of every analogue pin.
func (c *Client) AnalogueMap(ctx context.Context) ([]byte, error) {
	return c.Transact(ctx, NewInitAnalogueMap())
}

// WriteAnimated starts an animated move of pin to value.
func (c *Client) WriteAnimated(ctx context.Context, pin uint8, value uint16, profile byte, duration uint16) error {
	return c.ack(ctx, NewWriteAnimated(pin, value, profile, duration))
}

// Capabilities reads the capability byte of every pin.
func (c *Client) Capabilities(ctx context.Context) ([]byte, error) {
	return c.Transact(ctx, NewReadCaps())
}
