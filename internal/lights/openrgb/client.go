// Package openrgb drives RGB hardware through an OpenRGB SDK server.
package openrgb

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/scheerer/gradient-lights/internal/colorlib"
	"github.com/scheerer/gradient-lights/internal/lights"
	"github.com/scheerer/gradient-lights/internal/logging"
)

var logger = logging.New("openrgb")

const (
	DefaultClientName   = "gradient-lights"
	DefaultTimeout      = 5 * time.Second
	DefaultWriteTimeout = 250 * time.Millisecond
)

// Client is one SDK connection. Requests are serialized; the server may push
// device list notifications at any time and those are skipped.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader

	mu      sync.Mutex
	devices []Device

	timeout      time.Duration
	writeTimeout time.Duration

	broken atomic.Bool
}

var (
	_ lights.Sink      = (*Client)(nil)
	_ lights.Breakable = (*Client)(nil)
)

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.writeTimeout = d
	}
}

// Dial connects to address ("host:port"), announces name and loads the device list.
func Dial(ctx context.Context, address, name string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to OpenRGB server at %s: %w", address, err)
	}

	c := &Client{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		timeout:      DefaultTimeout,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.send(ctx, 0, setClientName, clientNamePayload(name)); err != nil {
		conn.Close()
		return nil, err
	}
	if err := c.loadDevices(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	logger.With(zap.String("address", address), zap.Int("devices", len(c.devices))).Info("Connected to OpenRGB server")
	return c, nil
}

// Devices returns the controllers reported by the server.
func (c *Client) Devices() []Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.devices)
}

// InitDirectMode switches every device offering a Direct mode into it and resizes
// each of its zones to the device's LED count, then reloads the device. Some
// controllers only update LEDs that belong to a correctly sized zone.
func (c *Client) InitDirectMode(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, dev := range c.devices {
		if _, ok := dev.DirectMode(); !ok {
			logger.With(zap.String("device", dev.Name)).Info("Device has no direct mode, skipping")
			continue
		}

		if err := c.send(ctx, dev.Index, setCustomMode, nil); err != nil {
			return err
		}
		for z := range dev.Zones {
			req := resizeZoneRequest{Zone: int32(z), Size: int32(len(dev.LEDs))}
			if err := c.send(ctx, dev.Index, resizeZone, packStruct(&req)); err != nil {
				return err
			}
		}

		refreshed, err := c.requestDevice(ctx, dev.Index)
		if err != nil {
			return err
		}
		c.devices[i] = refreshed
		logger.With(zap.String("device", refreshed.Name),
			zap.Int("zones", len(refreshed.Zones)),
			zap.Int("leds", len(refreshed.LEDs))).
			Debug("Device set to direct mode")
	}
	return nil
}

// SetColor sets every LED of every direct mode device to color. A failing device
// does not stop the others; all failures are returned together.
func (c *Client) SetColor(ctx context.Context, color colorlib.Color) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs error
	for _, dev := range c.devices {
		if _, ok := dev.DirectMode(); !ok || len(dev.LEDs) == 0 {
			continue
		}
		if err := c.write(ctx, dev.Index, updateLEDs, ledPayload(len(dev.LEDs), color), c.writeTimeout); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("device %q: %w", dev.Name, err))
		}
	}
	return errs
}

// Broken reports whether a read or write has failed on the connection. A partial
// packet leaves the stream out of sync, so a broken client is never reused.
func (c *Client) Broken() bool {
	return c.broken.Load()
}

func (c *Client) Close() error {
	c.broken.Store(true)
	return c.conn.Close()
}

func (c *Client) loadDevices(ctx context.Context) error {
	if err := c.send(ctx, 0, requestControllerCount, nil); err != nil {
		return err
	}
	payload, err := c.receive(ctx, requestControllerCount)
	if err != nil {
		return err
	}
	if len(payload) < 4 {
		return fmt.Errorf("short controller count reply: %d bytes", len(payload))
	}
	count := binary.LittleEndian.Uint32(payload)

	devices := make([]Device, 0, count)
	for i := uint32(0); i < count; i++ {
		dev, err := c.requestDevice(ctx, i)
		if err != nil {
			return err
		}
		devices = append(devices, dev)
	}
	c.devices = devices
	return nil
}

func (c *Client) requestDevice(ctx context.Context, index uint32) (Device, error) {
	if err := c.send(ctx, index, requestControllerData, nil); err != nil {
		return Device{}, err
	}
	payload, err := c.receive(ctx, requestControllerData)
	if err != nil {
		return Device{}, err
	}
	return parseControllerData(index, payload)
}

func (c *Client) send(ctx context.Context, deviceID, packetID uint32, payload []byte) error {
	return c.write(ctx, deviceID, packetID, payload, c.timeout)
}

func (c *Client) write(ctx context.Context, deviceID, packetID uint32, payload []byte, timeout time.Duration) error {
	if err := c.conn.SetWriteDeadline(deadline(ctx, timeout)); err != nil {
		c.broken.Store(true)
		return err
	}
	if err := writePacket(c.conn, deviceID, packetID, payload); err != nil {
		c.broken.Store(true)
		return fmt.Errorf("failed to send packet %d: %w", packetID, err)
	}
	return nil
}

// receive returns the payload of the next packet with packetID.
func (c *Client) receive(ctx context.Context, packetID uint32) ([]byte, error) {
	if err := c.conn.SetReadDeadline(deadline(ctx, c.timeout)); err != nil {
		c.broken.Store(true)
		return nil, err
	}
	for {
		hdr, err := readHeader(c.reader)
		if err != nil {
			c.broken.Store(true)
			return nil, fmt.Errorf("failed to read reply to packet %d: %w", packetID, err)
		}
		payload := make([]byte, hdr.Size)
		if _, err := io.ReadFull(c.reader, payload); err != nil {
			c.broken.Store(true)
			return nil, fmt.Errorf("failed to read reply to packet %d: %w", packetID, err)
		}
		if hdr.PacketID == packetID {
			return payload, nil
		}
		if hdr.PacketID == deviceListUpdated {
			logger.Debug("Server reported a device list change")
		}
	}
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

// Connector opens a Client for lights targets whose address is "host:port" and
// readies its devices for direct color updates.
type Connector struct {
	ClientName string
	Timeout    time.Duration
}

var _ lights.Connector = (*Connector)(nil)

func (c *Connector) Connect(ctx context.Context, target lights.Target) (lights.Sink, error) {
	name := c.ClientName
	if name == "" {
		name = DefaultClientName
	}
	var opts []Option
	if c.Timeout > 0 {
		opts = append(opts, WithTimeout(c.Timeout))
	}

	client, err := Dial(ctx, target.Address, name, opts...)
	if err != nil {
		return nil, err
	}
	if err := client.InitDirectMode(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize OpenRGB devices: %w", err)
	}
	return client, nil
}
