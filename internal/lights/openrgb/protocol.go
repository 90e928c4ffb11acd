package openrgb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/lunixbochs/struc"

	"github.com/scheerer/gradient-lights/internal/colorlib"
)

// Packet ids of the OpenRGB SDK protocol, version 0.
const (
	requestControllerCount = 0
	requestControllerData  = 1
	setClientName          = 50
	deviceListUpdated      = 100
	resizeZone             = 1000
	updateLEDs             = 1050
	setCustomMode          = 1100
)

const headerSize = 16

var (
	magic   = []byte("ORGB")
	options = &struc.Options{Order: binary.LittleEndian}
)

type header struct {
	Magic    []byte `struc:"[4]byte"`
	DeviceID uint32
	PacketID uint32
	Size     uint32
}

type resizeZoneRequest struct {
	Zone int32
	Size int32
}

func writePacket(w io.Writer, deviceID, packetID uint32, payload []byte) error {
	var buf bytes.Buffer
	hdr := header{Magic: magic, DeviceID: deviceID, PacketID: packetID, Size: uint32(len(payload))}
	if err := struc.PackWithOptions(&buf, &hdr, options); err != nil {
		return err
	}
	buf.Write(payload)
	_, err := w.Write(buf.Bytes())
	return err
}

func readHeader(r io.Reader) (header, error) {
	var hdr header
	if err := struc.UnpackWithOptions(io.LimitReader(r, headerSize), &hdr, options); err != nil {
		return header{}, err
	}
	if !bytes.Equal(hdr.Magic, magic) {
		return header{}, fmt.Errorf("bad packet magic %q", hdr.Magic)
	}
	return hdr, nil
}

func packStruct(v any) []byte {
	var buf bytes.Buffer
	// packing fixed size structs into memory cannot fail
	_ = struc.PackWithOptions(&buf, v, options)
	return buf.Bytes()
}

// ledPayload builds an UPDATELEDS body setting every LED to c.
func ledPayload(count int, c colorlib.Color) []byte {
	size := 4 + 2 + 4*count
	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(count))
	for range count {
		buf = append(buf, c.Red, c.Green, c.Blue, 0)
	}
	return buf
}

func clientNamePayload(name string) []byte {
	return append([]byte(name), 0)
}

type Mode struct {
	Name      string
	Value     int32
	Flags     uint32
	SpeedMin  uint32
	SpeedMax  uint32
	ColorsMin uint32
	ColorsMax uint32
	Speed     uint32
	Direction uint32
	ColorMode uint32
	Colors    colorlib.List
}

type Zone struct {
	Name      string
	Type      int32
	LEDsMin   uint32
	LEDsMax   uint32
	LEDsCount uint32

	MatrixHeight uint32
	MatrixWidth  uint32
}

type LED struct {
	Name  string
	Value uint32
}

// Device is one controller as reported by the server.
type Device struct {
	Index       uint32
	Type        int32
	Name        string
	Description string
	Version     string
	Serial      string
	Location    string

	Modes      []Mode
	ActiveMode int32
	Zones      []Zone
	LEDs       []LED
	Colors     colorlib.List
}

// DirectMode returns the index of the mode that accepts per frame LED updates.
func (d Device) DirectMode() (int, bool) {
	for i, m := range d.Modes {
		if strings.EqualFold(m.Name, "Direct") {
			return i, true
		}
	}
	return 0, false
}

// decoder reads little endian fields, remembering the first failure.
type decoder struct {
	r   *bytes.Reader
	err error
}

func (d *decoder) read(v any) {
	if d.err != nil {
		return
	}
	d.err = binary.Read(d.r, binary.LittleEndian, v)
}

func (d *decoder) u16() uint16 {
	var v uint16
	d.read(&v)
	return v
}

func (d *decoder) u32() uint32 {
	var v uint32
	d.read(&v)
	return v
}

func (d *decoder) i32() int32 {
	var v int32
	d.read(&v)
	return v
}

// str reads a length prefixed, null terminated string.
func (d *decoder) str() string {
	n := int(d.u16())
	if d.err != nil || n == 0 {
		return ""
	}
	if n > d.r.Len() {
		d.err = io.ErrUnexpectedEOF
		return ""
	}
	buf := make([]byte, n)
	d.read(buf)
	return strings.TrimRight(string(buf), "\x00")
}

func (d *decoder) colors(n int) colorlib.List {
	if d.err != nil || n == 0 {
		return nil
	}
	if n*4 > d.r.Len() {
		d.err = io.ErrUnexpectedEOF
		return nil
	}
	colors := make(colorlib.List, n)
	for i := range colors {
		var rgba [4]byte
		d.read(&rgba)
		colors[i] = colorlib.RGB(rgba[0], rgba[1], rgba[2])
	}
	return colors
}

func parseControllerData(index uint32, data []byte) (Device, error) {
	d := &decoder{r: bytes.NewReader(data)}
	dev := Device{Index: index}

	d.u32() // data size
	dev.Type = d.i32()
	dev.Name = d.str()
	dev.Description = d.str()
	dev.Version = d.str()
	dev.Serial = d.str()
	dev.Location = d.str()

	numModes := int(d.u16())
	dev.ActiveMode = d.i32()
	for i := 0; i < numModes && d.err == nil; i++ {
		m := Mode{Name: d.str()}
		m.Value = d.i32()
		m.Flags = d.u32()
		m.SpeedMin = d.u32()
		m.SpeedMax = d.u32()
		m.ColorsMin = d.u32()
		m.ColorsMax = d.u32()
		m.Speed = d.u32()
		m.Direction = d.u32()
		m.ColorMode = d.u32()
		m.Colors = d.colors(int(d.u16()))
		dev.Modes = append(dev.Modes, m)
	}

	numZones := int(d.u16())
	for i := 0; i < numZones && d.err == nil; i++ {
		z := Zone{Name: d.str()}
		z.Type = d.i32()
		z.LEDsMin = d.u32()
		z.LEDsMax = d.u32()
		z.LEDsCount = d.u32()
		if matrixLen := d.u16(); matrixLen > 0 {
			z.MatrixHeight = d.u32()
			z.MatrixWidth = d.u32()
			for j := uint32(0); j < z.MatrixHeight*z.MatrixWidth && d.err == nil; j++ {
				d.u32()
			}
		}
		dev.Zones = append(dev.Zones, z)
	}

	numLEDs := int(d.u16())
	for i := 0; i < numLEDs && d.err == nil; i++ {
		led := LED{Name: d.str()}
		led.Value = d.u32()
		dev.LEDs = append(dev.LEDs, led)
	}

	dev.Colors = d.colors(int(d.u16()))

	if d.err != nil {
		return Device{}, fmt.Errorf("malformed controller data for device %d: %w", index, d.err)
	}
	return dev, nil
}
