package actuator

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"
)

// fakePort records writes and serves canned replies.
type fakePort struct {
	written  bytes.Buffer
	replies  bytes.Buffer
	writeErr error
	closed   bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.written.Write(b)
}

func (p *fakePort) Read(b []byte) (int, error) {
	return p.replies.Read(b)
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestPulseRange_RoundTrip(t *testing.T) {
	p := DefaultPulseRange
	tests := []struct {
		angle float64
		us    float64
	}{
		{0, 500},
		{90, 1500},
		{180, 2500},
		{45, 1000},
	}
	for _, tt := range tests {
		if got := p.Micros(tt.angle); got != tt.us {
			t.Errorf("Micros(%v) = %v, want %v", tt.angle, got, tt.us)
		}
		if got := p.Angle(tt.us); got != tt.angle {
			t.Errorf("Angle(%v) = %v, want %v", tt.us, got, tt.angle)
		}
	}

	// An empty range falls back to the default.
	if got := (PulseRange{}).Micros(90); got != 1500 {
		t.Errorf("zero PulseRange Micros(90) = %v, want 1500", got)
	}
}

func TestMockDriver_WriteRead(t *testing.T) {
	m := NewMockDriver(16)

	if _, ok, _ := m.ReadAngle(3); ok {
		t.Fatal("expected no angle before the first write")
	}
	if err := m.WriteAngle(3, 92.5); err != nil {
		t.Fatalf("WriteAngle: %v", err)
	}
	a, ok, err := m.ReadAngle(3)
	if err != nil || !ok || a != 92.5 {
		t.Errorf("ReadAngle = (%v, %v, %v), want (92.5, true, nil)", a, ok, err)
	}
	if got := m.Angles(); len(got) != 1 || got[3] != 92.5 {
		t.Errorf("Angles() = %v", got)
	}
}

func TestMockDriver_Rejects(t *testing.T) {
	m := NewMockDriver(16)
	tests := []struct {
		name    string
		channel int
		angle   float64
	}{
		{"channel_too_high", 16, 90},
		{"negative_channel", -1, 90},
		{"angle_too_high", 0, 181},
		{"negative_angle", 0, -1},
		{"nan_angle", 0, math.NaN()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.WriteAngle(tt.channel, tt.angle)
			if !errors.Is(err, ErrHardware) {
				t.Errorf("WriteAngle(%d, %v) error = %v, want ErrHardware", tt.channel, tt.angle, err)
			}
		})
	}
	if len(m.Angles()) != 0 {
		t.Error("rejected writes must not be recorded")
	}
}

func TestNewDriver_Kinds(t *testing.T) {
	d, err := NewDriver(Options{Kind: KindMock, Channels: 16})
	if err != nil {
		t.Fatalf("NewDriver(mock): %v", err)
	}
	if _, ok := d.(*MockDriver); !ok {
		t.Errorf("NewDriver(mock) = %T, want *MockDriver", d)
	}

	if _, err := NewDriver(Options{Kind: "pca9685"}); err == nil {
		t.Error("expected error for unknown driver kind")
	}
}

func TestMaestro_WriteAngle(t *testing.T) {
	port := &fakePort{}
	m := NewMaestro(port, 16, DefaultPulseRange)

	if err := m.WriteAngle(3, 90); err != nil {
		t.Fatalf("WriteAngle: %v", err)
	}
	// 1500 us = 6000 quarter-us = 0x1770 -> lo 0x70, hi 0x2e
	want := []byte{0x84, 3, 0x70, 0x2e}
	if got := port.written.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("wrote % x, want % x", got, want)
	}
}

func TestMaestro_ReadAngle(t *testing.T) {
	port := &fakePort{}
	port.replies.Write([]byte{0x70, 0x17})
	m := NewMaestro(port, 16, DefaultPulseRange)

	a, ok, err := m.ReadAngle(5)
	if err != nil || !ok {
		t.Fatalf("ReadAngle = (%v, %v, %v)", a, ok, err)
	}
	if a != 90 {
		t.Errorf("angle = %v, want 90", a)
	}
	if got := port.written.Bytes(); !bytes.Equal(got, []byte{0x90, 5}) {
		t.Errorf("wrote % x, want 90 05", got)
	}
}

func TestMaestro_ReadAngleOffChannel(t *testing.T) {
	port := &fakePort{}
	port.replies.Write([]byte{0, 0})
	m := NewMaestro(port, 16, DefaultPulseRange)

	_, ok, err := m.ReadAngle(0)
	if err != nil {
		t.Fatalf("ReadAngle: %v", err)
	}
	if ok {
		t.Error("a zero position must report no angle")
	}
}

func TestMaestro_Errors(t *testing.T) {
	port := &fakePort{writeErr: io.ErrClosedPipe}
	m := NewMaestro(port, 16, DefaultPulseRange)

	if err := m.WriteAngle(0, 90); !errors.Is(err, ErrHardware) {
		t.Errorf("write failure error = %v, want ErrHardware", err)
	}

	short := &fakePort{}
	short.replies.Write([]byte{0x70})
	m = NewMaestro(short, 16, DefaultPulseRange)
	if _, _, err := m.ReadAngle(0); !errors.Is(err, ErrHardware) {
		t.Errorf("short read error = %v, want ErrHardware", err)
	}

	if err := m.WriteAngle(16, 90); !errors.Is(err, ErrHardware) {
		t.Errorf("out of range channel error = %v, want ErrHardware", err)
	}
}

func TestMaestro_CloseGoesHome(t *testing.T) {
	port := &fakePort{}
	m := NewMaestro(port, 16, DefaultPulseRange)
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !port.closed {
		t.Error("port not closed")
	}
	if got := port.written.Bytes(); !bytes.Equal(got, []byte{0xa2}) {
		t.Errorf("wrote % x, want a2", got)
	}
}

func TestDecodeMaestroErrors(t *testing.T) {
	if err := decodeMaestroErrors(0); err != nil {
		t.Errorf("decode(0) = %v, want nil", err)
	}
	err := decodeMaestroErrors(1<<0 | 1<<5)
	if err == nil || err.Error() != "serial signal error, serial timeout" {
		t.Errorf("decode = %v", err)
	}
}

func TestMaestro_ErrorRegisterKeepsAllBits(t *testing.T) {
	port := &fakePort{}
	// Bit 7 (script call stack) in the low byte, bit 8 in the high byte.
	port.replies.Write([]byte{0x80, 0x01})
	m := NewMaestro(port, 16, DefaultPulseRange)

	bits, err := m.Errors()
	if err != nil {
		t.Fatalf("Errors: %v", err)
	}
	if bits != 0x0180 {
		t.Errorf("bits = %#04x, want 0x0180", bits)
	}
	if got := port.written.Bytes(); !bytes.Equal(got, []byte{0xa1}) {
		t.Errorf("wrote % x, want a1", got)
	}
	err = decodeMaestroErrors(bits)
	if err == nil || err.Error() != "script call stack error, script program counter error" {
		t.Errorf("decode = %v", err)
	}
}
