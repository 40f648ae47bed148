package max31855

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spitest"
)

// frameConn serves queued frames and records the chip select level seen by
// each transfer.
type frameConn struct {
	spi.Conn
	frames [][]byte
	err    error
	cs     *gpiotest.Pin
	levels []gpio.Level
}

func (c *frameConn) Tx(w, r []byte) error {
	if c.cs != nil {
		c.levels = append(c.levels, c.cs.Read())
	}
	if c.err != nil {
		return c.err
	}
	if len(c.frames) == 0 {
		return errors.New("no more frames")
	}
	if len(r) != len(c.frames[0]) {
		return errors.New("unexpected read length")
	}
	copy(r, c.frames[0])
	c.frames = c.frames[1:]
	return nil
}

type framePort struct {
	*spitest.Playback
	c *frameConn
}

func (p *framePort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	c, err := p.Playback.Connect(f, mode, bits)
	if err != nil {
		return nil, err
	}
	p.c.Conn = c
	return p.c, nil
}

func newTestDev(t *testing.T, c *frameConn, opts *Opts) *Dev {
	t.Helper()
	d, err := New(&framePort{Playback: &spitest.Playback{}, c: c}, opts)
	require.NoError(t, err)
	return d
}

func full(raw uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, raw)
	return b
}

func half(raw uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, raw)
	return b
}

func TestReadAll(t *testing.T) {
	c := &frameConn{frames: [][]byte{full(encodeFull(100, 385, false, 0))}}
	d := newTestDev(t, c, nil)

	res, err := d.ReadAll(Celsius)
	require.NoError(t, err)
	require.Equal(t, 25.0, res.Thermocouple)
	require.Equal(t, 24.0625, res.Internal)
	require.False(t, res.Fault)
}

func TestReadThermocouple(t *testing.T) {
	c := &frameConn{frames: [][]byte{half(encode16(-100, true))}}
	d := newTestDev(t, c, nil)

	res, err := d.ReadThermocouple(Raw)
	require.NoError(t, err)
	require.Equal(t, -100.0, res.Thermocouple)
	require.True(t, res.Fault)
	require.Nil(t, res.Faults)
}

func TestReadConfiguredWidth(t *testing.T) {
	c := &frameConn{frames: [][]byte{half(encode16(8, false))}}
	d := newTestDev(t, c, ThermocoupleOnly())

	res, err := d.Read(Kelvin)
	require.NoError(t, err)
	require.InDelta(t, 275.15, res.Thermocouple, 1e-9)
	require.Equal(t, Width16, res.Width)
}

func TestReadInconsistentFrame(t *testing.T) {
	c := &frameConn{frames: [][]byte{full(encodeFull(0, 0, false, 0b010))}}
	d := newTestDev(t, c, nil)

	_, err := d.ReadAll(Celsius)
	require.ErrorIs(t, err, ErrInconsistentFrame)
}

func TestChipSelect(t *testing.T) {
	cs := &gpiotest.Pin{N: "CS", L: gpio.Low}
	c := &frameConn{frames: [][]byte{full(0), half(0)}, cs: cs}
	d := newTestDev(t, c, &Opts{ChipSelect: cs})
	require.Equal(t, gpio.High, cs.Read())

	_, err := d.ReadAll(Celsius)
	require.NoError(t, err)
	_, err = d.ReadThermocouple(Celsius)
	require.NoError(t, err)
	require.Equal(t, []gpio.Level{gpio.Low, gpio.Low}, c.levels)
	require.Equal(t, gpio.High, cs.Read())
}

func TestTransportErrorReleasesChipSelect(t *testing.T) {
	busErr := errors.New("bus timeout")
	cs := &gpiotest.Pin{N: "CS"}
	c := &frameConn{err: busErr, cs: cs}
	d := newTestDev(t, c, &Opts{ChipSelect: cs})

	_, err := d.ReadAll(Celsius)
	require.ErrorIs(t, err, busErr)
	require.Equal(t, []gpio.Level{gpio.Low}, c.levels)
	require.Equal(t, gpio.High, cs.Read())
}

func TestReadFrame(t *testing.T) {
	c := &frameConn{frames: [][]byte{{0xDE, 0xAD, 0xBE, 0xEF}}}
	d := newTestDev(t, c, nil)

	raw, err := d.ReadFrame(Width32)
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), raw)

	_, err = d.ReadFrame(Width(3))
	require.ErrorIs(t, err, ErrInvalidWidth)
}

func TestNewInvalidWidth(t *testing.T) {
	_, err := New(&framePort{Playback: &spitest.Playback{}, c: &frameConn{}}, &Opts{Width: Width(9)})
	require.ErrorIs(t, err, ErrInvalidWidth)
}

func TestSense(t *testing.T) {
	c := &frameConn{frames: [][]byte{
		full(encodeFull(100, 0, false, 0)),
		full(encodeFull(-4, 0, true, 0b001)),
	}}
	d := newTestDev(t, c, nil)

	var e physic.Env
	require.NoError(t, d.Sense(&e))
	require.Equal(t, physic.ZeroCelsius+25*physic.Kelvin, e.Temperature)

	err := d.Sense(&e)
	var fe *FaultError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, &FaultFlags{OpenCircuit: true}, fe.Faults)
	require.Equal(t, physic.ZeroCelsius-physic.Kelvin, e.Temperature)

	d.Precision(&e)
	require.Equal(t, physic.Kelvin/4, e.Temperature)
}

func TestSenseContinuous(t *testing.T) {
	c := &frameConn{frames: [][]byte{
		full(encodeFull(4, 0, false, 0)),
		full(encodeFull(8, 0, false, 0)),
	}}
	d := newTestDev(t, c, nil)

	ch, err := d.SenseContinuous(time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, physic.ZeroCelsius+physic.Kelvin, (<-ch).Temperature)
	require.Equal(t, physic.ZeroCelsius+2*physic.Kelvin, (<-ch).Temperature)

	require.Error(t, d.Sense(&physic.Env{}))
	require.NoError(t, d.Halt())
	for range ch {
	}
	require.NoError(t, d.Halt())
}

func TestSenseContinuousConcurrentStart(t *testing.T) {
	d := newTestDev(t, &frameConn{}, nil)

	var wg sync.WaitGroup
	chans := make([]<-chan physic.Env, 4)
	errs := make([]error, len(chans))
	for i := range chans {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chans[i], errs[i] = d.SenseContinuous(time.Millisecond)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.NoError(t, d.Halt())

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for _, ch := range chans {
			for range ch {
			}
		}
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("a sensing loop was left running after Halt")
	}
}

func TestSenseContinuousFault(t *testing.T) {
	c := &frameConn{frames: [][]byte{full(encodeFull(-4, 0, true, 0b001))}}
	d := newTestDev(t, c, nil)

	ch, err := d.SenseContinuous(time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, physic.ZeroCelsius-physic.Kelvin, (<-ch).Temperature)
	require.NoError(t, d.Halt())
}
