package max31855

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Opts holds various configuration options for the sensor
type Opts struct {
	// Width selects a full 32-bit read or a 16-bit thermocouple-only read for
	// Read and Sense.
	Width Width
	// ChipSelect is driven low for the duration of each read when set. Leave
	// nil when the SPI port drives its own chip select line.
	ChipSelect gpio.PinOut
	// Logger receives errors from SenseContinuous. Defaults to logr.Discard().
	Logger logr.Logger
}

func DefaultOptions() *Opts {
	return &Opts{
		Width:  Width32,
		Logger: logr.Discard(),
	}
}

// ThermocoupleOnly configures 16-bit reads, which are faster but carry no
// internal temperature and no fault reasons.
func ThermocoupleOnly() *Opts {
	o := DefaultOptions()
	o.Width = Width16
	return o
}

// Conversion time of the chip, the device returns stale data when polled faster.
const conversionTime = 100 * time.Millisecond

func New(p spi.Port, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Width.Bytes() == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWidth, opts.Width)
	}

	c, err := p.Connect(5*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("max31855: %w", err)
	}

	d := &Dev{
		d:    c,
		opts: *opts,
		name: p.String(),
		log:  opts.Logger,
	}
	if d.log.GetSink() == nil {
		d.log = logr.Discard()
	}

	// Release the chip select before the first conversion.
	if d.opts.ChipSelect != nil {
		if err := d.opts.ChipSelect.Out(gpio.High); err != nil {
			return nil, d.wrap(err)
		}
	}

	return d, nil
}

type Dev struct {
	d    conn.Conn
	opts Opts
	name string
	log  logr.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
	// ctl serializes SenseContinuous and Halt.
	ctl sync.Mutex
}

func (d *Dev) String() string {
	return fmt.Sprintf("%s{%s}", d.name, d.d)
}

// ReadFrame shifts in one frame of width w under a single chip select
// assertion.
func (d *Dev) ReadFrame(w Width) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readFrame(w)
}

// ReadThermocouple performs a 16-bit read.
func (d *Dev) ReadThermocouple(u Unit) (Result, error) {
	return d.read(Width16, u)
}

// ReadAll performs a 32-bit read.
func (d *Dev) ReadAll(u Unit) (Result, error) {
	return d.read(Width32, u)
}

// Read performs a read of the configured width.
func (d *Dev) Read(u Unit) (Result, error) {
	return d.read(d.opts.Width, u)
}

// Sense implements physic.SenseEnv. The thermocouple temperature is always
// stored in e; a *FaultError is returned when the device reports a fault.
func (d *Dev) Sense(e *physic.Env) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return d.wrap(errors.New("already sensing continuously"))
	}

	return d.sense(e)
}

// SenseContinuous returns measurements on a continuous basis.
//
// Readings with the fault bit set are logged and still sent; transport and
// decode errors are logged and the reading is skipped.
//
// The application must call Halt() to stop the sensing when done to stop the
// sensor and close the channel.
//
// It's the responsibility of the caller to retrieve the values from the
// channel as fast as possible, otherwise the interval may not be respected.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	d.ctl.Lock()
	defer d.ctl.Unlock()
	d.halt()

	sensing := make(chan physic.Env)
	stop := make(chan struct{})
	done := make(chan struct{})
	d.mu.Lock()
	d.stop, d.done = stop, done
	d.mu.Unlock()
	go func() {
		defer close(done)
		defer close(sensing)
		d.sensingContinuous(interval, sensing, stop)
	}()
	return sensing, nil
}

// 14-bit thermocouple field with 0.25°C per count
func (d *Dev) Precision(e *physic.Env) {
	e.Temperature = physic.Kelvin / 4
}

// Halt stops the acquisition started by SenseContinuous().
func (d *Dev) Halt() error {
	d.ctl.Lock()
	defer d.ctl.Unlock()
	d.halt()
	return nil
}

// halt must be called with d.ctl held. d.mu is released before waiting since
// the sensing loop takes it.
func (d *Dev) halt() {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (d *Dev) read(w Width, u Unit) (Result, error) {
	d.mu.Lock()
	raw, err := d.readFrame(w)
	d.mu.Unlock()
	if err != nil {
		return Result{}, err
	}
	res, err := DecodeAndConvert(raw, w, u)
	if err != nil {
		return Result{}, d.wrap(err)
	}
	return res, nil
}

func (d *Dev) sense(e *physic.Env) error {
	raw, err := d.readFrame(d.opts.Width)
	if err != nil {
		return err
	}
	r, err := Decode(raw, d.opts.Width)
	if err != nil {
		return d.wrap(err)
	}

	e.Temperature = Thermocouple.Temperature(r.ThermocoupleCount)

	if r.Fault {
		return d.wrap(&FaultError{Faults: r.Faults})
	}
	return nil
}

func (d *Dev) sensingContinuous(interval time.Duration, sensing chan<- physic.Env, stop <-chan struct{}) {
	if interval < conversionTime {
		interval = conversionTime
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		// Do one initial sensing right away.
		e := physic.Env{}
		d.mu.Lock()
		err := d.sense(&e)
		d.mu.Unlock()
		var fe *FaultError
		if err != nil {
			d.log.Error(err, "sense failed", "device", d.name)
		}
		// Faulted readings still carry the thermocouple temperature.
		if err == nil || errors.As(err, &fe) {
			select {
			case sensing <- e:
			case <-stop:
				return
			}
		}
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

// readFrame must be called with d.mu held.
func (d *Dev) readFrame(w Width) (raw uint32, err error) {
	n := w.Bytes()
	if n == 0 {
		return 0, d.wrap(fmt.Errorf("%w: %v", ErrInvalidWidth, w))
	}

	if cs := d.opts.ChipSelect; cs != nil {
		if err := cs.Out(gpio.Low); err != nil {
			return 0, d.wrap(err)
		}
		defer func() {
			if rerr := cs.Out(gpio.High); rerr != nil && err == nil {
				raw, err = 0, d.wrap(rerr)
			}
		}()
	}

	var write, read [4]byte
	if err := d.d.Tx(write[:n], read[:n]); err != nil {
		return 0, d.wrap(err)
	}
	raw, _, err = FromBytes(read[:n])
	return raw, err
}

func (d *Dev) wrap(err error) error {
	return fmt.Errorf("%s: %w", strings.ToLower(d.name), err)
}

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
