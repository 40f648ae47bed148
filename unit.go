package max31855

import (
	"fmt"
	"strings"
)

// Unit is the representation a temperature is returned in.
type Unit int

const (
	Celsius Unit = iota
	Fahrenheit
	Kelvin
	// Raw skips scaling and returns the unscaled ADC count.
	Raw
)

// FromCelsius converts degrees Celsius into u. Raw returns c unchanged since
// there is no count to recover from a temperature.
func (u Unit) FromCelsius(c float64) float64 {
	switch u {
	case Fahrenheit:
		return c*9/5 + 32
	case Kelvin:
		return c + 273.15
	}
	return c
}

func (u Unit) String() string {
	switch u {
	case Celsius:
		return "°C"
	case Fahrenheit:
		return "°F"
	case Kelvin:
		return "K"
	case Raw:
		return "raw"
	}
	return fmt.Sprintf("Unit(%d)", int(u))
}

// ParseUnit accepts c, f, k, raw or the full unit name, case insensitive.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "c", "celsius", "°c":
		return Celsius, nil
	case "f", "fahrenheit", "°f":
		return Fahrenheit, nil
	case "k", "kelvin":
		return Kelvin, nil
	case "raw", "count":
		return Raw, nil
	}
	return Celsius, fmt.Errorf("max31855: unknown unit %q", s)
}

// Convert turns a count of field f into u.
func Convert(count int16, f Field, u Unit) float64 {
	if u == Raw {
		return float64(count)
	}
	return u.FromCelsius(f.Celsius(count))
}

// Result is a Reading with its temperatures expressed in Unit.
type Result struct {
	Reading
	Unit         Unit
	Thermocouple float64
	// Internal is zero when Reading.HasInternal is false.
	Internal float64
}

// Convert expresses the reading in u. Fault information is carried over
// unchanged, including for Raw.
func (r Reading) Convert(u Unit) Result {
	if r.Faults != nil {
		f := *r.Faults
		r.Faults = &f
	}
	res := Result{
		Reading:      r,
		Unit:         u,
		Thermocouple: Convert(r.ThermocoupleCount, Thermocouple, u),
	}
	if r.HasInternal {
		res.Internal = Convert(r.InternalCount, Internal, u)
	}
	return res
}

// DecodeAndConvert decodes raw as a frame of width w and converts it into u.
func DecodeAndConvert(raw uint32, w Width, u Unit) (Result, error) {
	r, err := Decode(raw, w)
	if err != nil {
		return Result{}, err
	}
	return r.Convert(u), nil
}
