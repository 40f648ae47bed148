package max31855

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// Reading is a decoded frame. Counts are the sign-extended field values; use
// Convert or the Field helpers to scale them.
//
// When Fault is set the thermocouple count is still the value found in the
// frame but should not be trusted.
type Reading struct {
	Width             Width
	ThermocoupleCount int16
	// InternalCount is only meaningful when HasInternal is set.
	InternalCount int16
	HasInternal   bool
	Fault         bool
	// Faults is nil when the frame carries no fault reasons (16-bit read).
	Faults *FaultFlags
}

// FaultReasons returns the individual fault reasons. ok is false when the
// reasons are unavailable, in which case the returned flags mean nothing.
func (r Reading) FaultReasons() (f FaultFlags, ok bool) {
	if r.Faults == nil {
		return FaultFlags{}, false
	}
	return *r.Faults, true
}

// Celsius returns the thermocouple temperature in °C.
func (r Reading) Celsius() float64 {
	return Thermocouple.Celsius(r.ThermocoupleCount)
}

// InternalCelsius returns the reference junction temperature in °C. ok is
// false for 16-bit reads.
func (r Reading) InternalCelsius() (c float64, ok bool) {
	if !r.HasInternal {
		return 0, false
	}
	return Internal.Celsius(r.InternalCount), true
}

// DecodeFull decodes a 32-bit frame.
//
// A fault reason without the aggregate fault bit yields an
// *InconsistentFrameError and no reading.
func DecodeFull(raw uint32) (Reading, error) {
	fault := raw&(1<<faultBit32) != 0
	reasons := raw & faultReasonMask
	if !fault && reasons != 0 {
		return Reading{}, &InconsistentFrameError{Raw: raw}
	}
	return Reading{
		Width:             Width32,
		ThermocoupleCount: signExtend(raw>>thermocoupleShift32, thermocoupleBits),
		InternalCount:     signExtend(raw>>internalShift, internalBits),
		HasInternal:       true,
		Fault:             fault,
		Faults: &FaultFlags{
			OpenCircuit:   getBit(raw, faultOpenBit),
			ShortToGround: getBit(raw, faultGNDShortBit),
			ShortToVCC:    getBit(raw, faultVCCShortBit),
		},
	}, nil
}

// DecodeThermocouple decodes a 16-bit frame. It never fails; fault reasons
// are reported as unavailable.
func DecodeThermocouple(raw uint16) Reading {
	return Reading{
		Width:             Width16,
		ThermocoupleCount: signExtend(uint32(raw)>>thermocoupleShift16, thermocoupleBits),
		Fault:             getBit(uint32(raw), faultBit16),
	}
}

// Decode decodes raw as a frame of width w.
func Decode(raw uint32, w Width) (Reading, error) {
	switch w {
	case Width32:
		return DecodeFull(raw)
	case Width16:
		if raw > 0xFFFF {
			return Reading{}, fmt.Errorf("%w: %#x does not fit in a 16-bit frame", ErrInvalidWidth, raw)
		}
		return DecodeThermocouple(uint16(raw)), nil
	}
	return Reading{}, fmt.Errorf("%w: %d", ErrInvalidWidth, int(w))
}

// FromBytes assembles the bytes shifted in from the device, MSB first.
func FromBytes(b []byte) (uint32, Width, error) {
	var raw uint32
	for _, v := range b {
		raw = raw<<8 | uint32(v)
	}
	switch len(b) {
	case 4:
		return raw, Width32, nil
	case 2:
		return raw, Width16, nil
	}
	return 0, 0, fmt.Errorf("%w: got %d", ErrShortFrame, len(b))
}

// Celsius scales a count of the field to °C.
func (f Field) Celsius(count int16) float64 {
	return float64(count) * f.resolution()
}

// Temperature returns the exact temperature of a count of the field.
func (f Field) Temperature(count int16) physic.Temperature {
	step := physic.Kelvin / 4
	if f == Internal {
		step = physic.Kelvin / 16
	}
	return physic.Temperature(count)*step + physic.ZeroCelsius
}

func (f Field) resolution() float64 {
	if f == Internal {
		return internalResolution
	}
	return thermocoupleResolution
}

func (f Field) String() string {
	if f == Internal {
		return "internal"
	}
	return "thermocouple"
}

// signExtend interprets the low n bits of v as a two's complement number.
func signExtend(v uint32, n uint) int16 {
	v &= 1<<n - 1
	if v&(1<<(n-1)) != 0 {
		return int16(int32(v) - 1<<n)
	}
	return int16(v)
}

func getBit(v uint32, bit uint) bool {
	return v&(1<<bit) != 0
}
