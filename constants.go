package max31855

// Width selects how many bits are shifted in from the device.
type Width int

const (
	// Width32 is a full read: thermocouple, internal temperature and fault
	// reasons.
	Width32 Width = iota
	// Width16 stops after the first two bytes: thermocouple and the aggregate
	// fault bit only.
	Width16
)

// Bytes returns the number of bytes clocked out for the width, or 0 if the
// width is unknown.
func (w Width) Bytes() int {
	switch w {
	case Width32:
		return 4
	case Width16:
		return 2
	}
	return 0
}

func (w Width) String() string {
	switch w {
	case Width32:
		return "32-bit"
	case Width16:
		return "16-bit"
	}
	return "invalid width"
}

// Field identifies one of the two temperature fields of a frame.
type Field int

const (
	// Thermocouple is the 14-bit hot junction field, 0.25°C per count.
	Thermocouple Field = iota
	// Internal is the 12-bit reference junction field, 0.0625°C per count.
	Internal
)

// Resolutions in °C per count, fixed by the hardware.
const (
	thermocoupleResolution float64 = 0.25
	internalResolution     float64 = 0.0625
)

// Field widths in bits.
const (
	thermocoupleBits = 14
	internalBits     = 12
)

// Bit positions in the 32-bit frame.
const (
	thermocoupleShift32 = 18
	faultBit32          = 16
	internalShift       = 4
	faultVCCShortBit    = 2
	faultGNDShortBit    = 1
	faultOpenBit        = 0
	faultReasonMask     = 0x7
)

// Bit positions in the 16-bit frame.
const (
	thermocoupleShift16 = 2
	faultBit16          = 0
)
