package max31855

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInconsistentFrame is matched by every *InconsistentFrameError.
	ErrInconsistentFrame = errors.New("max31855: fault reason set without fault bit")
	// ErrInvalidWidth is returned for an unknown Width or for a 16-bit decode
	// of a value that does not fit in 16 bits.
	ErrInvalidWidth = errors.New("max31855: invalid frame width")
	// ErrShortFrame is returned when the bytes shifted in do not form a 2 or 4
	// byte frame.
	ErrShortFrame = errors.New("max31855: frame must be 2 or 4 bytes")
)

// InconsistentFrameError reports a 32-bit frame whose aggregate fault bit is
// clear while one of the fault reason bits is set. It points at a transport or
// wiring problem rather than a sensor fault.
type InconsistentFrameError struct {
	Raw uint32
}

func (e *InconsistentFrameError) Error() string {
	return fmt.Sprintf("max31855: inconsistent frame %#08x: fault reasons %#03b without fault bit", e.Raw, e.Raw&faultReasonMask)
}

func (e *InconsistentFrameError) Is(target error) bool {
	return target == ErrInconsistentFrame
}

// FaultError is returned by Dev.Sense when the device reports a fault. Faults
// is nil when the reasons are unavailable (16-bit read).
type FaultError struct {
	Faults *FaultFlags
}

func (e *FaultError) Error() string {
	if e.Faults == nil {
		return "max31855: thermocouple fault (reason unavailable)"
	}
	return "max31855: thermocouple fault: " + e.Faults.String()
}

// FaultFlags holds the individual fault reasons of a 32-bit frame.
type FaultFlags struct {
	// OpenCircuit means no thermocouple is connected.
	OpenCircuit   bool
	ShortToGround bool
	ShortToVCC    bool
}

// Any reports whether at least one reason is set.
func (f FaultFlags) Any() bool {
	return f.OpenCircuit || f.ShortToGround || f.ShortToVCC
}

func (f FaultFlags) String() string {
	var s []string
	if f.OpenCircuit {
		s = append(s, "open circuit")
	}
	if f.ShortToGround {
		s = append(s, "short to ground")
	}
	if f.ShortToVCC {
		s = append(s, "short to vcc")
	}
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, ", ")
}
