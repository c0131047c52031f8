// Package pulse defines the 14-bit beam pulse identifier carried in the
// low bits of a BSA timestamp's nanoseconds field.
package pulse

// Modulus is the pulse ID counter period. IDs wrap at 2^14.
const Modulus = 1 << 14

const mask = Modulus - 1

// ID is a wrapping beam pulse counter in [0, 16384).
type ID uint16

// FromNanos extracts the pulse ID from the nanoseconds field of a
// BSA timestamp.
func FromNanos(nanos uint64) ID {
	return ID(nanos & mask)
}

// Delta returns the signed raw difference b - a with no wraparound
// correction. Callers that need the true modular distance must resolve
// rollover themselves, since the correct interpretation depends on the
// current buffer modulus.
func Delta(a, b ID) int {
	return int(b) - int(a)
}

// Min returns the smaller of two pulse IDs by plain comparison.
func Min(a, b ID) ID {
	if b < a {
		return b
	}
	return a
}
