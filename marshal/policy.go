package marshal

// Policy is the string transfer contract for one string slot of a native
// routine. Every string parameter and string result has exactly one.
type Policy uint8

const (
	// None marks a slot that carries no string.
	None Policy = iota
	// OutboundTransient text is copied into native memory for the duration
	// of one call and freed by the caller after it returns.
	OutboundTransient
	// InboundBorrowed text is a pointer into memory owned by a native
	// object; it is never freed and valid only until that object changes.
	InboundBorrowed
	// InboundOwned text was allocated by the native library; the caller
	// copies it and then frees it with the routine's deallocator.
	InboundOwned
	// InboundRaw bytes are handed to the caller as an encoded buffer with
	// no decoding and no release.
	InboundRaw
)

func (p Policy) String() string {
	switch p {
	case None:
		return "None"
	case OutboundTransient:
		return "OutboundTransient"
	case InboundBorrowed:
		return "InboundBorrowed"
	case InboundOwned:
		return "InboundOwned"
	case InboundRaw:
		return "InboundRaw"
	default:
		return "Policy(?)"
	}
}

// Inbound reports whether text flows from native code to the caller.
func (p Policy) Inbound() bool {
	return p == InboundBorrowed || p == InboundOwned || p == InboundRaw
}

// ParsePolicy maps a policy name back to its value.
func ParsePolicy(s string) (Policy, bool) {
	for p := None; p <= InboundRaw; p++ {
		if p.String() == s {
			return p, true
		}
	}
	return None, false
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
