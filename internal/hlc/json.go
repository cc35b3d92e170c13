package hlc

import (
	"strconv"
	"strings"
)

// MarshalJSON renders the Timestamp as a base-10 string. JSON numbers are
// IEEE-754 doubles with only 53 bits of integer precision; an HLC's 64 bits
// would silently lose its low bits (the tie-break counter, exactly the part
// that matters most) if encoded as a bare JSON number. Every lakesync
// message that crosses JSON carries its HLC fields this way (spec §9).
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatUint(uint64(t), 10) + `"`), nil
}

// UnmarshalJSON accepts either a quoted base-10 string (the wire format) or
// a bare JSON number (for lenient interop with hand-written fixtures),
// failing only on genuinely malformed input.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*t = Zero
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return err
	}
	*t = Timestamp(v)
	return nil
}
