package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidVersion = errors.New("invalid protocol version")

const HTTPProtocol = "HTTP"

// Version is an immutable (protocol, major, minor) triple such as HTTP/1.1.
// Use the package-level HTTP versions or HTTP() to get canonical instances.
type Version struct {
	protocol string
	major    int
	minor    int
}

var (
	HTTP09 = &Version{protocol: HTTPProtocol, major: 0, minor: 9}
	HTTP10 = &Version{protocol: HTTPProtocol, major: 1, minor: 0}
	HTTP11 = &Version{protocol: HTTPProtocol, major: 1, minor: 1}
	HTTP20 = &Version{protocol: HTTPProtocol, major: 2, minor: 0}
	HTTP2  = HTTP20
)

func NewVersion(protocol string, major, minor int) (*Version, error) {
	if protocol == "" {
		return nil, fmt.Errorf("%w: empty protocol name", ErrInvalidVersion)
	}
	if major < 0 {
		return nil, fmt.Errorf("%w: negative major version %d", ErrInvalidVersion, major)
	}
	if minor < 0 {
		return nil, fmt.Errorf("%w: negative minor version %d", ErrInvalidVersion, minor)
	}
	return &Version{protocol: protocol, major: major, minor: minor}, nil
}

func NewHTTPVersion(major, minor int) (*Version, error) {
	return NewVersion(HTTPProtocol, major, minor)
}

// HTTP returns the canonical instance for 0.9, 1.0, 1.1 and 2.0 and a fresh
// instance for any other pair.
func HTTP(major, minor int) (*Version, error) {
	switch {
	case major == 0 && minor == 9:
		return HTTP09, nil
	case major == 1 && minor == 0:
		return HTTP10, nil
	case major == 1 && minor == 1:
		return HTTP11, nil
	case major == 2 && minor == 0:
		return HTTP20, nil
	}
	return NewHTTPVersion(major, minor)
}

// ParseVersion parses the "NAME/major.minor" form, e.g. "HTTP/1.1".
func ParseVersion(s string) (*Version, error) {
	name, num, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	majorStr, minorStr, ok := strings.Cut(num, ".")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	major, err := strconv.Atoi(majorStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	minor, err := strconv.Atoi(minorStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	if name == HTTPProtocol {
		if major < 0 || minor < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
		}
		return HTTP(major, minor)
	}
	return NewVersion(name, major, minor)
}

func (v *Version) Protocol() string { return v.protocol }
func (v *Version) Major() int       { return v.major }
func (v *Version) Minor() int       { return v.minor }

// Is reports whether v has exactly the given major and minor numbers.
func (v *Version) Is(major, minor int) bool {
	return v.major == major && v.minor == minor
}

func (v *Version) Equal(other *Version) bool {
	if v == nil || other == nil {
		return v == other
	}
	return v.protocol == other.protocol && v.major == other.major && v.minor == other.minor
}

// Comparable reports whether both versions belong to the same protocol.
func (v *Version) Comparable(other *Version) bool {
	return other != nil && v.protocol == other.protocol
}

// Compare orders by major, then minor. The protocol name is not considered;
// check Comparable first when mixing protocols.
func (v *Version) Compare(other *Version) int {
	if d := v.major - other.major; d != 0 {
		return d
	}
	return v.minor - other.minor
}

func (v *Version) GreaterEquals(other *Version) bool {
	return v.Comparable(other) && v.Compare(other) >= 0
}

func (v *Version) LessEquals(other *Version) bool {
	return v.Comparable(other) && v.Compare(other) <= 0
}

func (v *Version) String() string {
	return v.protocol + "/" + strconv.Itoa(v.major) + "." + strconv.Itoa(v.minor)
}

func (v *Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = *parsed
	return nil
}

// MarshalBinary encodes the version as two uvarints followed by the protocol name.
func (v *Version) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 2*binary.MaxVarintLen64+len(v.protocol))
	buf = binary.AppendUvarint(buf, uint64(v.major))
	buf = binary.AppendUvarint(buf, uint64(v.minor))
	return append(buf, v.protocol...), nil
}

func (v *Version) UnmarshalBinary(data []byte) error {
	major, n := binary.Uvarint(data)
	if n <= 0 {
		return fmt.Errorf("%w: truncated major", ErrInvalidVersion)
	}
	data = data[n:]
	minor, n := binary.Uvarint(data)
	if n <= 0 {
		return fmt.Errorf("%w: truncated minor", ErrInvalidVersion)
	}
	parsed, err := NewVersion(string(data[n:]), int(major), int(minor))
	if err != nil {
		return err
	}
	*v = *parsed
	return nil
}
