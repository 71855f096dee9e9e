package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nerrad567/deviceguard/internal/device"
)

// ErrMalformedIdentity is returned by Parse for any string Format could not
// have produced.
var ErrMalformedIdentity = errors.New("identity: malformed canonical id")

// CanonicalID is the whitelist primary key:
//
//	VID_<HEX4>&PID_<HEX4>&SN_<token>
type CanonicalID string

// String implements fmt.Stringer.
func (c CanonicalID) String() string { return string(c) }

const (
	prefixVID = "VID_"
	prefixPID = "&PID_"
	prefixSN  = "&SN_"

	placeholderPrefix = "~NOSN-"
	placeholderHexLen = 8

	// MaxSerialLen bounds the serial bytes carried in a token. USB string
	// descriptors top out at 126 UTF-16 units, so real serials fit.
	MaxSerialLen = 255

	maxTokenLen = MaxSerialLen * 3
)

// Identity is a parsed or derived canonical id.
type Identity struct {
	ID        CanonicalID
	VendorID  uint16
	ProductID uint16

	// Serial is empty for low-confidence identities.
	Serial string
	Token  string

	// LowConfidence marks an identity built from a placeholder instead of a
	// real serial. Such devices may be registered but never fingerprinted.
	LowConfidence bool
}

// Derive builds the canonical identity of a raw descriptor. It never fails.
func Derive(d device.Descriptor) Identity {
	serial := normaliseSerial(d.Serial)

	id := Identity{
		VendorID:  d.VendorID,
		ProductID: d.ProductID,
		Serial:    serial,
	}
	if serial == "" {
		id.Token = placeholder(d.Class, d.Name)
		id.LowConfidence = true
	} else {
		id.Token = escape(serial)
	}
	id.ID = id.Format()
	return id
}

// Format renders the identity as a CanonicalID.
func (i Identity) Format() CanonicalID {
	return CanonicalID(fmt.Sprintf("VID_%04X&PID_%04X&SN_%s", i.VendorID, i.ProductID, i.Token))
}

// Parse is the exact inverse of Format.
func Parse(s string) (Identity, error) {
	rest, ok := strings.CutPrefix(s, prefixVID)
	if !ok {
		return Identity{}, malformed(s, "missing VID_ prefix")
	}
	vid, rest, err := parseHex4(rest)
	if err != nil {
		return Identity{}, malformed(s, "vendor id: %v", err)
	}
	if rest, ok = strings.CutPrefix(rest, prefixPID); !ok {
		return Identity{}, malformed(s, "missing &PID_ after vendor id")
	}
	pid, rest, err := parseHex4(rest)
	if err != nil {
		return Identity{}, malformed(s, "product id: %v", err)
	}
	token, ok := strings.CutPrefix(rest, prefixSN)
	if !ok {
		return Identity{}, malformed(s, "missing &SN_ after product id")
	}
	if token == "" {
		return Identity{}, malformed(s, "empty serial token")
	}
	if len(token) > maxTokenLen {
		return Identity{}, malformed(s, "serial token longer than %d bytes", maxTokenLen)
	}

	id := Identity{ID: CanonicalID(s), VendorID: vid, ProductID: pid, Token: token}

	if ph, isPlaceholder := strings.CutPrefix(token, placeholderPrefix); isPlaceholder {
		if len(ph) != placeholderHexLen || !isUpperHex(ph) {
			return Identity{}, malformed(s, "bad placeholder token")
		}
		id.LowConfidence = true
		return id, nil
	}

	serial, err := unescape(token)
	if err != nil {
		return Identity{}, malformed(s, "%v", err)
	}
	if serial != normaliseSerial(serial) {
		return Identity{}, malformed(s, "serial is not normalised")
	}
	id.Serial = serial
	return id, nil
}

// Validate reports whether s is a well-formed canonical id.
func Validate(s string) error {
	_, err := Parse(s)
	return err
}

func malformed(s, format string, args ...any) error {
	return fmt.Errorf("%w %q: %s", ErrMalformedIdentity, s, fmt.Sprintf(format, args...))
}

func normaliseSerial(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > MaxSerialLen {
		cut := MaxSerialLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = strings.TrimSpace(s[:cut])
	}
	return s
}

// placeholder derives a stable token from class and name. It starts with
// '~', which escape never leaves bare, so it cannot collide with a real
// serial.
func placeholder(class device.Class, name string) string {
	h := sha256.New()
	h.Write([]byte(class))
	h.Write([]byte{0})
	h.Write([]byte(name))
	sum := h.Sum(nil)
	return placeholderPrefix + strings.ToUpper(hex.EncodeToString(sum[:placeholderHexLen/2]))
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '.', c == '_', c == '-':
		return true
	}
	return false
}

const upperHex = "0123456789ABCDEF"

func escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0F])
	}
	return b.String()
}

func unescape(token string) (string, error) {
	var b strings.Builder
	b.Grow(len(token))
	for i := 0; i < len(token); i++ {
		c := token[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		if c != '%' {
			return "", fmt.Errorf("unescaped byte 0x%02X at %d", c, i)
		}
		if i+2 >= len(token) || !isUpperHex(token[i+1:i+3]) {
			return "", fmt.Errorf("bad escape at %d", i)
		}
		v := unhex(token[i+1])<<4 | unhex(token[i+2])
		if isUnreserved(v) {
			return "", fmt.Errorf("needless escape of %q at %d", v, i)
		}
		b.WriteByte(v)
		i += 2
	}
	return b.String(), nil
}

func parseHex4(s string) (uint16, string, error) {
	if len(s) < 4 || !isUpperHex(s[:4]) {
		return 0, s, errors.New("want 4 upper-case hex digits")
	}
	var v uint16
	for i := 0; i < 4; i++ {
		v = v<<4 | uint16(unhex(s[i]))
	}
	return v, s[4:], nil
}

func isUpperHex(s string) bool {
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(upperHex, s[i]) < 0 {
			return false
		}
	}
	return true
}

func unhex(c byte) byte {
	return byte(strings.IndexByte(upperHex, c))
}
