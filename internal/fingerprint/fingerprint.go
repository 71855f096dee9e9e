package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/nerrad567/deviceguard/internal/device"
)

// Size is the digest length in bytes.
const Size = sha256.Size

// domain separates this digest from any other SHA-256 use. Bump the suffix
// whenever the encoding below changes; stored fingerprints then stop
// matching and devices must be re-secured.
const domain = "deviceguard/structural-fingerprint/v1"

var (
	// ErrInsufficientDescriptorData is returned when the descriptor carries
	// no descriptor tree to fingerprint.
	ErrInsufficientDescriptorData = errors.New("fingerprint: insufficient descriptor data")

	// ErrInvalidFingerprint is returned by ParseHex.
	ErrInvalidFingerprint = errors.New("fingerprint: invalid encoding")
)

// Fingerprint is a structural digest of a device.
type Fingerprint [Size]byte

// String returns the lower-case hex encoding.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// IsZero reports whether f is the zero value.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// ParseHex decodes the output of String.
func ParseHex(s string) (Fingerprint, error) {
	var f Fingerprint
	if len(s) != Size*2 {
		return f, fmt.Errorf("%w: want %d hex chars, got %d", ErrInvalidFingerprint, Size*2, len(s))
	}
	if _, err := hex.Decode(f[:], []byte(s)); err != nil {
		return f, fmt.Errorf("%w: %v", ErrInvalidFingerprint, err)
	}
	return f, nil
}

// FromBytes copies a stored digest.
func FromBytes(b []byte) (Fingerprint, error) {
	var f Fingerprint
	if len(b) != Size {
		return f, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidFingerprint, Size, len(b))
	}
	copy(f[:], b)
	return f, nil
}

// Compare reports whether a and b are equal, in constant time.
func Compare(a, b Fingerprint) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// Compute digests the port-independent structure of d.
//
// Covered: vendor/product/serial, the device descriptor fields, the
// manufacturer and product strings, every configuration, interface and
// endpoint (sorted, so enumeration order in the OS does not matter), the
// raw descriptor emission order, and the storage geometry when present.
// Speed, mount point, bus and device numbers are deliberately left out so
// the same unit fingerprints identically on every port.
func Compute(d device.Descriptor) (Fingerprint, error) {
	ext := d.Extended
	if ext == nil || len(ext.Configurations) == 0 {
		return Fingerprint{}, ErrInsufficientDescriptorData
	}

	h := sha256.New()
	e := encoder{w: h}
	e.bytes([]byte(domain))

	e.tag('I')
	e.u16(d.VendorID)
	e.u16(d.ProductID)
	e.str(d.Serial)

	e.tag('D')
	e.u16(ext.USBVersion)
	e.u8(ext.DeviceClass)
	e.u8(ext.DeviceSubClass)
	e.u8(ext.DeviceProtocol)
	e.u8(ext.MaxPacketSize0)
	e.u16(ext.DeviceVersion)
	e.u8(ext.NumConfigurations)
	e.str(ext.Manufacturer)
	e.str(ext.Product)

	configs := sortedEncodings(ext.Configurations, (*encoder).configuration)
	e.u32(uint32(len(configs)))
	for _, cfg := range configs {
		e.w.Write(cfg)
	}

	e.tag('S')
	e.bytes(ext.DescriptorSequence)

	if g := ext.Storage; g != nil {
		e.tag('G')
		e.str(g.Model)
		e.u64(g.SizeBytes)
		e.u32(g.BlockSize)
		e.str(g.PartitionTable)
	} else {
		e.tag('g')
	}

	var f Fingerprint
	h.Sum(f[:0])
	return f, nil
}

// encoder writes a length-prefixed, tagged encoding so no two distinct
// inputs share a byte stream.
type encoder struct {
	w   io.Writer
	buf [8]byte
}

// sortedEncodings encodes each item on its own and returns the encodings in
// byte order. Every encoding leads with its tag and key fields, so this
// orders by key first and by the remaining fields on ties.
func sortedEncodings[T any](items []T, enc func(*encoder, T)) [][]byte {
	out := make([][]byte, len(items))
	for i, item := range items {
		var b bytes.Buffer
		enc(&encoder{w: &b}, item)
		out[i] = b.Bytes()
	}
	slices.SortFunc(out, bytes.Compare)
	return out
}

func (e *encoder) configuration(cfg device.Configuration) {
	e.tag('C')
	e.u8(cfg.Value)
	e.u8(cfg.Attributes)
	e.u8(cfg.MaxPower)
	e.bytes(cfg.Extra)

	ifaces := sortedEncodings(cfg.Interfaces, (*encoder).iface)
	e.u32(uint32(len(ifaces)))
	for _, iface := range ifaces {
		e.w.Write(iface)
	}
}

func (e *encoder) iface(iface device.Interface) {
	e.tag('F')
	e.u8(iface.Number)
	e.u8(iface.AltSetting)
	e.u8(iface.Class)
	e.u8(iface.SubClass)
	e.u8(iface.Protocol)
	e.bytes(iface.Extra)

	eps := sortedEncodings(iface.Endpoints, (*encoder).endpoint)
	e.u32(uint32(len(eps)))
	for _, ep := range eps {
		e.w.Write(ep)
	}
}

func (e *encoder) endpoint(ep device.Endpoint) {
	e.tag('E')
	e.u8(ep.Address)
	e.u8(ep.Attributes)
	e.u16(ep.MaxPacketSize)
	e.u8(ep.Interval)
}

func (e *encoder) tag(t byte) { e.u8(t) }

func (e *encoder) u8(v uint8) {
	e.buf[0] = v
	e.w.Write(e.buf[:1])
}

func (e *encoder) u16(v uint16) {
	binary.BigEndian.PutUint16(e.buf[:2], v)
	e.w.Write(e.buf[:2])
}

func (e *encoder) u32(v uint32) {
	binary.BigEndian.PutUint32(e.buf[:4], v)
	e.w.Write(e.buf[:4])
}

func (e *encoder) u64(v uint64) {
	binary.BigEndian.PutUint64(e.buf[:8], v)
	e.w.Write(e.buf[:8])
}

func (e *encoder) bytes(b []byte) {
	e.u32(uint32(len(b)))
	e.w.Write(b)
}

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.w.Write([]byte(s))
}
