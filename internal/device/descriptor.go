package device

import (
	"encoding/binary"
	"fmt"
)

// Standard descriptor types (USB 2.0 table 9-5).
const (
	DescriptorTypeDevice         uint8 = 0x01
	DescriptorTypeConfiguration  uint8 = 0x02
	DescriptorTypeString         uint8 = 0x03
	DescriptorTypeInterface      uint8 = 0x04
	DescriptorTypeEndpoint       uint8 = 0x05
	DescriptorTypeInterfaceAssoc uint8 = 0x0B
)

// Descriptor lengths.
const (
	deviceDescriptorLen        = 18
	configurationDescriptorLen = 9
	interfaceDescriptorLen     = 9
	endpointDescriptorLen      = 7
)

// InterfaceClassMassStorage is the mass-storage interface class code.
const InterfaceClassMassStorage uint8 = 0x08

// ParseDescriptors walks a raw descriptor blob as exposed by the kernel
// (one device descriptor followed by every configuration bundle) and
// builds the descriptor tree. String fields and storage geometry are left
// for the caller to fill in.
func ParseDescriptors(raw []byte) (*Extended, error) {
	if len(raw) < deviceDescriptorLen {
		return nil, fmt.Errorf("%w: device descriptor needs %d bytes, got %d",
			ErrDescriptorTooShort, deviceDescriptorLen, len(raw))
	}
	if raw[1] != DescriptorTypeDevice {
		return nil, fmt.Errorf("%w: expected device descriptor, got 0x%02x",
			ErrDescriptorTypeMismatch, raw[1])
	}
	if int(raw[0]) < deviceDescriptorLen {
		return nil, fmt.Errorf("%w: device descriptor bLength %d", ErrDescriptorTooShort, raw[0])
	}

	ext := &Extended{
		USBVersion:         binary.LittleEndian.Uint16(raw[2:4]),
		DeviceClass:        raw[4],
		DeviceSubClass:     raw[5],
		DeviceProtocol:     raw[6],
		MaxPacketSize0:     raw[7],
		DeviceVersion:      binary.LittleEndian.Uint16(raw[12:14]),
		NumConfigurations:  raw[17],
		DescriptorSequence: []uint8{DescriptorTypeDevice},
	}

	var (
		cfg   *Configuration
		iface *Interface
	)
	flush := func() {
		if cfg == nil {
			return
		}
		if iface != nil {
			cfg.Interfaces = append(cfg.Interfaces, *iface)
			iface = nil
		}
		ext.Configurations = append(ext.Configurations, *cfg)
		cfg = nil
	}

	for off := int(raw[0]); off < len(raw); {
		if len(raw)-off < 2 {
			return nil, fmt.Errorf("%w: trailing %d byte(s) at offset %d",
				ErrDescriptorTooShort, len(raw)-off, off)
		}
		length, typ := int(raw[off]), raw[off+1]
		if length < 2 || off+length > len(raw) {
			return nil, fmt.Errorf("%w: descriptor 0x%02x at offset %d declares length %d",
				ErrDescriptorTooShort, typ, off, length)
		}
		d := raw[off : off+length]
		ext.DescriptorSequence = append(ext.DescriptorSequence, typ)

		switch typ {
		case DescriptorTypeConfiguration:
			if length < configurationDescriptorLen {
				return nil, fmt.Errorf("%w: configuration descriptor at offset %d", ErrDescriptorTooShort, off)
			}
			flush()
			cfg = &Configuration{Value: d[5], Attributes: d[7], MaxPower: d[8]}

		case DescriptorTypeInterface:
			if cfg == nil {
				return nil, fmt.Errorf("%w: interface descriptor outside a configuration at offset %d",
					ErrDescriptorTypeMismatch, off)
			}
			if length < interfaceDescriptorLen {
				return nil, fmt.Errorf("%w: interface descriptor at offset %d", ErrDescriptorTooShort, off)
			}
			if iface != nil {
				cfg.Interfaces = append(cfg.Interfaces, *iface)
			}
			iface = &Interface{
				Number:     d[2],
				AltSetting: d[3],
				Class:      d[5],
				SubClass:   d[6],
				Protocol:   d[7],
			}

		case DescriptorTypeEndpoint:
			if iface == nil {
				return nil, fmt.Errorf("%w: endpoint descriptor outside an interface at offset %d",
					ErrDescriptorTypeMismatch, off)
			}
			if length < endpointDescriptorLen {
				return nil, fmt.Errorf("%w: endpoint descriptor at offset %d", ErrDescriptorTooShort, off)
			}
			iface.Endpoints = append(iface.Endpoints, Endpoint{
				Address:       d[2],
				Attributes:    d[3],
				MaxPacketSize: binary.LittleEndian.Uint16(d[4:6]),
				Interval:      d[6],
			})

		case DescriptorTypeDevice:
			return nil, fmt.Errorf("%w: second device descriptor at offset %d", ErrDescriptorTypeMismatch, off)

		default:
			// Class-specific and association descriptors attach to whatever
			// they follow.
			switch {
			case iface != nil:
				iface.Extra = append(iface.Extra, d...)
			case cfg != nil:
				cfg.Extra = append(cfg.Extra, d...)
			default:
				return nil, fmt.Errorf("%w: descriptor 0x%02x before any configuration at offset %d",
					ErrDescriptorTypeMismatch, typ, off)
			}
		}
		off += length
	}
	flush()

	return ext, nil
}

// HasInterfaceClass reports whether any interface in any configuration has
// the given class code.
func (e *Extended) HasInterfaceClass(class uint8) bool {
	if e == nil {
		return false
	}
	for _, cfg := range e.Configurations {
		for _, iface := range cfg.Interfaces {
			if iface.Class == class {
				return true
			}
		}
	}
	return false
}
