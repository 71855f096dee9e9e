package device

import "fmt"

// Class is the coarse device category used by the whitelist.
type Class string

// Device classes.
const (
	ClassStorage Class = "storage"
	ClassOther   Class = "other"
)

// ValidClasses lists every accepted Class.
var ValidClasses = []Class{ClassStorage, ClassOther}

// ParseClass converts a stored string back to a Class.
func ParseClass(s string) (Class, error) {
	for _, c := range ValidClasses {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidClass, s)
}

// Descriptor is the raw device description produced by the OS enumeration
// subsystem. It is regenerated on every poll and never persisted as-is.
type Descriptor struct {
	VendorID  uint16
	ProductID uint16

	// Serial may be empty or shared between units of a cheap product line.
	Serial string

	Class Class
	Name  string

	// DriveLetter is where the storage volume is reachable: a drive letter
	// on Windows, a mount point elsewhere. Empty for non-storage devices and
	// for storage that is not mounted.
	DriveLetter string

	// SysPath locates the device in the enumeration backend. Informational.
	SysPath string

	// Extended is nil when the backend could only report class-level data.
	Extended *Extended
}

// Extended carries the descriptor tree and storage geometry that structural
// fingerprinting needs.
type Extended struct {
	USBVersion        uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	DeviceVersion     uint16
	NumConfigurations uint8

	Manufacturer string
	Product      string

	Configurations []Configuration

	// DescriptorSequence is the descriptor type of every descriptor in the
	// order the device emitted them. Firmware emits a fixed order, so the
	// sequence is stable for one physical unit.
	DescriptorSequence []uint8

	Storage *StorageGeometry
}

// Configuration is one configuration bundle of the descriptor tree.
type Configuration struct {
	Value      uint8
	Attributes uint8
	MaxPower   uint8
	Interfaces []Interface

	// Extra holds non-interface descriptors seen before the first interface
	// (interface association descriptors, for example), raw.
	Extra []byte
}

// Interface is one interface alternate setting.
type Interface struct {
	Number     uint8
	AltSetting uint8
	Class      uint8
	SubClass   uint8
	Protocol   uint8
	Endpoints  []Endpoint

	// Extra holds class-specific descriptors (HID, CDC functional, ...), raw
	// and in emission order.
	Extra []byte
}

// Endpoint is one endpoint descriptor.
type Endpoint struct {
	Address       uint8
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8
}

// StorageGeometry describes the physical medium behind a mass-storage device.
type StorageGeometry struct {
	Model          string
	SizeBytes      uint64
	BlockSize      uint32
	PartitionTable string // MBR disk signature or GPT disk GUID, when readable
}

// IsStorage reports whether the descriptor is a mass-storage device.
func (d *Descriptor) IsStorage() bool {
	return d.Class == ClassStorage
}

// Clone returns a deep copy so callers may modify the result freely.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	c := *d
	c.Extended = d.Extended.Clone()
	return &c
}

// Clone returns a deep copy of the extended data.
func (e *Extended) Clone() *Extended {
	if e == nil {
		return nil
	}
	c := *e
	c.DescriptorSequence = append([]uint8(nil), e.DescriptorSequence...)
	if e.Storage != nil {
		s := *e.Storage
		c.Storage = &s
	}
	if e.Configurations != nil {
		c.Configurations = make([]Configuration, len(e.Configurations))
		for i, cfg := range e.Configurations {
			c.Configurations[i] = cfg.clone()
		}
	}
	return &c
}

func (c Configuration) clone() Configuration {
	out := c
	out.Extra = append([]byte(nil), c.Extra...)
	if c.Interfaces != nil {
		out.Interfaces = make([]Interface, len(c.Interfaces))
		for i, iface := range c.Interfaces {
			ic := iface
			ic.Extra = append([]byte(nil), iface.Extra...)
			ic.Endpoints = append([]Endpoint(nil), iface.Endpoints...)
			out.Interfaces[i] = ic
		}
	}
	return out
}
