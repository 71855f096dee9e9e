package fingerprint

import (
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/deviceguard/internal/device"
)

func sampleDescriptor() device.Descriptor {
	return device.Descriptor{
		VendorID:    0x0781,
		ProductID:   0x5581,
		Serial:      "4C530001230520115093",
		Class:       device.ClassStorage,
		Name:        "SanDisk Ultra",
		DriveLetter: "/media/usb0",
		SysPath:     "/sys/bus/usb/devices/1-1",
		Extended: &device.Extended{
			USBVersion:        0x0300,
			MaxPacketSize0:    9,
			DeviceVersion:     0x0100,
			NumConfigurations: 1,
			Manufacturer:      "SanDisk",
			Product:           "Ultra",
			Configurations: []device.Configuration{{
				Value: 1, Attributes: 0x80, MaxPower: 112,
				Interfaces: []device.Interface{{
					Number: 0, Class: 0x08, SubClass: 0x06, Protocol: 0x50,
					Endpoints: []device.Endpoint{
						{Address: 0x81, Attributes: 0x02, MaxPacketSize: 1024},
						{Address: 0x02, Attributes: 0x02, MaxPacketSize: 1024},
					},
				}},
			}},
			DescriptorSequence: []uint8{0x01, 0x02, 0x04, 0x05, 0x30, 0x05, 0x30},
			Storage:            &device.StorageGeometry{Model: "Ultra", SizeBytes: 61530439680, BlockSize: 512, PartitionTable: "0x6e2c4a91"},
		},
	}
}

func TestCompute_Deterministic(t *testing.T) {
	a, err := Compute(sampleDescriptor())
	require.NoError(t, err)
	b, err := Compute(sampleDescriptor())
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.False(t, a.IsZero())
	assert.True(t, Compare(a, b))
}

func TestCompute_IgnoresPortDependentData(t *testing.T) {
	base, err := Compute(sampleDescriptor())
	require.NoError(t, err)

	moved := sampleDescriptor()
	moved.DriveLetter = "E:"
	moved.SysPath = "/sys/bus/usb/devices/3-2"
	moved.Name = "Relabelled"
	got, err := Compute(moved)
	require.NoError(t, err)
	assert.Equal(t, base, got)
}

func TestCompute_IgnoresOSEnumerationOrder(t *testing.T) {
	base, err := Compute(sampleDescriptor())
	require.NoError(t, err)

	d := sampleDescriptor()
	eps := d.Extended.Configurations[0].Interfaces[0].Endpoints
	eps[0], eps[1] = eps[1], eps[0]
	got, err := Compute(d)
	require.NoError(t, err)
	assert.Equal(t, base, got)
}

func TestCompute_OrderIndependentOnKeyTies(t *testing.T) {
	build := func(reverse bool) device.Descriptor {
		d := sampleDescriptor()
		// Entries share their key fields and differ in the rest.
		eps := []device.Endpoint{
			{Address: 0x83, Attributes: 3, MaxPacketSize: 8, Interval: 10},
			{Address: 0x83, Attributes: 3, MaxPacketSize: 64, Interval: 1},
		}
		ifaces := []device.Interface{
			{Number: 1, Class: 0x03, SubClass: 1, Protocol: 1},
			{Number: 1, Class: 0x03, SubClass: 0, Protocol: 2, Extra: []byte{0x09, 0x21}},
		}
		genuine := d.Extended.Configurations[0]
		other := device.Configuration{Value: 1, Attributes: 0xa0, MaxPower: 50}
		cfgs := []device.Configuration{genuine, other}
		if reverse {
			eps[0], eps[1] = eps[1], eps[0]
			ifaces[0], ifaces[1] = ifaces[1], ifaces[0]
			cfgs[0], cfgs[1] = cfgs[1], cfgs[0]
		}
		for i := range ifaces {
			if ifaces[i].SubClass == 1 {
				ifaces[i].Endpoints = eps
			}
		}
		for i := range cfgs {
			if cfgs[i].Attributes == 0x80 {
				cfgs[i].Interfaces = append(slices.Clone(cfgs[i].Interfaces), ifaces...)
			}
		}
		d.Extended.Configurations = cfgs
		return d
	}

	a, err := Compute(build(false))
	require.NoError(t, err)
	b, err := Compute(build(true))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCompute_DetectsStructuralChanges(t *testing.T) {
	base, err := Compute(sampleDescriptor())
	require.NoError(t, err)

	mutations := map[string]func(*device.Descriptor){
		"serial":           func(d *device.Descriptor) { d.Serial = "4C530001230520115094" },
		"vendor":           func(d *device.Descriptor) { d.VendorID++ },
		"usb version":      func(d *device.Descriptor) { d.Extended.USBVersion = 0x0200 },
		"manufacturer":     func(d *device.Descriptor) { d.Extended.Manufacturer = "SanDlsk" },
		"extra hid iface":  func(d *device.Descriptor) { addHIDInterface(d) },
		"endpoint size":    func(d *device.Descriptor) { d.Extended.Configurations[0].Interfaces[0].Endpoints[0].MaxPacketSize = 512 },
		"max power":        func(d *device.Descriptor) { d.Extended.Configurations[0].MaxPower = 50 },
		"emission order":   func(d *device.Descriptor) { d.Extended.DescriptorSequence[4], d.Extended.DescriptorSequence[5] = 0x05, 0x30 },
		"capacity":         func(d *device.Descriptor) { d.Extended.Storage.SizeBytes = 1 << 34 },
		"partition table":  func(d *device.Descriptor) { d.Extended.Storage.PartitionTable = "" },
		"geometry removed": func(d *device.Descriptor) { d.Extended.Storage = nil },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			d := sampleDescriptor()
			mutate(&d)
			got, err := Compute(d)
			require.NoError(t, err)
			assert.False(t, Compare(base, got))
		})
	}
}

func addHIDInterface(d *device.Descriptor) {
	cfg := &d.Extended.Configurations[0]
	cfg.Interfaces = append(cfg.Interfaces, device.Interface{
		Number: 1, Class: 0x03, SubClass: 0x01, Protocol: 0x01,
		Extra:     []byte{9, 0x21, 0x11, 0x01, 0, 1, 0x22, 63, 0},
		Endpoints: []device.Endpoint{{Address: 0x83, Attributes: 0x03, MaxPacketSize: 8, Interval: 10}},
	})
}

func TestCompute_FieldBoundariesDoNotAlias(t *testing.T) {
	a := sampleDescriptor()
	a.Extended.Manufacturer, a.Extended.Product = "ab", "c"
	b := sampleDescriptor()
	b.Extended.Manufacturer, b.Extended.Product = "a", "bc"

	fa, err := Compute(a)
	require.NoError(t, err)
	fb, err := Compute(b)
	require.NoError(t, err)
	assert.NotEqual(t, fa, fb)
}

func TestCompute_InsufficientData(t *testing.T) {
	d := sampleDescriptor()
	d.Extended = nil
	_, err := Compute(d)
	require.ErrorIs(t, err, ErrInsufficientDescriptorData)

	d = sampleDescriptor()
	d.Extended.Configurations = nil
	_, err = Compute(d)
	require.ErrorIs(t, err, ErrInsufficientDescriptorData)
}

func TestParseHex(t *testing.T) {
	f, err := Compute(sampleDescriptor())
	require.NoError(t, err)

	got, err := ParseHex(f.String())
	require.NoError(t, err)
	assert.Equal(t, f, got)

	_, err = ParseHex("abc")
	require.ErrorIs(t, err, ErrInvalidFingerprint)
	_, err = ParseHex(strings.Repeat("zz", Size))
	require.ErrorIs(t, err, ErrInvalidFingerprint)

	fb, err := FromBytes(f[:])
	require.NoError(t, err)
	assert.Equal(t, f, fb)
	_, err = FromBytes(f[:4])
	require.ErrorIs(t, err, ErrInvalidFingerprint)
}
