package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deviceDesc() []byte {
	return []byte{
		18, 0x01, // bLength, bDescriptorType
		0x00, 0x02, // bcdUSB 2.00
		0x00, 0x00, 0x00, // class, subclass, protocol
		64,         // bMaxPacketSize0
		0x81, 0x07, // idVendor 0x0781
		0x81, 0x55, // idProduct 0x5581
		0x00, 0x01, // bcdDevice 1.00
		1, 2, 3, // iManufacturer, iProduct, iSerialNumber
		1, // bNumConfigurations
	}
}

func massStorageBlob() []byte {
	b := deviceDesc()
	b = append(b, 9, 0x02, 32, 0, 1, 1, 0, 0x80, 50)      // configuration
	b = append(b, 9, 0x04, 0, 0, 2, 0x08, 0x06, 0x50, 0) // interface: mass storage BBB
	b = append(b, 7, 0x05, 0x81, 0x02, 0x00, 0x02, 0)    // bulk IN 512
	b = append(b, 7, 0x05, 0x02, 0x02, 0x00, 0x02, 0)    // bulk OUT 512
	return b
}

func TestParseDescriptors_MassStorage(t *testing.T) {
	ext, err := ParseDescriptors(massStorageBlob())
	require.NoError(t, err)

	assert.Equal(t, uint16(0x0200), ext.USBVersion)
	assert.Equal(t, uint8(64), ext.MaxPacketSize0)
	assert.Equal(t, uint16(0x0100), ext.DeviceVersion)
	assert.Equal(t, uint8(1), ext.NumConfigurations)
	assert.Equal(t, []uint8{0x01, 0x02, 0x04, 0x05, 0x05}, ext.DescriptorSequence)

	require.Len(t, ext.Configurations, 1)
	cfg := ext.Configurations[0]
	assert.Equal(t, uint8(1), cfg.Value)
	assert.Equal(t, uint8(50), cfg.MaxPower)
	require.Len(t, cfg.Interfaces, 1)
	iface := cfg.Interfaces[0]
	assert.Equal(t, InterfaceClassMassStorage, iface.Class)
	require.Len(t, iface.Endpoints, 2)
	assert.Equal(t, Endpoint{Address: 0x81, Attributes: 0x02, MaxPacketSize: 512}, iface.Endpoints[0])

	assert.True(t, ext.HasInterfaceClass(InterfaceClassMassStorage))
	assert.False(t, ext.HasInterfaceClass(0x03))
}

func TestParseDescriptors_ClassSpecificAttachesToInterface(t *testing.T) {
	b := deviceDesc()
	b = append(b, 9, 0x02, 34, 0, 1, 1, 0, 0xA0, 50)
	b = append(b, 9, 0x04, 0, 0, 1, 0x03, 0x01, 0x01, 0) // HID keyboard
	hid := []byte{9, 0x21, 0x11, 0x01, 0, 1, 0x22, 63, 0}
	b = append(b, hid...)
	b = append(b, 7, 0x05, 0x81, 0x03, 8, 0, 10)

	ext, err := ParseDescriptors(b)
	require.NoError(t, err)
	iface := ext.Configurations[0].Interfaces[0]
	assert.Equal(t, hid, iface.Extra)
	assert.Equal(t, []uint8{0x01, 0x02, 0x04, 0x21, 0x05}, ext.DescriptorSequence)
}

func TestParseDescriptors_MultipleInterfacesAndConfigs(t *testing.T) {
	b := deviceDesc()
	b[17] = 2
	b = append(b, 9, 0x02, 25, 0, 2, 1, 0, 0x80, 50)
	b = append(b, 8, 0x0B, 0, 2, 0x02, 0x02, 0x01, 0) // IAD before first interface
	b = append(b, 9, 0x04, 0, 0, 0, 0x02, 0x02, 0x01, 0)
	b = append(b, 9, 0x04, 1, 0, 0, 0x0A, 0x00, 0x00, 0)
	b = append(b, 9, 0x02, 18, 0, 1, 2, 0, 0x80, 100)
	b = append(b, 9, 0x04, 0, 0, 0, 0x08, 0x06, 0x50, 0)

	ext, err := ParseDescriptors(b)
	require.NoError(t, err)
	require.Len(t, ext.Configurations, 2)
	assert.Len(t, ext.Configurations[0].Interfaces, 2)
	assert.Len(t, ext.Configurations[0].Extra, 8)
	assert.Equal(t, uint8(2), ext.Configurations[1].Value)
	assert.Len(t, ext.Configurations[1].Interfaces, 1)
}

func TestParseDescriptors_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"empty", nil, ErrDescriptorTooShort},
		{"short device", deviceDesc()[:10], ErrDescriptorTooShort},
		{"not a device descriptor", func() []byte { b := deviceDesc(); b[1] = 0x02; return b }(), ErrDescriptorTypeMismatch},
		{"overrunning length", append(deviceDesc(), 9, 0x02, 0, 0), ErrDescriptorTooShort},
		{"zero length", append(deviceDesc(), 0, 0x02), ErrDescriptorTooShort},
		{"trailing byte", append(massStorageBlob(), 7), ErrDescriptorTooShort},
		{"interface first", append(deviceDesc(), 9, 0x04, 0, 0, 0, 0x08, 0x06, 0x50, 0), ErrDescriptorTypeMismatch},
		{"endpoint without interface", append(append(deviceDesc(), 9, 0x02, 16, 0, 1, 1, 0, 0x80, 50), 7, 0x05, 0x81, 2, 0, 2, 0), ErrDescriptorTypeMismatch},
		{"second device descriptor", append(massStorageBlob(), deviceDesc()...), ErrDescriptorTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDescriptors(tt.raw)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDescriptorClone(t *testing.T) {
	ext, err := ParseDescriptors(massStorageBlob())
	require.NoError(t, err)
	ext.Storage = &StorageGeometry{Model: "Cruzer", SizeBytes: 1 << 30, BlockSize: 512}

	d := &Descriptor{VendorID: 0x0781, ProductID: 0x5581, Serial: "ABC", Class: ClassStorage, Extended: ext}
	c := d.Clone()
	c.Extended.Configurations[0].Interfaces[0].Endpoints[0].MaxPacketSize = 64
	c.Extended.Storage.Model = "Other"
	c.Extended.DescriptorSequence[0] = 0xFF

	assert.Equal(t, uint16(512), d.Extended.Configurations[0].Interfaces[0].Endpoints[0].MaxPacketSize)
	assert.Equal(t, "Cruzer", d.Extended.Storage.Model)
	assert.Equal(t, uint8(0x01), d.Extended.DescriptorSequence[0])
	assert.Nil(t, (*Descriptor)(nil).Clone())
}

func TestParseClass(t *testing.T) {
	c, err := ParseClass("storage")
	require.NoError(t, err)
	assert.Equal(t, ClassStorage, c)

	_, err = ParseClass("hid")
	require.ErrorIs(t, err, ErrInvalidClass)
}
