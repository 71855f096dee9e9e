package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/deviceguard/internal/device"
)

func TestDerive(t *testing.T) {
	tests := []struct {
		name   string
		desc   device.Descriptor
		want   CanonicalID
		serial string
	}{
		{
			name:   "plain serial",
			desc:   device.Descriptor{VendorID: 0x0781, ProductID: 0x5581, Serial: "4C530001230520115093"},
			want:   "VID_0781&PID_5581&SN_4C530001230520115093",
			serial: "4C530001230520115093",
		},
		{
			name:   "zero padded upper hex",
			desc:   device.Descriptor{VendorID: 0xa, ProductID: 0xbeef, Serial: "x"},
			want:   "VID_000A&PID_BEEF&SN_x",
			serial: "x",
		},
		{
			name:   "trimmed and escaped",
			desc:   device.Descriptor{VendorID: 1, ProductID: 2, Serial: "  AB&C %~/é \t"},
			want:   "VID_0001&PID_0002&SN_AB%26C%20%25%7E%2F%C3%A9",
			serial: "AB&C %~/é",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := Derive(tt.desc)
			assert.Equal(t, tt.want, id.ID)
			assert.Equal(t, tt.serial, id.Serial)
			assert.False(t, id.LowConfidence)
		})
	}
}

func TestDerive_Deterministic(t *testing.T) {
	a := device.Descriptor{VendorID: 0x1234, ProductID: 0x5678, Serial: "S1", Name: "Stick", Class: device.ClassStorage}
	b := a
	b.Name = "Renamed"
	b.DriveLetter = "/media/usb"
	b.Class = device.ClassOther

	assert.Equal(t, Derive(a).ID, Derive(b).ID)
}

func TestDerive_PlaceholderWhenSerialMissing(t *testing.T) {
	d := device.Descriptor{VendorID: 0x046d, ProductID: 0xc52b, Serial: "   ", Class: device.ClassOther, Name: "Receiver"}
	id := Derive(d)

	assert.True(t, id.LowConfidence)
	assert.Empty(t, id.Serial)
	assert.True(t, strings.HasPrefix(string(id.ID), "VID_046D&PID_C52B&SN_~NOSN-"))
	assert.Equal(t, id.ID, Derive(d).ID, "placeholder must be stable")

	other := d
	other.Name = "Different"
	assert.NotEqual(t, id.ID, Derive(other).ID)
}

func TestDerive_PlaceholderCannotCollideWithSerial(t *testing.T) {
	low := Derive(device.Descriptor{VendorID: 1, ProductID: 1, Class: device.ClassOther, Name: "n"})
	spoof := Derive(device.Descriptor{VendorID: 1, ProductID: 1, Serial: low.Token})

	assert.NotEqual(t, low.ID, spoof.ID)
	assert.False(t, spoof.LowConfidence)
}

func TestDerive_TruncatesLongSerial(t *testing.T) {
	long := strings.Repeat("é", MaxSerialLen) // 2 bytes per rune
	id := Derive(device.Descriptor{VendorID: 1, ProductID: 2, Serial: long})

	assert.LessOrEqual(t, len(id.Serial), MaxSerialLen)
	assert.True(t, strings.HasPrefix(long, id.Serial))

	parsed, err := Parse(string(id.ID))
	require.NoError(t, err)
	assert.Equal(t, id.Serial, parsed.Serial)
}

func TestParse_RoundTrip(t *testing.T) {
	descs := []device.Descriptor{
		{VendorID: 0x0781, ProductID: 0x5581, Serial: "ABC123"},
		{VendorID: 0xFFFF, ProductID: 0, Serial: "with space & amp %"},
		{VendorID: 0x1d6b, ProductID: 0x0002, Serial: "0000:00:14.0"},
		{VendorID: 0x05ac, ProductID: 0x12a8, Class: device.ClassOther, Name: "iPhone"},
	}
	for _, d := range descs {
		id := Derive(d)
		parsed, err := Parse(string(id.ID))
		require.NoError(t, err, id.ID)
		assert.Equal(t, id, parsed)
		assert.Equal(t, id.ID, parsed.Format())
	}
}

func TestParse_Malformed(t *testing.T) {
	bad := []string{
		"",
		"VID_0781&PID_5581",
		"VID_0781&PID_5581&SN_",
		"vid_0781&PID_5581&SN_A",
		"VID_0781&SN_A&PID_5581",
		"VID_781&PID_5581&SN_A",
		"VID_0781&PID_558&SN_A",
		"VID_07ab&PID_5581&SN_A",
		"VID_0781&PID_5581&SN_A B",
		"VID_0781&PID_5581&SN_A%2",
		"VID_0781&PID_5581&SN_A%2f",
		"VID_0781&PID_5581&SN_%41",
		"VID_0781&PID_5581&SN_%20A",
		"VID_0781&PID_5581&SN_~NOSN-1234",
		"VID_0781&PID_5581&SN_~NOSN-abcdef12",
		"VID_0781&PID_5581&SN_~other",
		"VID_0781&PID_5581&SN_" + strings.Repeat("A", maxTokenLen+1),
		"VID_0781&PID_5581&SN_" + strings.Repeat("A", MaxSerialLen+1),
		" VID_0781&PID_5581&SN_A",
	}
	for _, s := range bad {
		t.Run(s, func(t *testing.T) {
			_, err := Parse(s)
			require.ErrorIs(t, err, ErrMalformedIdentity)
			assert.ErrorIs(t, Validate(s), ErrMalformedIdentity)
		})
	}
}
