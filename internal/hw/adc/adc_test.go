package adc

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/spi/spitest"
)

func TestMCP3008_ReadRaw(t *testing.T) {
	for _, test := range []struct {
		name    string
		channel int
		ops     []conntest.IO
		want    uint16
	}{
		{
			name:    "channel 0 midpoint",
			channel: 0,
			ops: []conntest.IO{
				{W: []byte{0x01, 0x80, 0x00}, R: []byte{0x00, 0x02, 0x00}},
			},
			want: 512,
		},
		{
			name:    "channel 3 full scale",
			channel: 3,
			ops: []conntest.IO{
				{W: []byte{0x01, 0xB0, 0x00}, R: []byte{0xFF, 0xFF, 0xFF}},
			},
			want: 1023,
		},
		{
			name:    "channel 7 low",
			channel: 7,
			ops: []conntest.IO{
				{W: []byte{0x01, 0xF0, 0x00}, R: []byte{0x00, 0x00, 0x5A}},
			},
			want: 90,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			pb := &spitest.Playback{Playback: conntest.Playback{Ops: test.ops}}
			defer pb.Close()

			d, err := NewMCP3008(pb)
			if err != nil {
				t.Fatal(err)
			}
			got, err := d.ReadRaw(test.channel)
			if err != nil {
				t.Fatal(err)
			}
			if got != test.want {
				t.Errorf("ReadRaw(%d) = %d, want %d", test.channel, got, test.want)
			}
		})
	}
}

func TestMCP3008_InvalidChannel(t *testing.T) {
	pb := &spitest.Playback{}
	defer pb.Close()
	d, err := NewMCP3008(pb)
	if err != nil {
		t.Fatal(err)
	}
	for _, ch := range []int{-1, 8, 42} {
		if _, err := d.ReadRaw(ch); !errors.Is(err, ErrChannel) {
			t.Errorf("ReadRaw(%d) err = %v, want ErrChannel", ch, err)
		}
	}
}

func TestMCP3008_BusError(t *testing.T) {
	pb := &spitest.Playback{Playback: conntest.Playback{DontPanic: true}}
	defer pb.Close()
	d, err := NewMCP3008(pb)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.ReadRaw(0); err == nil {
		t.Error("expected error when the bus has no reply")
	}
}

func TestMock_DefaultsToMidpoint(t *testing.T) {
	m := NewMock()
	v, err := m.ReadRaw(2)
	if err != nil {
		t.Fatal(err)
	}
	if v != 512 {
		t.Errorf("unset channel = %d, want 512", v)
	}
	if m.Reads(2) != 1 {
		t.Errorf("Reads(2) = %d, want 1", m.Reads(2))
	}
}

func TestMock_SetClamps(t *testing.T) {
	m := NewMock()
	m.Set(1, 4000)
	if v, _ := m.ReadRaw(1); v != MaxRaw {
		t.Errorf("clamped value = %d, want %d", v, MaxRaw)
	}
	if _, err := m.ReadRaw(-1); !errors.Is(err, ErrChannel) {
		t.Errorf("negative channel err = %v", err)
	}
}
