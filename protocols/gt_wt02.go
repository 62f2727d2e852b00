package protocols

import (
	"github.com/cwsl/ismdump/bitbuffer"
	"github.com/cwsl/ismdump/checksum"
	"github.com/cwsl/ismdump/datamodel"
	"github.com/cwsl/ismdump/demod"
)

// Globaltronics GT-WT-02 temperature/humidity sensor.
//
// 37-bit rows, repeated many times per transmission:
//
//	IIIIIIII BMCC TTTT TTTTTTTT HHHHHHH SSSSSS
//
// - I: sensor id, re-rolled on battery change
// - B: low-battery flag, M: manual-send button
// - C: channel minus one
// - T: temperature, 12-bit signed, 0.1 C
// - H: relative humidity
// - S: checksum, sum of the nibbles of the first 31 bits, modulo 64
func newGTWT02() Decoder {
	return Decoder{
		Name:       "GT-WT-02",
		Modulation: demod.OOKPulsePPM,
		Timing: demod.Params{
			ShortWidth: 2000,
			LongWidth:  4000,
			SyncWidth:  9000,
			ResetLimit: 12000,
			Tolerance:  700,
		},
		Fields: []string{"model", "id", "channel", "battery_ok", "button",
			"temperature_C", "humidity", "mic"},
		Decode: decodeGTWT02,
	}
}

func decodeGTWT02(ctx *Context, buf *bitbuffer.Buffer) Result {
	row := buf.FindRepeatedRow(2, 37)
	if row < 0 {
		return DecodeAbortEarly
	}
	if buf.RowBits(row) > 40 {
		return DecodeAbortLength
	}

	var b [5]byte
	buf.ExtractBytes(row, 0, b[:], 37)

	// the checksum covers bits 0..30; bit 31, the low bit of b[3], is the
	// checksum's own leading bit and is masked out of the nibble sum
	sum := checksum.AddNibbles([]byte{b[0], b[1], b[2], b[3] & 0xFE}) & 0x3F
	obs := (b[3]&1)<<5 | b[4]>>3
	if sum != obs {
		ctx.Logf(1, "checksum %02x does not match %02x", sum, obs)
		return DecodeFailMIC
	}

	humidity := int(b[3] >> 1)
	if humidity > 100 {
		return DecodeFailSanity
	}
	tempRaw := int(int16(b[1])<<12|int16(b[2])<<4) >> 4 // sign-extend 12 bits

	rec := datamodel.New().
		Str("model", "GT-WT-02").
		Int("id", int(b[0])).
		Int("channel", int(b[1]>>4&3)+1).
		Int("battery_ok", int(1-b[1]>>7)).
		Int("button", int(b[1]>>6&1)).
		Float("temperature_C", "%.1f C", float64(tempRaw)/10).
		Int("humidity", humidity).
		Str("mic", "CHECKSUM")
	ctx.Output(rec)
	return 1
}
