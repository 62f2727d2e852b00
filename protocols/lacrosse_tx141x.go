package protocols

import (
	"github.com/cwsl/ismdump/bitbuffer"
	"github.com/cwsl/ismdump/checksum"
	"github.com/cwsl/ismdump/datamodel"
	"github.com/cwsl/ismdump/demod"
)

// LaCrosse TX141TH-Bv2 temperature/humidity sensor.
//
// 40-bit rows, normally four repeats:
//
//	IIIIIIII BTCC TTTT TTTTTTTT HHHHHHHH DDDDDDDD
//
// - I: sensor id
// - B: low-battery flag, T: test/button flag
// - C: channel minus one
// - T: temperature, 12 bits, offset 500, 0.1 C
// - H: relative humidity
// - D: reflected LFSR digest, gen 0x31 key 0xF4, over the first four bytes
func newLaCrosseTX141x() Decoder {
	return Decoder{
		Name:       "LaCrosse-TX141THBv2",
		Modulation: demod.OOKPulsePWM,
		Timing: demod.Params{
			ShortWidth: 208,
			LongWidth:  417,
			SyncWidth:  833,
			GapLimit:   700,
			ResetLimit: 1700,
			Tolerance:  120,
		},
		Fields: []string{"model", "id", "channel", "battery_ok", "test",
			"temperature_C", "humidity", "mic"},
		Decode: decodeLaCrosseTX141x,
	}
}

func decodeLaCrosseTX141x(ctx *Context, buf *bitbuffer.Buffer) Result {
	row := buf.FindRepeatedRow(2, 40)
	if row < 0 {
		return DecodeAbortEarly
	}
	if buf.RowBits(row) > 48 {
		return DecodeAbortLength
	}

	var b [5]byte
	buf.ExtractBytes(row, 0, b[:], 40)

	if checksum.LfsrDigest8Reflect(b[:4], 0x31, 0xF4) != b[4] {
		ctx.Logf(1, "digest mismatch")
		return DecodeFailMIC
	}

	humidity := int(b[3])
	if humidity > 100 {
		return DecodeFailSanity
	}
	tempRaw := int(b[1]&0x0F)<<8 | int(b[2])

	rec := datamodel.New().
		Str("model", "LaCrosse-TX141THBv2").
		Int("id", int(b[0])).
		Int("channel", int(b[1]>>4&3)+1).
		Int("battery_ok", int(1-b[1]>>7)).
		Int("test", int(b[1]>>6&1)).
		Float("temperature_C", "%.1f C", float64(tempRaw-500)/10).
		Int("humidity", humidity).
		Str("mic", "CRC")
	ctx.Output(rec)
	return 1
}
