package protocols

import (
	"github.com/cwsl/ismdump/bitbuffer"
	"github.com/cwsl/ismdump/checksum"
	"github.com/cwsl/ismdump/datamodel"
	"github.com/cwsl/ismdump/demod"
)

// Ecowitt WH53/WH0280/WH0281A outdoor thermometer.
//
// A transmission repeats the same 55-bit row several times:
//
//	PPPPPPPP IIIIIIII FFFFFFFF B TTTTTTTT CC XXXXX XXXXXXXX KKKKKKK
//
// - P: preamble, always 0xFE
// - I: sensor id, changes on battery replacement
// - F: fixed field, always 0xFF
// - B: low-battery flag
// - T: temperature, signed, 0.1 C steps
// - C: channel, 1-3
// - X: message counter and reserved bits
// - K: CRC-8, poly 0x31 init 0x27, over the whole 55-bit frame (the CRC's
//   low bit is truncated by the frame length, so the check runs over the
//   seven extracted bytes and must come out zero)
func newEcowittWH53() Decoder {
	return Decoder{
		Name:       "Ecowitt-WH53",
		Modulation: demod.OOKPulsePWM,
		Timing: demod.Params{
			ShortWidth: 504,
			LongWidth:  1480,
			GapLimit:   1200,
			ResetLimit: 4000,
			Tolerance:  200,
		},
		Fields: []string{"model", "id", "channel", "battery_ok", "temperature_C", "mic"},
		Decode: decodeEcowittWH53,
	}
}

func decodeEcowittWH53(ctx *Context, buf *bitbuffer.Buffer) Result {
	row := buf.FindRepeatedRow(2, 55)
	if row < 0 {
		return DecodeAbortEarly
	}
	if buf.RowBits(row) > 60 {
		return DecodeAbortLength
	}

	var b [7]byte
	buf.ExtractBytes(row, 0, b[:], 55)

	if b[0] != 0xFE {
		return DecodeAbortEarly
	}
	if b[2] != 0xFF {
		return DecodeFailSanity
	}
	if checksum.Crc8(b[:], 0x31, 0x27) != 0 {
		ctx.Logf(1, "CRC mismatch on row %d", row)
		return DecodeFailMIC
	}

	batteryLow := b[3] >> 7
	tempRaw := int8(b[3]<<1 | b[4]>>7)
	channel := int(b[4]>>5) & 3
	if channel < 1 || channel > 3 {
		return DecodeFailSanity
	}

	rec := datamodel.New().
		Str("model", "Ecowitt-WH53").
		Int("id", int(b[1])).
		Int("channel", channel).
		Int("battery_ok", int(1-batteryLow)).
		Float("temperature_C", "%.1f C", float64(tempRaw)/10).
		Str("mic", "CRC")
	ctx.Output(rec)
	return 1
}
