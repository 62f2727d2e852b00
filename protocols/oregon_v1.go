package protocols

import (
	"github.com/cwsl/ismdump/bitbuffer"
	"github.com/cwsl/ismdump/checksum"
	"github.com/cwsl/ismdump/datamodel"
	"github.com/cwsl/ismdump/demod"
)

// Oregon Scientific v1 thermometers (THR128/THR138 and friends).
//
// The v1 generation sends a long sync-pulse train and then a 32-bit frame:
//
//	IIIIIIII RRSBTTTT TTTTTTTT KKKKKKKK
//
// byte layout after extraction:
//
//	b[0]  rolling id, re-rolled on battery change
//	b[1]  bits 7-6 channel minus one, bit 5 temperature sign,
//	      bit 4 low battery, bits 3-0 temperature tens digit
//	b[2]  temperature units and tenths digits, BCD
//	b[3]  checksum, byte sum of b[0..2]
func newOregonV1() Decoder {
	return Decoder{
		Name:       "Oregon-v1",
		Modulation: demod.OOKPulsePWMOSV1,
		Timing: demod.Params{
			ShortWidth: 1465,
			LongWidth:  2930,
			SyncWidth:  5860,
			GapLimit:   4000,
			ResetLimit: 14000,
			Tolerance:  350,
		},
		Fields: []string{"model", "id", "channel", "battery_ok",
			"temperature_C", "mic"},
		Decode: decodeOregonV1,
	}
}

func decodeOregonV1(ctx *Context, buf *bitbuffer.Buffer) Result {
	row := -1
	for r := 0; r < buf.NumRows(); r++ {
		// the sync train before the data row is the frame marker
		if buf.SyncsBefore(r) >= 4 && buf.RowBits(r) >= 32 {
			row = r
			break
		}
	}
	if row < 0 {
		return DecodeAbortEarly
	}
	if buf.RowBits(row) > 40 {
		return DecodeAbortLength
	}

	var b [4]byte
	buf.ExtractBytes(row, 0, b[:], 32)

	if checksum.AddBytes(b[:3]) != b[3] {
		ctx.Logf(1, "checksum mismatch")
		return DecodeFailMIC
	}

	tens := int(b[1] & 0x0F)
	units := int(b[2] >> 4)
	tenths := int(b[2] & 0x0F)
	if tens > 9 || units > 9 || tenths > 9 {
		return DecodeFailSanity
	}
	temp := float64(tens*100+units*10+tenths) / 10
	if b[1]&0x20 != 0 {
		temp = -temp
	}

	rec := datamodel.New().
		Str("model", "Oregon-v1").
		Int("id", int(b[0])).
		Int("channel", int(b[1]>>6)+1).
		Int("battery_ok", boolInt(b[1]&0x10 == 0)).
		Float("temperature_C", "%.1f C", temp).
		Str("mic", "CHECKSUM")
	ctx.Output(rec)
	return 1
}
