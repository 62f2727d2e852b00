package protocols

import (
	"github.com/cwsl/ismdump/bitbuffer"
	"github.com/cwsl/ismdump/checksum"
	"github.com/cwsl/ismdump/datamodel"
	"github.com/cwsl/ismdump/demod"
)

// Grothe Mistral SE wireless doorbell, differential Manchester coded.
//
// 32-bit frame:
//
//	PPPPPPPP IIIIIIII IIIIIIII BBBBKKKK
//
// - P: fixed 0xD3
// - I: 16-bit transmitter id
// - B: button code
// - K: CRC-4, poly 0x3, over the first 28 bits (the CRC nibble zeroed)
func newMistralSE() Decoder {
	return Decoder{
		Name:       "Mistral-SE",
		Modulation: demod.OOKPulseDMC,
		Timing: demod.Params{
			ShortWidth: 488,
			ResetLimit: 2400,
			Tolerance:  120,
		},
		Fields: []string{"model", "id", "button", "mic"},
		Decode: decodeMistralSE,
	}
}

func decodeMistralSE(ctx *Context, buf *bitbuffer.Buffer) Result {
	for row := 0; row < buf.NumRows(); row++ {
		if buf.RowBits(row) < 32 {
			continue
		}
		var b [4]byte
		buf.ExtractBytes(row, 0, b[:], 32)

		if b[0] != 0xD3 {
			continue
		}
		if checksum.Crc4([]byte{b[0], b[1], b[2], b[3] & 0xF0}, 0x3, 0) != b[3]&0x0F {
			ctx.Logf(1, "CRC mismatch")
			return DecodeFailMIC
		}

		rec := datamodel.New().
			Str("model", "Mistral-SE").
			Int("id", int(b[1])<<8|int(b[2])).
			Int("button", int(b[3]>>4)).
			Str("mic", "CRC")
		ctx.Output(rec)
		return 1
	}
	return DecodeAbortEarly
}
