package protocols

import (
	"github.com/cwsl/ismdump/bitbuffer"
	"github.com/cwsl/ismdump/datamodel"
	"github.com/cwsl/ismdump/demod"
)

// Linear Megacode garage door remote.
//
// The remote sends 24 symbols, each a 6 ms window holding a single 1 ms
// carrier burst; a burst in the second half of the window is a 1, in the
// first half a 0. The first symbol is a start bit and is always 1. The
// remaining 23 bits carry a 4-bit facility code, a 16-bit unit id and a
// 3-bit button code. There is no checksum; the fixed start bit, the
// one-burst-per-window structure and a non-zero unit id are the only
// validation.
func newMegacode() Decoder {
	return Decoder{
		Name:       "Megacode",
		Modulation: demod.OOKPulsePCM,
		Timing: demod.Params{
			ShortWidth: 1000,
			LongWidth:  1000,
			ResetLimit: 9000,
			Tolerance:  300,
		},
		// PCM run-length decoders are false-positive prone on noise bursts,
		// so this one runs after the checksummed protocols.
		Priority: 10,
		Fields:   []string{"model", "id", "facility", "button"},
		Decode:   decodeMegacode,
	}
}

func decodeMegacode(ctx *Context, buf *bitbuffer.Buffer) Result {
	for row := 0; row < buf.NumRows(); row++ {
		if buf.RowBits(row) < 24*6 {
			continue
		}
		var code uint32
		valid := true
		for k := 0; k < 24 && valid; k++ {
			ones, pos := 0, 0
			for i := 0; i < 6; i++ {
				if buf.Bit(row, 6*k+i) != 0 {
					ones++
					pos = i
				}
			}
			if ones != 1 {
				valid = false
				break
			}
			code <<= 1
			if pos >= 3 {
				code |= 1
			}
		}
		if !valid {
			return DecodeFailSanity
		}
		if code>>23 != 1 {
			return DecodeAbortEarly
		}
		id := int(code >> 3 & 0xFFFF)
		if id == 0 {
			return DecodeFailSanity
		}

		rec := datamodel.New().
			Str("model", "Megacode").
			Int("id", id).
			Int("facility", int(code>>19&0x0F)).
			Int("button", int(code&0x07))
		ctx.Output(rec)
		return 1
	}
	return DecodeAbortLength
}
