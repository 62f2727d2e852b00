package protocols

import (
	"time"

	"github.com/cwsl/ismdump/bitbuffer"
	"github.com/cwsl/ismdump/checksum"
	"github.com/cwsl/ismdump/datamodel"
	"github.com/cwsl/ismdump/demod"
)

// Security+ v1 gate/garage keypad and remotes.
//
// The 32-bit rolling code is split over two 19-bit half-frames sent a few
// hundred milliseconds apart:
//
//	FF CCCCCCCC CCCCCCCC P
//
// - F: half marker, 01 for the first half and 10 for the second
// - C: 16 code bits
// - P: odd parity over the preceding 18 bits
//
// The decoder keeps the first half in its per-protocol context and emits
// only when the matching second half arrives within 800 ms; a stale half is
// discarded. The context object is owned by the registry, never package
// state, so concurrent registries stay independent.
const secplusHalfExpiry = 800 * time.Millisecond

type secplusV1Cache struct {
	half1 uint16
	at    time.Time
	valid bool
}

func newSecplusV1() Decoder {
	return Decoder{
		Name:       "Secplus-v1",
		Modulation: demod.OOKPulsePPM,
		Timing: demod.Params{
			ShortWidth: 500,
			LongWidth:  1500,
			GapLimit:   2500,
			ResetLimit: 9000,
			Tolerance:  250,
		},
		Fields:         []string{"model", "id", "button", "rolling", "mic"},
		NewContextData: func() any { return &secplusV1Cache{} },
		Decode:         decodeSecplusV1,
	}
}

func decodeSecplusV1(ctx *Context, buf *bitbuffer.Buffer) Result {
	cache := ctx.Data.(*secplusV1Cache)
	result := DecodeAbortEarly
	for row := 0; row < buf.NumRows(); row++ {
		if buf.RowBits(row) < 19 {
			continue
		}
		var b [3]byte
		buf.ExtractBytes(row, 0, b[:], 19)

		marker := b[0] >> 6
		if marker != 0b01 && marker != 0b10 {
			continue
		}
		// odd parity over all 19 bits, the parity bit included
		par := checksum.Parity8(b[0]) ^ checksum.Parity8(b[1]) ^ checksum.Parity8(b[2]&0xE0)
		if par != 1 {
			result = DecodeFailMIC
			continue
		}
		half := uint16(b[0]&0x3F)<<10 | uint16(b[1])<<2 | uint16(b[2]>>6)

		if marker == 0b01 {
			cache.half1 = half
			cache.at = ctx.Now
			cache.valid = true
			result = DecodeAbortEarly
			continue
		}

		if !cache.valid || ctx.Now.Sub(cache.at) > secplusHalfExpiry {
			cache.valid = false
			result = DecodeAbortEarly
			continue
		}
		rolling := uint32(cache.half1)<<16 | uint32(half)
		cache.valid = false

		rec := datamodel.New().
			Str("model", "Secplus-v1").
			Int("id", int(rolling>>12)).
			Int("button", int(rolling&0x0F)).
			Int("rolling", int(rolling)).
			Str("mic", "PARITY")
		ctx.Output(rec)
		return 1
	}
	return result
}
