package protocols

import (
	"encoding/binary"

	"github.com/cwsl/ismdump/bitbuffer"
	"github.com/cwsl/ismdump/checksum"
	"github.com/cwsl/ismdump/datamodel"
	"github.com/cwsl/ismdump/demod"
)

// Cavius smoke/heat/water alarms.
//
// FSK Manchester. The payload follows the ASCII sync word "Cavi" and is
// 11 bytes:
//
//	NNNNNNNN NNNNNNNN NNNNNNNN NNNNNNNN BBBBBBBB MMMMMMMM KKKKKKKK
//	SSSSSSSS SSSSSSSS SSSSSSSS SSSSSSSS
//
// - N: 32-bit network id
// - B: battery status, 0x01 when healthy
// - M: message bits: 0x80 pairing, 0x40 test, 0x20 alarm, 0x10 warning,
//   0x08 mute
// - K: CRC-8, reflected, poly 0x31, over the first six bytes
// - S: 32-bit sender id
func newCavius() Decoder {
	return Decoder{
		Name:       "Cavius-Security",
		Modulation: demod.FSKPulseManchesterZeroBit,
		Timing: demod.Params{
			ShortWidth: 104,
			ResetLimit: 1200,
			Tolerance:  40,
		},
		Fields: []string{"model", "id", "net_id", "battery_ok",
			"alarm", "pairing", "test", "warning", "mute", "mic"},
		Decode: decodeCavius,
	}
}

var caviusSync = []byte{'C', 'a', 'v', 'i'}

func decodeCavius(ctx *Context, buf *bitbuffer.Buffer) Result {
	for row := 0; row < buf.NumRows(); row++ {
		pos := buf.Search(row, 0, caviusSync, 32)
		if pos >= buf.RowBits(row) {
			continue
		}
		pos += 32
		if buf.RowBits(row)-pos < 11*8 {
			return DecodeAbortLength
		}

		var b [11]byte
		buf.ExtractBytes(row, pos, b[:], 11*8)

		if checksum.Crc8le(b[:7], 0x31, 0) != 0 {
			ctx.Logf(1, "CRC mismatch")
			return DecodeFailMIC
		}
		message := b[5]
		if message == 0 || message&0x07 != 0 {
			return DecodeFailSanity
		}

		netID := binary.BigEndian.Uint32(b[0:4])
		sender := binary.BigEndian.Uint32(b[7:11])

		rec := datamodel.New().
			Str("model", "Cavius-Security").
			Int("id", int(sender)).
			Int("net_id", int(netID)).
			Int("battery_ok", boolInt(b[4] == 0x01)).
			Int("alarm", int(message>>5&1)).
			Int("pairing", int(message>>7&1)).Cond(message&0x80 != 0).
			Int("test", int(message>>6&1)).Cond(message&0x40 != 0).
			Int("warning", int(message>>4&1)).Cond(message&0x10 != 0).
			Int("mute", int(message>>3&1)).Cond(message&0x08 != 0).
			Str("mic", "CRC")
		ctx.Output(rec)
		return 1
	}
	return DecodeAbortEarly
}
