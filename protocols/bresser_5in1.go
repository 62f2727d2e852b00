package protocols

import (
	"github.com/cwsl/ismdump/bitbuffer"
	"github.com/cwsl/ismdump/datamodel"
	"github.com/cwsl/ismdump/demod"
)

// Bresser Weather Center 5-in-1.
//
// 270 kHz FSK, 8080 baud NRZ. The frame is located by the preamble
// AA AA AA 2D D4 and carries 26 bytes, where the first 13 are the bitwise
// inverse of the last 13; that redundancy is the integrity check. Offsets
// below are relative to the start of the 26-byte message:
//
//	msg[14]      station id
//	msg[15]      flags, 0x08 battery low
//	msg[16]      wind speed, BCD, 0.1 m/s
//	msg[17]      wind direction in the high nibble, 22.5 degree steps
//	msg[20..21]  temperature, BCD, 0.1 C; a set high nibble of msg[20]
//	             marks a negative reading
//	msg[22]      relative humidity, BCD
//	msg[23..24]  rain counter, BCD, 0.1 mm
func newBresser5in1() Decoder {
	return Decoder{
		Name:       "Bresser-5in1",
		Modulation: demod.FSKPulsePCM,
		Timing: demod.Params{
			ShortWidth: 124,
			LongWidth:  124,
			ResetLimit: 25000,
			Tolerance:  60,
		},
		Fields: []string{"model", "id", "battery_ok", "temperature_C", "humidity",
			"wind_dir_deg", "wind_avg_m_s", "rain_mm", "mic"},
		Decode: decodeBresser5in1,
	}
}

var bresserPreamble = []byte{0xAA, 0x2D, 0xD4}

func decodeBresser5in1(ctx *Context, buf *bitbuffer.Buffer) Result {
	for row := 0; row < buf.NumRows(); row++ {
		if buf.RowBits(row) < 24+26*8 {
			continue
		}
		pos := buf.Search(row, 0, bresserPreamble, 24)
		if pos >= buf.RowBits(row) {
			continue
		}
		pos += 24
		if buf.RowBits(row)-pos < 26*8 {
			return DecodeAbortLength
		}

		var msg [26]byte
		buf.ExtractBytes(row, pos, msg[:], 26*8)

		for k := 0; k < 13; k++ {
			if msg[k]^msg[13+k] != 0xFF {
				ctx.Logf(1, "inverse-copy check failed at byte %d", k)
				return DecodeFailMIC
			}
		}

		tempRaw := int(msg[21]&0x0f) + int(msg[21]>>4)*10 + int(msg[20]&0x0f)*100
		temp := float64(tempRaw) / 10
		if msg[20]>>4 != 0 {
			temp = -temp
		}
		humidity := int(msg[22]>>4)*10 + int(msg[22]&0x0f)
		if humidity > 100 {
			return DecodeFailSanity
		}
		windRaw := int(msg[16]&0x0f) + int(msg[16]>>4)*10
		rainRaw := int(msg[24]&0x0f) + int(msg[24]>>4)*10 + int(msg[23]&0x0f)*100

		rec := datamodel.New().
			Str("model", "Bresser-5in1").
			Int("id", int(msg[14])).
			Int("battery_ok", boolInt(msg[15]&0x08 == 0)).
			Float("temperature_C", "%.1f C", temp).
			Int("humidity", humidity).
			Float("wind_dir_deg", "%.1f", float64(msg[17]>>4)*22.5).
			Float("wind_avg_m_s", "%.1f", float64(windRaw)/10).
			Float("rain_mm", "%.1f", float64(rainRaw)/10).
			Str("mic", "CHECKSUM")
		ctx.Output(rec)
		return 1
	}
	return DecodeAbortEarly
}

func boolInt(ok bool) int {
	if ok {
		return 1
	}
	return 0
}
