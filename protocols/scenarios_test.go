package protocols

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/ismdump/bitbuffer"
	"github.com/cwsl/ismdump/datamodel"
)

// decodeFixture runs one named decoder over a parsed fixture and returns
// the result plus the JSON of every emitted record.
func decodeFixture(t *testing.T, name, fixture string) (Result, []string) {
	t.Helper()
	buf, err := bitbuffer.Parse(fixture)
	require.NoError(t, err)
	return decodeBuffer(t, name, buf, time.Unix(1700000000, 0))
}

func decodeBuffer(t *testing.T, name string, buf *bitbuffer.Buffer, now time.Time) (Result, []string) {
	t.Helper()
	reg := Default()
	d, ok := reg.GetByName(name)
	require.True(t, ok, "decoder %s not registered", name)
	var out []string
	ctx := &Context{
		Protocol: d,
		Now:      now,
		Output: func(rec *datamodel.Record) {
			b, err := rec.MarshalJSON()
			require.NoError(t, err)
			out = append(out, string(b))
		},
		Data: d.ContextData,
	}
	return d.Decode(ctx, buf), out
}

func TestScenarioEcowittWH53(t *testing.T) {
	row := "{55}FEA6FF525A2380"
	res, out := decodeFixture(t, "Ecowitt-WH53", row+" / "+row+" / "+row)
	require.Equal(t, Result(1), res)
	require.Len(t, out, 1)
	assert.Equal(t,
		`{"model":"Ecowitt-WH53","id":166,"channel":2,"battery_ok":1,"temperature_C":-9.2,"mic":"CRC"}`,
		out[0])
}

func TestScenarioEcowittWH53BadCRC(t *testing.T) {
	row := "{55}FEA6FF525A2382"
	res, out := decodeFixture(t, "Ecowitt-WH53", row+" / "+row)
	assert.Equal(t, DecodeFailMIC, res)
	assert.Empty(t, out)
}

func TestScenarioBresser5in1(t *testing.T) {
	res, out := decodeFixture(t, "Bresser-5in1",
		"{248}AAAAAA2DD4FF93FFFF7FFFFFFFF7BFFFFFFF006C0000800000000840000000")
	require.Equal(t, Result(1), res)
	require.Len(t, out, 1)
	assert.Equal(t,
		`{"model":"Bresser-5in1","id":108,"battery_ok":1,"temperature_C":0.8,"humidity":40,"wind_dir_deg":180,"wind_avg_m_s":0,"rain_mm":0,"mic":"CHECKSUM"}`,
		out[0])
}

func TestScenarioBresser5in1CorruptCopy(t *testing.T) {
	// flip one bit of the inverted half
	res, out := decodeFixture(t, "Bresser-5in1",
		"{248}AAAAAA2DD4FF92FFFF7FFFFFFFF7BFFFFFFF006C0000800000000840000000")
	assert.Equal(t, DecodeFailMIC, res)
	assert.Empty(t, out)
}

func TestScenarioGTWT02(t *testing.T) {
	row := "{37}3400ED4760"
	res, out := decodeFixture(t, "GT-WT-02", row+" / "+row+" / "+row)
	require.Equal(t, Result(1), res)
	require.Len(t, out, 1)
	assert.Equal(t,
		`{"model":"GT-WT-02","id":52,"channel":1,"battery_ok":1,"button":0,"temperature_C":23.7,"humidity":35,"mic":"CHECKSUM"}`,
		out[0])
}

func TestScenarioLaCrosseTX141(t *testing.T) {
	row := "{40}2B02CB3A66"
	res, out := decodeFixture(t, "LaCrosse-TX141THBv2", row+" / "+row)
	require.Equal(t, Result(1), res)
	require.Len(t, out, 1)
	assert.Equal(t,
		`{"model":"LaCrosse-TX141THBv2","id":43,"channel":1,"battery_ok":1,"test":0,"temperature_C":21.5,"humidity":58,"mic":"CRC"}`,
		out[0])
}

func TestScenarioLaCrosseTX141BadDigest(t *testing.T) {
	row := "{40}2B02CB3A67"
	res, _ := decodeFixture(t, "LaCrosse-TX141THBv2", row+" / "+row)
	assert.Equal(t, DecodeFailMIC, res)
}

func TestScenarioMegacode(t *testing.T) {
	res, out := decodeFixture(t, "Megacode",
		"{148}0900900900820900900904020904104100820")
	require.Equal(t, Result(1), res)
	require.Len(t, out, 1)
	assert.Equal(t, `{"model":"Megacode","id":30000,"facility":5,"button":3}`, out[0])
}

func TestScenarioMegacodeDoubleBurst(t *testing.T) {
	// a window with two bursts is not a Megacode frame
	res, _ := decodeFixture(t, "Megacode",
		"{148}4900900900820900900904020904104100820")
	assert.Equal(t, DecodeFailSanity, res)
}

func TestScenarioCavius(t *testing.T) {
	res, out := decodeFixture(t, "Cavius-Security",
		"{128}AA436176690012AF3C01204E00C0FFEE")
	require.Equal(t, Result(1), res)
	require.Len(t, out, 1)
	assert.Equal(t,
		`{"model":"Cavius-Security","id":12648430,"net_id":1224508,"battery_ok":1,"alarm":1,"mic":"CRC"}`,
		out[0])
}

func TestScenarioCaviusBadCRC(t *testing.T) {
	res, _ := decodeFixture(t, "Cavius-Security",
		"{128}AA436176690012AF3C01214E00C0FFEE")
	assert.Equal(t, DecodeFailMIC, res)
}

func TestSecplusV1HalfReassembly(t *testing.T) {
	reg := Default()
	d, ok := reg.GetByName("Secplus-v1")
	require.True(t, ok)

	var out []string
	run := func(fixture string, now time.Time) Result {
		buf, err := bitbuffer.Parse(fixture)
		require.NoError(t, err)
		ctx := &Context{
			Protocol: d,
			Now:      now,
			Output: func(rec *datamodel.Record) {
				b, _ := rec.MarshalJSON()
				out = append(out, string(b))
			},
			Data: d.ContextData,
		}
		return d.Decode(ctx, buf)
	}

	base := time.Unix(1700000000, 0)
	// first half alone does not emit
	assert.Equal(t, DecodeAbortEarly, run("{19}697C0", base))
	assert.Empty(t, out)
	// matching second half within the expiry completes the code
	require.Equal(t, Result(1), run("{19}83D68", base.Add(300*time.Millisecond)))
	require.Len(t, out, 1)
	assert.Equal(t,
		`{"model":"Secplus-v1","id":679680,"button":10,"rolling":2783973210,"mic":"PARITY"}`,
		out[0])

	// a stale first half expires
	out = nil
	assert.Equal(t, DecodeAbortEarly, run("{19}697C0", base))
	assert.Equal(t, DecodeAbortEarly, run("{19}83D68", base.Add(900*time.Millisecond)))
	assert.Empty(t, out)
}

func TestOregonV1(t *testing.T) {
	var buf bitbuffer.Buffer
	for i := 0; i < 6; i++ {
		buf.AddSync()
	}
	for _, b := range []byte{0x8A, 0x42, 0x46, 0x12} {
		for i := 7; i >= 0; i-- {
			buf.AddBit(b >> uint(i) & 1)
		}
	}
	res, out := decodeBuffer(t, "Oregon-v1", &buf, time.Unix(1700000000, 0))
	require.Equal(t, Result(1), res)
	require.Len(t, out, 1)
	assert.Equal(t,
		`{"model":"Oregon-v1","id":138,"channel":2,"battery_ok":1,"temperature_C":24.6,"mic":"CHECKSUM"}`,
		out[0])
}

func TestMistralSE(t *testing.T) {
	res, out := decodeFixture(t, "Mistral-SE", "{32}D34E2128")
	require.Equal(t, Result(1), res)
	require.Len(t, out, 1)
	assert.Equal(t, `{"model":"Mistral-SE","id":20001,"button":2,"mic":"CRC"}`, out[0])
}

func TestDecodersTolerateShortBuffers(t *testing.T) {
	reg := Default()
	buf, err := bitbuffer.Parse("{8}FF")
	require.NoError(t, err)
	for _, d := range reg.Decoders() {
		ctx := &Context{
			Protocol: d,
			Now:      time.Unix(1700000000, 0),
			Output:   func(*datamodel.Record) { t.Fatalf("%s emitted on junk", d.Name) },
			Data:     d.ContextData,
		}
		res := d.Decode(ctx, buf)
		assert.LessOrEqual(t, res, Result(0), "%s", d.Name)
	}
}
