package protocols

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cwsl/ismdump/bitbuffer"
	"github.com/cwsl/ismdump/datamodel"
	"github.com/cwsl/ismdump/pulse"
)

func TestStableProtocolNumbers(t *testing.T) {
	reg := Default()
	names := []string{}
	for i, d := range reg.Decoders() {
		assert.Equal(t, i+1, d.Num)
		names = append(names, d.Name)
	}
	// registration order is the stable numbering; never reorder
	assert.Equal(t, []string{
		"Ecowitt-WH53", "Bresser-5in1", "GT-WT-02", "LaCrosse-TX141THBv2",
		"Megacode", "Cavius-Security", "Secplus-v1", "Oregon-v1", "Mistral-SE",
	}, names)
}

func TestEnableDisable(t *testing.T) {
	reg := Default()
	require.NoError(t, reg.SetEnabledByName("Megacode", false))
	d, _ := reg.GetByName("Megacode")
	assert.False(t, d.Enabled)
	require.NoError(t, reg.SetEnabled(d.Num, true))
	assert.True(t, d.Enabled)

	assert.Error(t, reg.SetEnabled(0, true))
	assert.Error(t, reg.SetEnabled(1000, true))
	assert.Error(t, reg.SetEnabledByName("nope", true))
}

func TestForClassOrdering(t *testing.T) {
	reg := Default()
	ook := reg.ForClass(pulse.ClassOOK)
	require.NotEmpty(t, ook)
	for i := 1; i < len(ook); i++ {
		prev, cur := ook[i-1], ook[i]
		ordered := prev.Priority < cur.Priority ||
			(prev.Priority == cur.Priority && prev.Num < cur.Num)
		assert.True(t, ordered, "%s before %s", prev.Name, cur.Name)
		assert.Equal(t, pulse.ClassOOK, cur.Modulation.Class())
	}
	// the false-positive-prone PCM decoder runs in a later tier
	mega, _ := reg.GetByName("Megacode")
	assert.Equal(t, mega, ook[len(ook)-1])

	fsk := reg.ForClass(pulse.ClassFSK)
	for _, d := range fsk {
		assert.Equal(t, pulse.ClassFSK, d.Modulation.Class())
	}
}

func TestTimingAggregates(t *testing.T) {
	reg := Default()
	assert.Equal(t, 25000, reg.MaxResetUS())
	assert.Equal(t, 104, reg.MinShortUS())

	for _, d := range reg.Decoders() {
		d.Enabled = false
	}
	assert.Equal(t, 0, reg.MaxResetUS())
	assert.Equal(t, 0, reg.MinShortUS())
}

func TestStatsCounting(t *testing.T) {
	var s Stats
	s.Count(3)
	s.Count(DecodeAbortEarly)
	s.Count(DecodeAbortLength)
	s.Count(DecodeFailMIC)
	s.Count(DecodeFailSanity)
	s.Count(DecodeFailOther)
	assert.Equal(t, uint64(6), s.Events)
	assert.Equal(t, uint64(1), s.OK)
	assert.Equal(t, uint64(3), s.Messages)
	assert.Equal(t, uint64(1), s.AbortEarly)
	assert.Equal(t, uint64(1), s.AbortLength)
	assert.Equal(t, uint64(1), s.FailMIC)
	assert.Equal(t, uint64(1), s.FailSanity)
	assert.Equal(t, uint64(1), s.FailOther)
}

// Every decoder must return either events or one of the named codes and
// never panic, for any buffer contents; emitted field names follow the
// conventions (lowercase start, word characters and unit suffixes).
func TestPropDecodersTotalAndWellNamed(t *testing.T) {
	fieldRe := regexp.MustCompile(`^[a-z][a-zA-Z0-9_]*$`)
	reg := Default()
	rapid.Check(t, func(t *rapid.T) {
		var buf bitbuffer.Buffer
		rows := rapid.IntRange(1, 4).Draw(t, "rows")
		for r := 0; r < rows; r++ {
			if r > 0 {
				buf.AddRow()
			}
			n := rapid.IntRange(0, 300).Draw(t, "bits")
			for i := 0; i < n; i++ {
				buf.AddBit(byte(rapid.IntRange(0, 1).Draw(t, "bit")))
			}
		}
		for _, d := range reg.Decoders() {
			ctx := &Context{
				Protocol: d,
				Now:      time.Unix(1700000000, 0),
				Output: func(rec *datamodel.Record) {
					for _, f := range rec.Fields() {
						if !fieldRe.MatchString(f.Key) {
							t.Fatalf("%s: bad field name %q", d.Name, f.Key)
						}
					}
				},
				Data: d.ContextData,
			}
			res := d.Decode(ctx, &buf)
			switch {
			case res > 0:
			case res == DecodeFailOther, res == DecodeAbortLength,
				res == DecodeAbortEarly, res == DecodeFailMIC, res == DecodeFailSanity:
			default:
				t.Fatalf("%s returned unknown code %d", d.Name, res)
			}
		}
	})
}
