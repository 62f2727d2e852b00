package pulse

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestOOKDetection(t *testing.T) {
	var got []*Packet
	e := NewExtractor(Config{
		SampleRate:   250000,
		CenterFreq:   433920000,
		ResetLimitUS: 2000,
	}, func(p *Packet) { got = append(got, p) })

	samples := make([]complex128, 0, 4096)
	quiet := func(n int) {
		for i := 0; i < n; i++ {
			samples = append(samples, 0)
		}
	}
	burst := func(n int) {
		for i := 0; i < n; i++ {
			samples = append(samples, complex(0.5, 0))
		}
	}
	quiet(200)
	burst(250) // 1000 us
	quiet(125) // 500 us gap
	burst(125) // 500 us
	quiet(1000) // beyond the reset limit

	e.Process(samples)
	e.Flush()

	require.NotEmpty(t, got)
	pkt := got[0]
	assert.Equal(t, ClassOOK, pkt.Class)
	require.Len(t, pkt.Pulse, 2)
	assert.InDelta(t, 1000, pkt.Pulse[0], 30)
	assert.InDelta(t, 500, pkt.Gap[0], 30)
	assert.InDelta(t, 500, pkt.Pulse[1], 30)
	assert.Greater(t, pkt.SNR, 20.0)
	assert.Equal(t, 250000, pkt.SampleRate)
	assert.Equal(t, uint32(433920000), pkt.CenterFreq)
}

func TestGlitchAbsorption(t *testing.T) {
	var got []*Packet
	e := NewExtractor(Config{
		SampleRate:   250000,
		ResetLimitUS: 2000,
		GlitchUS:     100,
	}, func(p *Packet) { got = append(got, p) })

	samples := make([]complex128, 0, 2048)
	add := func(level complex128, n int) {
		for i := 0; i < n; i++ {
			samples = append(samples, level)
		}
	}
	add(0, 200)
	add(0.5, 125) // 500 us pulse
	add(0, 100)   // 400 us gap
	add(0.5, 10)  // 40 us runt, absorbed into the gap
	add(0, 100)   // 400 us more gap
	add(0.5, 125) // 500 us pulse
	add(0, 1000)

	e.Process(samples)
	e.Flush()

	require.NotEmpty(t, got)
	pkt := got[0]
	require.Len(t, pkt.Pulse, 2)
	// the surrounding gap swallows the runt: ~400+40+400 us
	assert.InDelta(t, 840, pkt.Gap[0], 40)
}

func TestFSKDiscrimination(t *testing.T) {
	var got []*Packet
	e := NewExtractor(Config{
		SampleRate:   250000,
		ResetLimitUS: 2000,
	}, func(p *Packet) { got = append(got, p) })

	samples := make([]complex128, 0, 4096)
	for i := 0; i < 200; i++ {
		samples = append(samples, 0)
	}
	// one long OOK burst whose carrier alternates between +0.4 and -0.4
	// rad/sample every 64 samples: mark/space structure for the FSK path
	phase := 0.0
	for seg := 0; seg < 16; seg++ {
		step := 0.4
		if seg%2 == 1 {
			step = -0.4
		}
		for i := 0; i < 64; i++ {
			phase += step
			samples = append(samples, cmplx.Rect(0.5, phase))
		}
	}
	for i := 0; i < 1000; i++ {
		samples = append(samples, 0)
	}

	e.Process(samples)
	e.Flush()

	var fsk *Packet
	for _, p := range got {
		if p.Class == ClassFSK {
			fsk = p
		}
	}
	require.NotNil(t, fsk, "no FSK packet emitted")
	assert.GreaterOrEqual(t, len(fsk.Pulse), 6)
	// segments are 64 samples = 256 us
	assert.InDelta(t, 256, float64(fsk.Pulse[1]), 120)
}

func TestHistogram(t *testing.T) {
	p := &Packet{Pulse: []int{500, 510, 490, 1480, 1500, 500}}
	bins := p.Histogram()
	require.Len(t, bins, 2)
	assert.Equal(t, 4, bins[0].Count)
	assert.InDelta(t, 500, bins[0].Mean, 10)
	assert.Equal(t, 2, bins[1].Count)
	assert.InDelta(t, 1490, bins[1].Mean, 10)
}

func TestPropExtractorNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := 0
		e := NewExtractor(Config{
			SampleRate:   250000,
			ResetLimitUS: rapid.IntRange(100, 5000).Draw(t, "reset"),
			GlitchUS:     rapid.IntRange(0, 200).Draw(t, "glitch"),
		}, func(p *Packet) {
			count++
			// bounded output
			if len(p.Pulse) > MaxPulses {
				t.Fatalf("packet exceeds MaxPulses")
			}
		})
		n := rapid.IntRange(0, 4000).Draw(t, "samples")
		samples := make([]complex128, n)
		for i := range samples {
			amp := rapid.Float64Range(0, 1).Draw(t, "amp")
			ph := rapid.Float64Range(-math.Pi, math.Pi).Draw(t, "ph")
			samples[i] = cmplx.Rect(amp, ph)
		}
		e.Process(samples)
		e.Flush()
	})
}
