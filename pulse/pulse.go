// Package pulse turns sample chunks into pulse packets: bounded lists of
// alternating mark and space durations with capture metadata. An OOK
// detector tracks signal magnitude against an adaptive noise floor with
// two-threshold hysteresis; an FSK discriminator slices the instantaneous
// frequency of the carrier into mark and space the same way. A packet is
// flushed when a gap outlasts the largest reset limit of any enabled
// decoder.
package pulse

import (
	"math"
	"math/cmplx"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Class is the modulation class of a packet.
type Class int

const (
	ClassOOK Class = iota
	ClassFSK
)

func (c Class) String() string {
	if c == ClassFSK {
		return "FSK"
	}
	return "OOK"
}

// MaxPulses bounds the pulse count of a single packet.
const MaxPulses = 1200

// Packet is the quantum the dispatch loop operates on: Gap[i] is the silence
// following Pulse[i], both in microseconds.
type Packet struct {
	Class      Class
	Start      time.Time
	SampleRate int
	CenterFreq uint32
	RSSI       float64 // dB relative to full scale
	SNR        float64 // dB above the noise floor
	Pulse      []int
	Gap        []int
}

// Bin is one pulse-width cluster of a packet histogram.
type Bin struct {
	Mean  float64
	Count int
}

// Histogram clusters the packet's pulse widths for diagnostics. Widths
// within 25% of the running cluster mean share a bin.
func (p *Packet) Histogram() []Bin {
	return histogram(p.Pulse)
}

// GapHistogram clusters the gap widths the same way.
func (p *Packet) GapHistogram() []Bin {
	return histogram(p.Gap)
}

func histogram(widths []int) []Bin {
	var bins []Bin
	var members [][]float64
	for _, w := range widths {
		placed := false
		for i := range bins {
			if math.Abs(float64(w)-bins[i].Mean) <= bins[i].Mean/4 {
				members[i] = append(members[i], float64(w))
				bins[i].Mean = stat.Mean(members[i], nil)
				bins[i].Count++
				placed = true
				break
			}
		}
		if !placed {
			bins = append(bins, Bin{Mean: float64(w), Count: 1})
			members = append(members, []float64{float64(w)})
		}
	}
	return bins
}

// Config parameterizes an extractor. ResetLimitUS is the largest reset limit
// among the enabled decoders; GlitchUS absorbs pulses shorter than half the
// smallest short width.
type Config struct {
	SampleRate   int
	CenterFreq   uint32
	ResetLimitUS int
	GlitchUS     int
}

type detectState int

const (
	stateGap detectState = iota
	statePulse
)

// Extractor runs the level-crossing detectors over a sample stream and emits
// finished packets through a callback. It is owned by the input goroutine.
type Extractor struct {
	cfg  Config
	emit func(*Packet)

	// OOK detector
	state        detectState
	noise        float64 // EWMA of gap magnitude
	peak         float64
	runLen       int // samples in the current pulse or gap
	ook          *Packet
	pendingPulse int // samples, set while waiting out the following gap

	// noise floor recalibration window
	magWindow []float64

	// FSK discriminator, active inside OOK pulses
	prevSample complex128
	fsk        *Packet
	fskCenter  float64
	fskState   detectState
	fskRun     int
	fskPending int

	clock func() time.Time
}

// NewExtractor returns an extractor feeding finished packets to emit.
func NewExtractor(cfg Config, emit func(*Packet)) *Extractor {
	if cfg.ResetLimitUS <= 0 {
		cfg.ResetLimitUS = 10000
	}
	return &Extractor{
		cfg:   cfg,
		emit:  emit,
		noise: 1e-4,
		clock: time.Now,
	}
}

func (e *Extractor) toUS(samples int) int {
	return int(int64(samples) * 1e6 / int64(e.cfg.SampleRate))
}

func (e *Extractor) toSamples(us int) int {
	return int(int64(us) * int64(e.cfg.SampleRate) / 1e6)
}

// Process consumes one chunk of complex baseband samples.
func (e *Extractor) Process(samples []complex128) {
	hi := e.noise * 4
	lo := e.noise * 2
	for _, s := range samples {
		m := cmplx.Abs(s)
		e.magWindow = append(e.magWindow, m)
		switch e.state {
		case stateGap:
			// adapt the floor only while quiet so pulses do not drag it up
			e.noise += (m - e.noise) / 1024
			if m > hi {
				e.startPulse()
			} else {
				e.runLen++
				if e.ook != nil && e.runLen > e.toSamples(e.cfg.ResetLimitUS) {
					e.closeGap()
					e.flush()
				}
			}
		case statePulse:
			if m > e.peak {
				e.peak = m
			}
			e.discriminate(s)
			if m < lo {
				e.endPulse()
			} else {
				e.runLen++
			}
		}
		e.prevSample = s
		if len(e.magWindow) >= 16384 {
			e.recalibrate()
		}
	}
}

// recalibrate re-seats the noise floor on the 10th percentile of recent
// magnitudes so a drifting gain setting cannot strand the thresholds.
func (e *Extractor) recalibrate() {
	w := e.magWindow
	e.magWindow = e.magWindow[:0]
	if e.state != stateGap {
		return
	}
	sort.Float64s(w)
	q := stat.Quantile(0.1, stat.Empirical, w, nil)
	if q > 0 {
		e.noise = q
	}
}

func (e *Extractor) startPulse() {
	gapSamples := e.runLen
	if e.ook != nil && e.pendingPulse > 0 {
		// a too-short gap merges the surrounding pulses
		if e.cfg.GlitchUS > 0 && e.toUS(gapSamples) < e.cfg.GlitchUS {
			e.state = statePulse
			e.runLen = e.pendingPulse + gapSamples + 1
			e.pendingPulse = 0
			return
		}
		e.commitPair(e.pendingPulse, gapSamples)
		e.pendingPulse = 0
	}
	e.state = statePulse
	e.runLen = 1
	if e.ook == nil {
		e.ook = &Packet{
			Class:      ClassOOK,
			Start:      e.clock(),
			SampleRate: e.cfg.SampleRate,
			CenterFreq: e.cfg.CenterFreq,
		}
		e.fsk = &Packet{
			Class:      ClassFSK,
			Start:      e.ook.Start,
			SampleRate: e.cfg.SampleRate,
			CenterFreq: e.cfg.CenterFreq,
		}
		e.fskState = stateGap
		e.fskCenter = 0
	}
}

func (e *Extractor) endPulse() {
	e.fskBreak()
	e.pendingPulse = e.runLen
	e.state = stateGap
	e.runLen = 0
}

func (e *Extractor) closeGap() {
	if e.pendingPulse > 0 {
		e.commitPair(e.pendingPulse, e.runLen)
		e.pendingPulse = 0
	}
}

func (e *Extractor) commitPair(pulseSamples, gapSamples int) {
	// absorb runt pulses into the surrounding gap
	if e.cfg.GlitchUS > 0 && e.toUS(pulseSamples) < e.cfg.GlitchUS {
		if n := len(e.ook.Gap); n > 0 {
			e.ook.Gap[n-1] += e.toUS(pulseSamples + gapSamples)
		}
		return
	}
	if len(e.ook.Pulse) < MaxPulses {
		e.ook.Pulse = append(e.ook.Pulse, e.toUS(pulseSamples))
		e.ook.Gap = append(e.ook.Gap, e.toUS(gapSamples))
	}
}

// discriminate runs the FM detector on one in-pulse sample and slices the
// frequency sign into FSK mark/space runs.
func (e *Extractor) discriminate(s complex128) {
	if e.prevSample == 0 {
		return
	}
	f := cmplx.Phase(s * cmplx.Conj(e.prevSample))
	if e.fskCenter == 0 {
		e.fskCenter = f
	}
	e.fskCenter += (f - e.fskCenter) / 256
	// hysteresis around the tracked center
	hyst := 0.05
	mark := e.fskState == statePulse
	if f > e.fskCenter+hyst {
		mark = true
	} else if f < e.fskCenter-hyst {
		mark = false
	}
	if mark == (e.fskState == statePulse) {
		e.fskRun++
		return
	}
	if e.fskState == statePulse {
		e.fskPending = e.fskRun
	} else if e.fskPending > 0 && len(e.fsk.Pulse) < MaxPulses {
		e.fsk.Pulse = append(e.fsk.Pulse, e.toUS(e.fskPending))
		e.fsk.Gap = append(e.fsk.Gap, e.toUS(e.fskRun))
		e.fskPending = 0
	}
	if mark {
		e.fskState = statePulse
	} else {
		e.fskState = stateGap
	}
	e.fskRun = 1
}

// fskBreak terminates the current FSK run at an OOK pulse edge.
func (e *Extractor) fskBreak() {
	if e.fskPending > 0 && len(e.fsk.Pulse) < MaxPulses {
		e.fsk.Pulse = append(e.fsk.Pulse, e.toUS(e.fskPending))
		e.fsk.Gap = append(e.fsk.Gap, e.toUS(e.fskRun))
	} else if e.fskState == statePulse && e.fskRun > 0 && len(e.fsk.Pulse) < MaxPulses {
		e.fsk.Pulse = append(e.fsk.Pulse, e.toUS(e.fskRun))
		e.fsk.Gap = append(e.fsk.Gap, 0)
	}
	e.fskPending = 0
	e.fskRun = 0
	e.fskState = stateGap
	e.fskCenter = 0
}

// Flush closes the packet in progress, e.g. at end of input or shutdown.
func (e *Extractor) Flush() {
	if e.state == statePulse {
		e.endPulse()
	}
	e.closeGap()
	e.flush()
}

func (e *Extractor) flush() {
	ook, fsk := e.ook, e.fsk
	e.ook, e.fsk = nil, nil
	e.state = stateGap
	e.runLen = 0
	e.pendingPulse = 0
	if ook == nil {
		return
	}
	snr := 0.0
	if e.noise > 0 && e.peak > 0 {
		snr = 20 * math.Log10(e.peak/e.noise)
	}
	rssi := -120.0
	if e.peak > 0 {
		rssi = 20 * math.Log10(e.peak)
	}
	e.peak = 0
	if len(ook.Pulse) > 0 {
		ook.RSSI, ook.SNR = rssi, snr
		e.emit(ook)
	}
	// only hand on an FSK packet when the discriminator saw real mark/space
	// structure, otherwise every OOK burst doubles up
	if fsk != nil && len(fsk.Pulse) >= 4 {
		fsk.RSSI, fsk.SNR = rssi, snr
		e.emit(fsk)
	}
}
