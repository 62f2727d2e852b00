// Package demod converts pulse packets into bit buffers, one slicer per
// modulation tag. Widths are matched against the canonical timings of the
// decoder being tried: a width w matches a canonical value c when
// |w-c| <= tolerance, and ties prefer the shorter canonical.
package demod

import (
	"fmt"

	"github.com/cwsl/ismdump/bitbuffer"
	"github.com/cwsl/ismdump/pulse"
)

// Modulation tags carry stable integer values for config compatibility.
type Modulation int

const (
	OOKPulseManchesterZeroBit Modulation = 3
	OOKPulsePCM               Modulation = 4 // RZ and NRZ
	OOKPulsePPM               Modulation = 5
	OOKPulsePWM               Modulation = 6
	OOKPulsePIWMRaw           Modulation = 8
	OOKPulseDMC               Modulation = 9
	OOKPulsePWMOSV1           Modulation = 10
	OOKPulsePIWMDC            Modulation = 11
	OOKPulseNRZS              Modulation = 12

	// FSKDemodMinVal separates the OOK tags from the FSK tags.
	FSKDemodMinVal Modulation = 16

	FSKPulsePCM               Modulation = 16
	FSKPulsePWM               Modulation = 17
	FSKPulseManchesterZeroBit Modulation = 18
)

// Class returns the pulse class the tag consumes.
func (m Modulation) Class() pulse.Class {
	if m >= FSKDemodMinVal {
		return pulse.ClassFSK
	}
	return pulse.ClassOOK
}

func (m Modulation) String() string {
	switch m {
	case OOKPulseManchesterZeroBit:
		return "OOK_PULSE_MANCHESTER_ZEROBIT"
	case OOKPulsePCM:
		return "OOK_PULSE_PCM"
	case OOKPulsePPM:
		return "OOK_PULSE_PPM"
	case OOKPulsePWM:
		return "OOK_PULSE_PWM"
	case OOKPulsePIWMRaw:
		return "OOK_PULSE_PIWM_RAW"
	case OOKPulseDMC:
		return "OOK_PULSE_DMC"
	case OOKPulsePWMOSV1:
		return "OOK_PULSE_PWM_OSV1"
	case OOKPulsePIWMDC:
		return "OOK_PULSE_PIWM_DC"
	case OOKPulseNRZS:
		return "OOK_PULSE_NRZS"
	case FSKPulsePCM:
		return "FSK_PULSE_PCM"
	case FSKPulsePWM:
		return "FSK_PULSE_PWM"
	case FSKPulseManchesterZeroBit:
		return "FSK_PULSE_MANCHESTER_ZEROBIT"
	}
	return fmt.Sprintf("Modulation(%d)", int(m))
}

// Params are the canonical pulse/gap timings of one decoder, all in
// microseconds. InvertBits flips the PWM, PPM, Manchester zero-bit, DMC and
// PIWM bit mapping; PCM and NRZS output is not affected.
type Params struct {
	ShortWidth float64
	LongWidth  float64
	SyncWidth  float64
	GapLimit   float64
	ResetLimit float64
	Tolerance  float64
	InvertBits bool
}

func (p Params) within(w, c float64) bool {
	if c <= 0 {
		return false
	}
	d := w - c
	if d < 0 {
		d = -d
	}
	return d <= p.Tolerance
}

func (p Params) bit(one bool) byte {
	if one != p.InvertBits {
		return 1
	}
	return 0
}

// Slice demodulates pkt into buf using the slicer for m. buf is cleared
// first; the caller re-runs Slice per decoder so in-place buffer mutations
// by one decoder can never leak into the next.
func Slice(m Modulation, p Params, pkt *pulse.Packet, buf *bitbuffer.Buffer) error {
	buf.Clear()
	switch m {
	case OOKPulsePCM, FSKPulsePCM:
		slicePCM(p, pkt, buf)
	case OOKPulsePWM, OOKPulsePWMOSV1, FSKPulsePWM:
		slicePWM(p, pkt, buf)
	case OOKPulsePPM:
		slicePPM(p, pkt, buf)
	case OOKPulseManchesterZeroBit, FSKPulseManchesterZeroBit:
		sliceManchesterZeroBit(p, pkt, buf)
	case OOKPulseDMC:
		sliceDMC(p, pkt, buf)
	case OOKPulsePIWMRaw, OOKPulsePIWMDC:
		slicePIWM(p, pkt, buf)
	case OOKPulseNRZS:
		slicePCM(p, pkt, buf)
		buf.NRZSDecode()
	default:
		return fmt.Errorf("demod: no slicer for %s", m)
	}
	return nil
}

// slicePCM run-length decodes pulses into ones and gaps into zeros. With
// ShortWidth == LongWidth the coding is NRZ; otherwise RZ, where every pulse
// starts one bit period of LongWidth and the pulse+gap span counts periods.
func slicePCM(p Params, pkt *pulse.Packet, buf *bitbuffer.Buffer) {
	nrz := p.ShortWidth == p.LongWidth
	for i := range pkt.Pulse {
		pw := float64(pkt.Pulse[i])
		gw := float64(pkt.Gap[i])
		reset := p.ResetLimit > 0 && gw >= p.ResetLimit
		if reset {
			gw = p.ResetLimit
		}
		if nrz {
			for n := int(pw/p.ShortWidth + 0.5); n > 0; n-- {
				buf.AddBit(1)
			}
			for n := int(gw/p.ShortWidth + 0.5); n > 0 && !reset; n-- {
				buf.AddBit(0)
			}
		} else {
			periods := int((pw+gw)/p.LongWidth + 0.5)
			buf.AddBit(1)
			for n := periods - 1; n > 0 && !reset; n-- {
				buf.AddBit(0)
			}
		}
		if reset {
			buf.AddRow()
		} else if p.GapLimit > 0 && float64(pkt.Gap[i]) >= p.GapLimit {
			buf.AddRow()
		}
	}
}

// slicePWM maps pulse widths to bits: short means 1 and long means 0 unless
// inverted. Sync-width pulses and gaps separate rows and are counted.
func slicePWM(p Params, pkt *pulse.Packet, buf *bitbuffer.Buffer) {
	for i := range pkt.Pulse {
		pw := float64(pkt.Pulse[i])
		gw := float64(pkt.Gap[i])
		switch {
		case p.within(pw, p.ShortWidth):
			buf.AddBit(p.bit(true))
		case p.within(pw, p.LongWidth):
			buf.AddBit(p.bit(false))
		case p.within(pw, p.SyncWidth):
			buf.AddSync()
		default:
			buf.AddRow()
		}
		switch {
		case p.ResetLimit > 0 && gw >= p.ResetLimit:
			buf.AddRow()
		case p.within(gw, p.SyncWidth):
			buf.AddSync()
		case p.GapLimit > 0 && gw >= p.GapLimit:
			buf.AddRow()
		}
	}
}

// slicePPM maps gap widths to bits: short means 0 and long means 1. The
// pulse is only the carrier.
func slicePPM(p Params, pkt *pulse.Packet, buf *bitbuffer.Buffer) {
	for i := range pkt.Pulse {
		gw := float64(pkt.Gap[i])
		switch {
		case p.within(gw, p.ShortWidth):
			buf.AddBit(p.bit(false))
		case p.within(gw, p.LongWidth):
			buf.AddBit(p.bit(true))
		case p.ResetLimit > 0 && gw >= p.ResetLimit:
			buf.AddRow()
		case p.within(gw, p.SyncWidth):
			buf.AddSync()
		default:
			buf.AddRow()
		}
	}
}

// halfUnits counts how many half-bit periods a width spans, 1 or 2, or 0
// when it matches neither.
func (p Params) halfUnits(w float64) int {
	if p.within(w, p.ShortWidth) {
		return 1
	}
	if p.within(w, 2*p.ShortWidth) {
		return 2
	}
	return 0
}

// sliceManchesterZeroBit decodes clocked Manchester with a hardcoded
// leading 0 bit per row: the rising edge into the first pulse is the mid-bit
// transition of that zero. Mid-bit transitions then encode the data, rising
// for 0 and falling for 1.
func sliceManchesterZeroBit(p Params, pkt *pulse.Packet, buf *bitbuffer.Buffer) {
	newRow := true
	halfpos := 0
	for i := range pkt.Pulse {
		pw := float64(pkt.Pulse[i])
		gw := float64(pkt.Gap[i])

		n := p.halfUnits(pw)
		if n == 0 {
			buf.AddRow()
			newRow, halfpos = true, 0
			continue
		}
		if newRow {
			buf.AddBit(p.bit(false))
			newRow, halfpos = false, 1
		}
		halfpos += n
		if halfpos&1 == 1 {
			// falling edge at mid-bit
			buf.AddBit(p.bit(true))
		}

		if (p.ResetLimit > 0 && gw >= p.ResetLimit) || p.halfUnits(gw) == 0 {
			buf.AddRow()
			newRow, halfpos = true, 0
			continue
		}
		halfpos += p.halfUnits(gw)
		if halfpos&1 == 1 {
			// rising edge at mid-bit
			buf.AddBit(p.bit(false))
		}
	}
}

// sliceDMC decodes differential Manchester: the cell boundaries carry the
// clock, a level shift inside the cell means 0 and none means 1. A missing
// boundary shift is clock loss and breaks the row.
func sliceDMC(p Params, pkt *pulse.Packet, buf *bitbuffer.Buffer) {
	pos := 0 // 0 at a cell boundary, 1 at mid-cell
	step := func(w float64, isGap bool) {
		if isGap && p.ResetLimit > 0 && w >= p.ResetLimit {
			buf.AddRow()
			pos = 0
			return
		}
		n := p.halfUnits(w)
		switch {
		case n == 0:
			buf.AddRow()
			pos = 0
		case pos == 0 && n == 2:
			buf.AddBit(p.bit(true))
		case pos == 0 && n == 1:
			pos = 1
		case pos == 1 && n == 1:
			buf.AddBit(p.bit(false))
			pos = 0
		default:
			// two halves from mid-cell: the boundary shift is missing
			buf.AddRow()
			pos = 0
		}
	}
	for i := range pkt.Pulse {
		step(float64(pkt.Pulse[i]), false)
		step(float64(pkt.Gap[i]), true)
	}
}

// slicePIWM maps every level interval to a bit, short for 1 and long for 0.
func slicePIWM(p Params, pkt *pulse.Packet, buf *bitbuffer.Buffer) {
	step := func(w float64, isGap bool) {
		switch {
		case p.within(w, p.ShortWidth):
			buf.AddBit(p.bit(true))
		case p.within(w, p.LongWidth):
			buf.AddBit(p.bit(false))
		case isGap && p.ResetLimit > 0 && w >= p.ResetLimit:
			buf.AddRow()
		case isGap && p.GapLimit > 0 && w >= p.GapLimit:
			buf.AddRow()
		default:
			buf.AddRow()
		}
	}
	for i := range pkt.Pulse {
		step(float64(pkt.Pulse[i]), false)
		step(float64(pkt.Gap[i]), true)
	}
}
