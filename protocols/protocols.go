// Package protocols holds the decoder registry and the device decoders. A
// decoder is registered once at startup, receives a stable protocol number,
// and is invoked by the dispatch loop with a freshly demodulated bit buffer
// per pulse packet.
package protocols

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/cwsl/ismdump/bitbuffer"
	"github.com/cwsl/ismdump/datamodel"
	"github.com/cwsl/ismdump/demod"
	"github.com/cwsl/ismdump/pulse"
)

// Result is what a decode function returns: a positive event count or one of
// the failure codes below (DecodeFailOther is zero, the rest are negative).
type Result int

const (
	DecodeFailOther   Result = 0
	DecodeAbortLength Result = -1
	DecodeAbortEarly  Result = -2
	DecodeFailMIC     Result = -3
	DecodeFailSanity  Result = -4
)

func (r Result) String() string {
	switch {
	case r > 0:
		return fmt.Sprintf("events(%d)", int(r))
	case r == DecodeAbortLength:
		return "abort_length"
	case r == DecodeAbortEarly:
		return "abort_early"
	case r == DecodeFailMIC:
		return "fail_mic"
	case r == DecodeFailSanity:
		return "fail_sanity"
	}
	return "fail_other"
}

// Context is handed to every decode call. Output forwards a finished record
// to the sinks; Data is the decoder's own context object, owned by the
// registry (used e.g. for rolling-code half reassembly). Now is the packet
// timestamp, so caches with an expiry never read the wall clock themselves.
type Context struct {
	Protocol  *Registered
	Verbosity int
	Now       time.Time
	Output    func(*datamodel.Record)
	Data      any
}

// Logf writes a log line when the configured verbosity is at least level.
func (c *Context) Logf(level int, format string, args ...any) {
	if c.Verbosity >= level {
		log.Printf("%s: %s", c.Protocol.Name, fmt.Sprintf(format, args...))
	}
}

// DecodeFunc inspects a bit buffer and either emits records through the
// context or returns a failure code. It must not retain the buffer.
type DecodeFunc func(ctx *Context, buf *bitbuffer.Buffer) Result

// Decoder is the immutable description of one protocol.
type Decoder struct {
	Name            string
	Modulation      demod.Modulation
	Timing          demod.Params
	Priority        int
	DefaultDisabled bool
	Fields          []string
	NewContextData  func() any
	Decode          DecodeFunc
}

// Stats are the per-decoder counters, updated only by the dispatch thread.
type Stats struct {
	Events      uint64
	OK          uint64
	Messages    uint64
	AbortEarly  uint64
	AbortLength uint64
	FailMIC     uint64
	FailSanity  uint64
	FailOther   uint64
}

// Count records one decode attempt and its outcome r. A successful decode
// counts once in OK and adds its positive event count r to Messages.
func (s *Stats) Count(r Result) {
	s.Events++
	switch {
	case r > 0:
		s.OK++
		s.Messages += uint64(r)
	case r == DecodeAbortEarly:
		s.AbortEarly++
	case r == DecodeAbortLength:
		s.AbortLength++
	case r == DecodeFailMIC:
		s.FailMIC++
	case r == DecodeFailSanity:
		s.FailSanity++
	default:
		s.FailOther++
	}
}

// Registered is a decoder installed in a registry.
type Registered struct {
	Decoder
	Num         int
	Enabled     bool
	Stats       Stats
	ContextData any
}

// Registry is the ordered set of registered decoders. Registration is
// append-only and the set is immutable after startup; enable flags and
// statistics are only touched by the dispatch thread.
type Registry struct {
	list   []*Registered
	byName map[string]*Registered
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Registered)}
}

// Register appends a decoder and assigns the next protocol number.
func (r *Registry) Register(d Decoder) *Registered {
	reg := &Registered{
		Decoder: d,
		Num:     len(r.list) + 1,
		Enabled: !d.DefaultDisabled,
	}
	if d.NewContextData != nil {
		reg.ContextData = d.NewContextData()
	}
	r.list = append(r.list, reg)
	r.byName[d.Name] = reg
	return reg
}

// Decoders returns all registered decoders in protocol-number order.
func (r *Registry) Decoders() []*Registered {
	return r.list
}

// Get returns the decoder with the given protocol number.
func (r *Registry) Get(num int) (*Registered, bool) {
	if num < 1 || num > len(r.list) {
		return nil, false
	}
	return r.list[num-1], true
}

// GetByName returns the decoder with the given name.
func (r *Registry) GetByName(name string) (*Registered, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// SetEnabled flips one decoder by protocol number.
func (r *Registry) SetEnabled(num int, enabled bool) error {
	d, ok := r.Get(num)
	if !ok {
		return fmt.Errorf("protocols: no protocol %d", num)
	}
	d.Enabled = enabled
	return nil
}

// SetEnabledByName flips one decoder by name.
func (r *Registry) SetEnabledByName(name string, enabled bool) error {
	d, ok := r.GetByName(name)
	if !ok {
		return fmt.Errorf("protocols: no protocol %q", name)
	}
	d.Enabled = enabled
	return nil
}

// ForClass returns the enabled decoders whose modulation belongs to the
// given pulse class, sorted by (priority asc, protocol number asc) so the
// dispatch order is deterministic.
func (r *Registry) ForClass(c pulse.Class) []*Registered {
	var out []*Registered
	for _, d := range r.list {
		if d.Enabled && d.Modulation.Class() == c {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Num < out[j].Num
	})
	return out
}

// MaxResetUS returns the largest reset limit over the enabled decoders; the
// pulse extractor uses it as the packet boundary.
func (r *Registry) MaxResetUS() int {
	maxReset := 0
	for _, d := range r.list {
		if d.Enabled && int(d.Timing.ResetLimit) > maxReset {
			maxReset = int(d.Timing.ResetLimit)
		}
	}
	return maxReset
}

// MinShortUS returns the smallest short width over the enabled decoders;
// half of it seeds the extractor's glitch filter.
func (r *Registry) MinShortUS() int {
	minShort := 0
	for _, d := range r.list {
		if d.Enabled && d.Timing.ShortWidth > 0 {
			if minShort == 0 || int(d.Timing.ShortWidth) < minShort {
				minShort = int(d.Timing.ShortWidth)
			}
		}
	}
	return minShort
}

// Default builds a registry with every built-in decoder in its stable
// registration order. Protocol numbers are assigned by this order and must
// not change between releases.
func Default() *Registry {
	r := NewRegistry()
	r.Register(newEcowittWH53())
	r.Register(newBresser5in1())
	r.Register(newGTWT02())
	r.Register(newLaCrosseTX141x())
	r.Register(newMegacode())
	r.Register(newCavius())
	r.Register(newSecplusV1())
	r.Register(newOregonV1())
	r.Register(newMistralSE())
	return r
}
