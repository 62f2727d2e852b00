package main

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwsl/ismdump/bitbuffer"
	"github.com/cwsl/ismdump/datamodel"
	"github.com/cwsl/ismdump/demod"
	"github.com/cwsl/ismdump/protocols"
	"github.com/cwsl/ismdump/pulse"
)

// Global verbosity level: 0 events only, 1 MIC/sanity failures, 2 aborts
// and bit-buffer dumps, 3 demodulator traces
var Verbosity int

func verbose(level int) bool {
	return Verbosity >= level
}

// Event is one decoded transmission on its way to the sinks.
type Event struct {
	Time     time.Time
	Protocol *protocols.Registered
	Record   *datamodel.Record
}

// dropQueue is a bounded single-producer/single-consumer queue that drops
// the oldest element instead of blocking the producer.
type dropQueue[T any] struct {
	ch      chan T
	dropped atomic.Uint64
}

func newDropQueue[T any](depth int) *dropQueue[T] {
	return &dropQueue[T]{ch: make(chan T, depth)}
}

func (q *dropQueue[T]) push(v T) {
	for {
		select {
		case q.ch <- v:
			return
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// Pipeline owns the dispatch loop and the sink fan-out. The pulse extractor
// feeds packets in from the input goroutine; decoded records leave through a
// second queue consumed by the sink goroutine.
type Pipeline struct {
	cfg      *Config
	registry *protocols.Registry
	metrics  *Metrics
	sinks    []Sink

	packets *dropQueue[*pulse.Packet]
	records *dropQueue[*Event]
	control chan func()

	// level metadata of the packet being dispatched
	curRSSI, curSNR float64

	packetCount  uint64
	eventCount   uint64
	skipToPrio   bool
	reportMeta   MetaConfig
	reportMetaMu sync.RWMutex

	wg sync.WaitGroup
}

// NewPipeline wires the registry and sinks together.
func NewPipeline(cfg *Config, registry *protocols.Registry, metrics *Metrics, sinks []Sink) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		registry:   registry,
		metrics:    metrics,
		sinks:      sinks,
		packets:    newDropQueue[*pulse.Packet](cfg.Queues.PacketDepth),
		records:    newDropQueue[*Event](cfg.Queues.RecordDepth),
		control:    make(chan func(), 16),
		skipToPrio: true,
		reportMeta: cfg.Output.Meta,
	}
}

// Submit hands a finished pulse packet to the dispatch loop. It never
// blocks; on overflow the oldest packet is lost and counted.
func (p *Pipeline) Submit(pkt *pulse.Packet) {
	before := p.packets.dropped.Load()
	p.packets.push(pkt)
	if d := p.packets.dropped.Load() - before; d > 0 {
		p.metrics.QueueDropped("packets", d)
	}
}

// Control runs fn on the dispatch goroutine between packets, so control
// plane mutations of the registry never race the decoders.
func (p *Pipeline) Control(fn func()) {
	p.control <- fn
}

// ReportMeta returns the current metadata toggles.
func (p *Pipeline) ReportMeta() MetaConfig {
	p.reportMetaMu.RLock()
	defer p.reportMetaMu.RUnlock()
	return p.reportMeta
}

// SetReportMeta updates the metadata toggles.
func (p *Pipeline) SetReportMeta(m MetaConfig) {
	p.reportMetaMu.Lock()
	p.reportMeta = m
	p.reportMetaMu.Unlock()
}

// Run starts the dispatch and sink goroutines and blocks until the context
// is cancelled and both queues drained (bounded by queues.drain_timeout).
// The record queue starts draining only after the packet queue has drained.
func (p *Pipeline) Run(ctx context.Context) {
	sinkCtx, stopSinks := context.WithCancel(context.Background())
	p.wg.Add(2)
	go func() {
		p.dispatchLoop(ctx)
		stopSinks()
	}()
	go p.sinkLoop(sinkCtx)
	p.wg.Wait()
}

func (p *Pipeline) dispatchLoop(ctx context.Context) {
	defer p.wg.Done()
	var statsTick <-chan time.Time
	if p.cfg.Stats.Interval > 0 {
		t := time.NewTicker(time.Duration(p.cfg.Stats.Interval) * time.Second)
		defer t.Stop()
		statsTick = t.C
	}
	for {
		select {
		case fn := <-p.control:
			fn()
		case pkt := <-p.packets.ch:
			p.dispatch(pkt)
		case <-statsTick:
			p.logStats()
		case <-ctx.Done():
			p.drainPackets()
			return
		}
	}
}

// drainPackets empties the packet queue after cancellation, bounded by the
// configured deadline. Whatever is left is counted as lost.
func (p *Pipeline) drainPackets() {
	deadline := time.After(time.Duration(p.cfg.Queues.DrainTimeout) * time.Second)
	for {
		select {
		case pkt := <-p.packets.ch:
			p.dispatch(pkt)
		case <-deadline:
			if n := len(p.packets.ch); n > 0 {
				log.Printf("Pipeline: %d packets lost at shutdown", n)
				p.metrics.QueueDropped("packets", uint64(n))
			}
			return
		default:
			return
		}
	}
}

// dispatch runs every enabled decoder of the packet's class over the
// packet, in priority tiers. Demodulation is re-run per decoder: a decoder
// that inverts or differentially decodes the buffer in place must never
// leak that mutation into the next decoder.
func (p *Pipeline) dispatch(pkt *pulse.Packet) {
	p.packetCount++
	p.metrics.Packet(pkt.Class.String(), len(pkt.Pulse))
	p.curRSSI, p.curSNR = pkt.RSSI, pkt.SNR
	if verbose(3) {
		log.Printf("Pulse: %s packet, %d pulses, %.1f dB SNR, bins %v",
			pkt.Class, len(pkt.Pulse), pkt.SNR, pkt.Histogram())
	}

	var buf bitbuffer.Buffer
	decoders := p.registry.ForClass(pkt.Class)
	tierEvents := 0
	curPrio := 0
	for i, d := range decoders {
		if i == 0 || d.Priority != curPrio {
			// entering a new priority tier
			if tierEvents > 0 && p.skipToPrio {
				break
			}
			curPrio = d.Priority
			tierEvents = 0
		}
		if err := demod.Slice(d.Modulation, d.Timing, pkt, &buf); err != nil {
			log.Printf("Pipeline: %v", err)
			continue
		}
		if buf.NumRows() == 0 {
			continue
		}
		if verbose(2) {
			log.Printf("Dispatch: %s <- %s", d.Name, buf.String())
		}
		ctx := &protocols.Context{
			Protocol:  d,
			Verbosity: Verbosity,
			Now:       pkt.Start,
			Output:    func(rec *datamodel.Record) { p.emit(d, pkt, rec) },
			Data:      d.ContextData,
		}
		res := safeDecode(d, ctx, &buf)
		d.Stats.Count(res)
		p.metrics.Decode(d.Name, res)
		if res > 0 {
			tierEvents += int(res)
		} else if verbose(failLogLevel(res)) {
			log.Printf("Dispatch: %s: %s", d.Name, res)
		}
	}
}

// failLogLevel maps a failure code to the verbosity level that reports it.
func failLogLevel(r protocols.Result) int {
	switch r {
	case protocols.DecodeFailMIC, protocols.DecodeFailSanity:
		return 1
	default:
		return 2
	}
}

// safeDecode guards the pipeline against a panicking decoder; a malformed
// packet must never take the process down.
func safeDecode(d *protocols.Registered, ctx *protocols.Context, buf *bitbuffer.Buffer) (res protocols.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Dispatch: %s panicked: %v", d.Name, r)
			res = protocols.DecodeFailOther
		}
	}()
	return d.Decode(ctx, buf)
}

// emit finalizes a record with the configured metadata and queues it for
// the sinks.
func (p *Pipeline) emit(d *protocols.Registered, pkt *pulse.Packet, rec *datamodel.Record) {
	p.eventCount++
	meta := p.ReportMeta()
	if meta.Level {
		rec.Float("rssi", "%.1f dB", p.curRSSI)
		rec.Float("snr", "%.1f dB", p.curSNR)
	}
	if meta.Protocol {
		rec.Int("protocol", d.Num)
	}
	if meta.Time {
		rec.Prepend("time", pkt.Start.Format("2006-01-02 15:04:05"))
	}
	ev := &Event{Time: pkt.Start, Protocol: d, Record: rec}
	before := p.records.dropped.Load()
	p.records.push(ev)
	if dr := p.records.dropped.Load() - before; dr > 0 {
		p.metrics.QueueDropped("records", dr)
	}
}

func (p *Pipeline) sinkLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.records.ch:
			p.publish(ev)
		case <-ctx.Done():
			deadline := time.After(time.Duration(p.cfg.Queues.DrainTimeout) * time.Second)
			for {
				select {
				case ev := <-p.records.ch:
					p.publish(ev)
				case <-deadline:
					if n := len(p.records.ch); n > 0 {
						log.Printf("Pipeline: %d records lost at shutdown", n)
					}
					return
				default:
					return
				}
			}
		}
	}
}

func (p *Pipeline) publish(ev *Event) {
	for _, s := range p.sinks {
		if err := s.Publish(ev); err != nil {
			p.metrics.SinkDropped(s.Name())
			if verbose(1) {
				log.Printf("Sink %s: %v", s.Name(), err)
			}
		}
	}
}

// logStats prints the per-decoder counters the way the stats interval asks
// for and resets nothing: the counters are cumulative.
func (p *Pipeline) logStats() {
	log.Printf("Stats: %d packets, %d events, %d packet drops, %d record drops",
		p.packetCount, p.eventCount, p.packets.dropped.Load(), p.records.dropped.Load())
	for _, d := range p.registry.Decoders() {
		s := d.Stats
		if s.Events == 0 {
			continue
		}
		log.Printf("Stats: [%02d] %-24s attempts %d ok %d msgs %d early %d length %d mic %d sanity %d",
			d.Num, d.Name, s.Events, s.OK, s.Messages,
			s.AbortEarly, s.AbortLength, s.FailMIC, s.FailSanity)
	}
}

// StatsSnapshot is the JSON-RPC view of the counters.
type StatsSnapshot struct {
	Packets     uint64              `json:"packets"`
	Events      uint64              `json:"events"`
	PacketDrops uint64              `json:"packet_drops"`
	RecordDrops uint64              `json:"record_drops"`
	Decoders    []DecoderStatsEntry `json:"decoders"`
}

// DecoderStatsEntry is one decoder's counters.
type DecoderStatsEntry struct {
	Protocol int    `json:"protocol"`
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	Attempts uint64 `json:"attempts"`
	OK       uint64 `json:"ok"`
	Messages uint64 `json:"messages"`
	Early    uint64 `json:"abort_early"`
	Length   uint64 `json:"abort_length"`
	MIC      uint64 `json:"fail_mic"`
	Sanity   uint64 `json:"fail_sanity"`
}

// Snapshot collects the stats on the dispatch goroutine and returns them.
func (p *Pipeline) Snapshot() StatsSnapshot {
	done := make(chan StatsSnapshot, 1)
	p.Control(func() {
		snap := StatsSnapshot{
			Packets:     p.packetCount,
			Events:      p.eventCount,
			PacketDrops: p.packets.dropped.Load(),
			RecordDrops: p.records.dropped.Load(),
		}
		for _, d := range p.registry.Decoders() {
			s := d.Stats
			snap.Decoders = append(snap.Decoders, DecoderStatsEntry{
				Protocol: d.Num, Name: d.Name, Enabled: d.Enabled,
				Attempts: s.Events, OK: s.OK, Messages: s.Messages,
				Early: s.AbortEarly, Length: s.AbortLength,
				MIC: s.FailMIC, Sanity: s.FailSanity,
			})
		}
		done <- snap
	})
	return <-done
}
