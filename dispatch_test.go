package main

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cwsl/ismdump/protocols"
	"github.com/cwsl/ismdump/pulse"
)

func testPipeline() *Pipeline {
	cfg := DefaultConfig()
	registry := protocols.Default()
	metrics := NewMetrics(prometheus.NewRegistry())
	return NewPipeline(cfg, registry, metrics, nil)
}

// gtwt02Packet synthesizes the PPM pulse train of repeated GT-WT-02 rows.
func gtwt02Packet(rows int) *pulse.Packet {
	bits := "0011010000000000111011010100011101100"
	pkt := &pulse.Packet{
		Class:      pulse.ClassOOK,
		Start:      time.Unix(1700000000, 0),
		SampleRate: 250000,
	}
	for r := 0; r < rows; r++ {
		if r > 0 {
			// row separator gap hits the decoder's sync width
			pkt.Pulse = append(pkt.Pulse, 500)
			pkt.Gap = append(pkt.Gap, 9000)
		}
		for _, b := range bits {
			pkt.Pulse = append(pkt.Pulse, 500)
			if b == '1' {
				pkt.Gap = append(pkt.Gap, 4000)
			} else {
				pkt.Gap = append(pkt.Gap, 2000)
			}
		}
	}
	pkt.Pulse = append(pkt.Pulse, 500)
	pkt.Gap = append(pkt.Gap, 12500)
	return pkt
}

func TestDispatchEndToEnd(t *testing.T) {
	p := testPipeline()
	p.dispatch(gtwt02Packet(3))

	select {
	case ev := <-p.records.ch:
		assert.Equal(t, "GT-WT-02", ev.Protocol.Name)
		b, err := ev.Record.MarshalJSON()
		require.NoError(t, err)
		s := string(b)
		assert.True(t, strings.HasPrefix(s, `{"time":`), s)
		assert.Contains(t, s, `"model":"GT-WT-02"`)
		assert.Contains(t, s, `"temperature_C":23.7`)
		assert.Contains(t, s, `"protocol":3`)
	default:
		t.Fatal("no event emitted")
	}

	d, _ := p.registry.GetByName("GT-WT-02")
	assert.Equal(t, uint64(1), d.Stats.OK)
}

func TestDispatchCountsFailures(t *testing.T) {
	p := testPipeline()
	// a valid-length row with a broken checksum
	pkt := gtwt02Packet(3)
	pkt.Gap[1] = 4000 // flip a bit inside the first row only
	p.dispatch(pkt)

	d, _ := p.registry.GetByName("GT-WT-02")
	// repeated-row search still finds the two intact copies
	assert.Equal(t, uint64(1), d.Stats.OK)

	p2 := testPipeline()
	pkt2 := gtwt02Packet(1)
	pkt2.Gap[1] = 4000
	p2.dispatch(pkt2)
	d2, _ := p2.registry.GetByName("GT-WT-02")
	assert.Equal(t, uint64(0), d2.Stats.OK)
	assert.Equal(t, uint64(1), d2.Stats.AbortEarly)
}

func TestDispatchSkipsFSKDecodersForOOK(t *testing.T) {
	p := testPipeline()
	p.dispatch(gtwt02Packet(3))
	d, _ := p.registry.GetByName("Bresser-5in1")
	assert.Equal(t, uint64(0), d.Stats.Events)
}

func TestDropQueue(t *testing.T) {
	q := newDropQueue[int](2)
	q.push(1)
	q.push(2)
	q.push(3)
	assert.Equal(t, uint64(1), q.dropped.Load())
	assert.Equal(t, 2, <-q.ch)
	assert.Equal(t, 3, <-q.ch)
}

func TestReportMetaToggles(t *testing.T) {
	p := testPipeline()
	meta := p.ReportMeta()
	assert.True(t, meta.Time)
	meta.Time = false
	meta.Level = true
	p.SetReportMeta(meta)
	got := p.ReportMeta()
	assert.False(t, got.Time)
	assert.True(t, got.Level)
}

// Random pulse trains must never panic the dispatch path and every emitted
// record must carry well-formed field names.
func TestPropDispatchRobust(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := testPipeline()
		n := rapid.IntRange(0, 300).Draw(t, "pairs")
		pkt := &pulse.Packet{
			Class:      pulse.Class(rapid.IntRange(0, 1).Draw(t, "class")),
			Start:      time.Unix(1700000000, 0),
			SampleRate: 250000,
		}
		for i := 0; i < n; i++ {
			pkt.Pulse = append(pkt.Pulse, rapid.IntRange(1, 30000).Draw(t, "pulse"))
			pkt.Gap = append(pkt.Gap, rapid.IntRange(1, 30000).Draw(t, "gap"))
		}
		p.dispatch(pkt)
		fieldName := regexp.MustCompile(`^[a-z][a-zA-Z0-9_]*$`)
		for len(p.records.ch) > 0 {
			ev := <-p.records.ch
			for _, f := range ev.Record.Fields() {
				if !fieldName.MatchString(f.Key) {
					t.Fatalf("%s emitted malformed field name %q", ev.Protocol.Name, f.Key)
				}
			}
		}
	})
}
