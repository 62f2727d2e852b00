package main

import (
	"compress/gzip"
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwsl/ismdump/protocols"
	"github.com/cwsl/ismdump/pulse"
)

const versionString = "ismdump 1.4.0"

// stringList collects repeatable flags
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// countFlag counts repeated occurrences, e.g. -v -v
type countFlag int

func (c *countFlag) String() string   { return strconv.Itoa(int(*c)) }
func (c *countFlag) Set(string) error { *c++; return nil }
func (c *countFlag) IsBoolFlag() bool { return true }

type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
}

func (w gzipResponseWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

// gzipHandler compresses responses for clients that accept it. Streaming
// endpoints bypass it so chunks flush immediately.
func gzipHandler(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			fn(w, r)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		fn(gzipResponseWriter{Writer: gz, ResponseWriter: w}, r)
	}
}

// corsMiddleware allows dashboard frontends served from elsewhere
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	var (
		configPath    = flag.String("c", "", "Path to yaml config file")
		device        = flag.String("d", "", "Input: capture file or rtltcp://host:port")
		sampleRate    = flag.Int("s", 0, "Sample rate in Hz")
		ppm           = flag.Int("p", 0, "Frequency correction in ppm")
		gain          = flag.Float64("g", 0, "Tuner gain in dB (0 = auto)")
		hopInterval   = flag.Int("H", 0, "Hop interval in seconds")
		statsInterval = flag.Int("T", 0, "Stats interval in seconds")
		httpListen    = flag.String("http", "", "Control server listen address")
		freqs       stringList
		protoFlags  stringList
		sinkFlags   stringList
		verboseFlag countFlag
	)
	flag.Var(&freqs, "f", "Frequency to tune to, e.g. 433.92M (repeatable)")
	flag.Var(&protoFlags, "R", "Enable protocol by number or name; prefix '-' disables (repeatable)")
	flag.Var(&sinkFlags, "F", "Output sink: json, csv:<path>, mqtt, influx (repeatable)")
	flag.Var(&verboseFlag, "v", "Increase verbosity (repeatable)")
	flag.Parse()

	Verbosity = int(verboseFlag)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfig(*configPath)
		if err != nil {
			log.Printf("Config: %v", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	applyFlags(cfg, *device, *sampleRate, *ppm, *gain, *hopInterval, *statsInterval, *httpListen, freqs, sinkFlags)
	if err := cfg.Validate(); err != nil {
		log.Printf("Config: %v", err)
		os.Exit(1)
	}
	if cfg.Input.Device == "" {
		log.Printf("Config: no input selected, use -d <file> or -d rtltcp://host:port")
		os.Exit(1)
	}

	registry := protocols.Default()
	if err := applyProtocolSelection(registry, cfg.Protocols, protoFlags); err != nil {
		log.Printf("Config: %v", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	metrics := NewMetrics(promRegistry)

	sinks, err := buildSinks(cfg, promRegistry)
	if err != nil {
		log.Printf("Config: %v", err)
		os.Exit(1)
	}
	defer func() {
		for _, s := range sinks {
			s.Close()
		}
	}()

	source, err := OpenSource(&cfg.Input)
	if err != nil {
		log.Printf("Input: %v", err)
		os.Exit(2)
	}
	defer source.Close()

	pipeline := NewPipeline(cfg, registry, metrics, sinks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("Shutting down, draining queues...")
		cancel()
	}()

	if cfg.Server.Listen != "" {
		go runControlServer(cfg, pipeline, registry, source, promRegistry, sinks)
	}

	extractor := pulse.NewExtractor(pulse.Config{
		SampleRate:   source.SampleRate(),
		CenterFreq:   source.CenterFreq(),
		ResetLimitUS: registry.MaxResetUS(),
		GlitchUS:     registry.MinShortUS() / 2,
	}, pipeline.Submit)

	go runInput(ctx, cancel, cfg, source, extractor)

	pipeline.Run(ctx)
	log.Printf("Shutdown complete")
}

// runInput reads sample chunks into the extractor until the source ends or
// the context is cancelled, hopping frequencies when configured.
func runInput(ctx context.Context, cancel context.CancelFunc, cfg *Config, source SampleSource, extractor *pulse.Extractor) {
	var hop <-chan time.Time
	if cfg.Input.HopInterval > 0 && len(cfg.Input.Frequencies) > 1 {
		t := time.NewTicker(time.Duration(cfg.Input.HopInterval) * time.Second)
		defer t.Stop()
		hop = t.C
	}
	hopIdx := 0

	buf := make([]complex128, 16384)
	for {
		select {
		case <-ctx.Done():
			extractor.Flush()
			return
		case <-hop:
			hopIdx = (hopIdx + 1) % len(cfg.Input.Frequencies)
			hz, err := ParseFrequency(cfg.Input.Frequencies[hopIdx])
			if err == nil {
				if err := source.SetCenterFreq(hz); err != nil {
					log.Printf("Input: hop failed: %v", err)
				}
			}
		default:
		}
		n, err := source.Read(buf)
		if n > 0 {
			extractor.Process(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("Input: %v", err)
			}
			extractor.Flush()
			cancel()
			return
		}
	}
}

// applyFlags lets command-line options override the config file.
func applyFlags(cfg *Config, device string, rate, ppm int, gain float64, hop, stats int, listen string, freqs stringList, sinkFlags stringList) {
	if device != "" {
		cfg.Input.Device = device
	}
	if rate > 0 {
		cfg.Input.SampleRate = rate
	}
	if ppm != 0 {
		cfg.Input.PPMError = ppm
	}
	if gain != 0 {
		cfg.Input.Gain = gain
	}
	if hop > 0 {
		cfg.Input.HopInterval = hop
	}
	if stats > 0 {
		cfg.Stats.Interval = stats
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}
	if len(freqs) > 0 {
		cfg.Input.Frequencies = freqs
	}
	for _, s := range sinkFlags {
		switch {
		case s == "json":
			cfg.Output.JSON = true
		case strings.HasPrefix(s, "csv:"):
			cfg.Output.CSVPath = strings.TrimPrefix(s, "csv:")
		case s == "mqtt":
			cfg.MQTT.Enabled = true
		case s == "influx":
			cfg.Influx.Enabled = true
		}
	}
}

// applyProtocolSelection applies the config lists and -R flags. A bare -R
// switches to allow-list mode like the original tool.
func applyProtocolSelection(registry *protocols.Registry, pc ProtocolsConfig, flags stringList) error {
	enable := append([]string{}, pc.Enable...)
	disable := append([]string{}, pc.Disable...)
	for _, f := range flags {
		if strings.HasPrefix(f, "-") {
			disable = append(disable, strings.TrimPrefix(f, "-"))
		} else {
			enable = append(enable, f)
		}
	}
	if len(enable) > 0 {
		for _, d := range registry.Decoders() {
			d.Enabled = false
		}
		for _, key := range enable {
			if err := setProtocolEnabled(registry, key, true); err != nil {
				return err
			}
		}
	}
	for _, key := range disable {
		if err := setProtocolEnabled(registry, key, false); err != nil {
			return err
		}
	}
	return nil
}

// buildSinks assembles the configured sinks; the stream hub is always first
// so the HTTP surfaces see every event.
func buildSinks(cfg *Config, promRegistry *prometheus.Registry) ([]Sink, error) {
	var sinks []Sink
	if cfg.Server.Listen != "" {
		sinks = append(sinks, NewStreamHub())
	}
	if cfg.Output.JSON {
		sinks = append(sinks, NewJSONSink(os.Stdout))
	}
	if cfg.Output.CSVPath != "" {
		s, err := NewCSVSink(cfg.Output.CSVPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.MQTT.Enabled {
		s, err := NewMQTTPublisher(&cfg.MQTT, promRegistry)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Influx.Enabled {
		s, err := NewInfluxPublisher(&cfg.Influx)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// runControlServer exposes the control endpoints and event streams.
func runControlServer(cfg *Config, pipeline *Pipeline, registry *protocols.Registry, source SampleSource, promRegistry *prometheus.Registry, sinks []Sink) {
	var hub *StreamHub
	for _, s := range sinks {
		if h, ok := s.(*StreamHub); ok {
			hub = h
		}
	}
	control := NewControlServer(pipeline, registry, source, cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/cmd", gzipHandler(control.ServeCmd))
	mux.HandleFunc("/jsonrpc", gzipHandler(control.ServeJSONRPC))
	if hub != nil {
		mux.HandleFunc("/events", hub.ServeEvents)
		mux.HandleFunc("/stream", hub.ServeStream)
		mux.HandleFunc("/", hub.ServeWS)
	}
	if cfg.Prometheus.Enabled {
		mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	}

	log.Printf("HTTP: control server listening on %s", cfg.Server.Listen)
	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("HTTP: %v", err)
	}
}
