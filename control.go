package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/cwsl/ismdump/protocols"
)

// ControlServer maps the /cmd and /jsonrpc endpoints onto the pipeline,
// registry and sample source. Registry mutations run on the dispatch
// goroutine via Pipeline.Control.
type ControlServer struct {
	pipeline *Pipeline
	registry *protocols.Registry
	source   SampleSource
	config   *Config
}

func NewControlServer(pipeline *Pipeline, registry *protocols.Registry, source SampleSource, config *Config) *ControlServer {
	return &ControlServer{pipeline: pipeline, registry: registry, source: source, config: config}
}

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type jsonrpcResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonrpcError `json:"error,omitempty"`
	ID      any           `json:"id"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ServeJSONRPC handles JSON-RPC 2.0 POSTs at /jsonrpc.
func (c *ControlServer) ServeJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req jsonrpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPC(w, jsonrpcResponse{JSONRPC: "2.0", Error: &jsonrpcError{-32700, "parse error"}, ID: nil})
		return
	}
	result, err := c.call(req.Method, req.Params)
	resp := jsonrpcResponse{JSONRPC: "2.0", ID: req.ID}
	if err != nil {
		resp.Error = &jsonrpcError{-32000, err.Error()}
	} else {
		resp.Result = result
	}
	writeRPC(w, resp)
}

func writeRPC(w http.ResponseWriter, resp jsonrpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ServeCmd handles the GET form at /cmd?cmd=<method>&val=<value>.
func (c *ControlServer) ServeCmd(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Query().Get("cmd")
	val := r.URL.Query().Get("val")
	var params json.RawMessage
	if val != "" {
		b, _ := json.Marshal(val)
		params = b
	}
	result, err := c.call(method, params)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"result": result})
}

// scalarParam accepts both "1000000" and 1000000 forms.
func scalarParam(params json.RawMessage) (string, error) {
	if len(params) == 0 {
		return "", fmt.Errorf("missing parameter")
	}
	var s string
	if err := json.Unmarshal(params, &s); err == nil {
		return s, nil
	}
	var n float64
	if err := json.Unmarshal(params, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	}
	// single-element array form used by some JSON-RPC clients
	var arr []any
	if err := json.Unmarshal(params, &arr); err == nil && len(arr) == 1 {
		return fmt.Sprintf("%v", arr[0]), nil
	}
	return "", fmt.Errorf("unsupported parameter %s", params)
}

func (c *ControlServer) call(method string, params json.RawMessage) (any, error) {
	switch method {
	case "get_meta":
		return map[string]any{
			"version":          versionString,
			"center_frequency": c.source.CenterFreq(),
			"sample_rate":      c.source.SampleRate(),
			"frequencies":      c.config.Input.Frequencies,
			"hop_interval":     c.config.Input.HopInterval,
			"report_meta":      c.pipeline.ReportMeta(),
		}, nil

	case "get_protocols":
		type entry struct {
			Num        int      `json:"num"`
			Name       string   `json:"name"`
			Modulation string   `json:"modulation"`
			Enabled    bool     `json:"enabled"`
			Fields     []string `json:"fields"`
		}
		var out []entry
		for _, d := range c.registry.Decoders() {
			out = append(out, entry{d.Num, d.Name, d.Modulation.String(), d.Enabled, d.Fields})
		}
		return out, nil

	case "get_stats":
		return c.pipeline.Snapshot(), nil

	case "set_sample_rate":
		v, err := scalarParam(params)
		if err != nil {
			return nil, err
		}
		rate, err := strconv.Atoi(v)
		if err != nil || rate <= 0 {
			return nil, fmt.Errorf("invalid sample rate %q", v)
		}
		if err := c.source.SetSampleRate(rate); err != nil {
			return nil, err
		}
		return "ok", nil

	case "set_center_frequency":
		v, err := scalarParam(params)
		if err != nil {
			return nil, err
		}
		hz, err := ParseFrequency(v)
		if err != nil {
			return nil, err
		}
		if err := c.source.SetCenterFreq(hz); err != nil {
			return nil, err
		}
		return "ok", nil

	case "set_ppm_error":
		v, err := scalarParam(params)
		if err != nil {
			return nil, err
		}
		ppm, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ppm %q", v)
		}
		if err := c.source.SetPPM(ppm); err != nil {
			return nil, err
		}
		return "ok", nil

	case "set_gain":
		v, err := scalarParam(params)
		if err != nil {
			return nil, err
		}
		db, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid gain %q", v)
		}
		if err := c.source.SetGain(db); err != nil {
			return nil, err
		}
		return "ok", nil

	case "set_hop_interval":
		v, err := scalarParam(params)
		if err != nil {
			return nil, err
		}
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 0 {
			return nil, fmt.Errorf("invalid hop interval %q", v)
		}
		c.config.Input.HopInterval = secs
		return "ok", nil

	case "report_meta":
		v, err := scalarParam(params)
		if err != nil {
			return nil, err
		}
		meta := c.pipeline.ReportMeta()
		switch v {
		case "time":
			meta.Time = !meta.Time
		case "protocol":
			meta.Protocol = !meta.Protocol
		case "level":
			meta.Level = !meta.Level
		default:
			return nil, fmt.Errorf("unknown meta toggle %q", v)
		}
		c.pipeline.SetReportMeta(meta)
		return meta, nil

	case "enable_protocol", "disable_protocol":
		v, err := scalarParam(params)
		if err != nil {
			return nil, err
		}
		enable := method == "enable_protocol"
		done := make(chan error, 1)
		c.pipeline.Control(func() {
			done <- setProtocolEnabled(c.registry, v, enable)
		})
		if err := <-done; err != nil {
			return nil, err
		}
		log.Printf("Control: protocol %s %sabled", v, map[bool]string{true: "en", false: "dis"}[enable])
		return "ok", nil
	}
	return nil, fmt.Errorf("unknown method %q", method)
}

// setProtocolEnabled flips a decoder by number or name.
func setProtocolEnabled(registry *protocols.Registry, key string, enabled bool) error {
	if num, err := strconv.Atoi(key); err == nil {
		return registry.SetEnabled(num, enabled)
	}
	return registry.SetEnabledByName(key, enabled)
}
