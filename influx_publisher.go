package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"
)

// InfluxPublisher writes events to an InfluxDB v2 compatible endpoint using
// the line protocol. Model and id become tags, the remaining record fields
// become fields; the time field and values the line protocol cannot encode
// are skipped.
type InfluxPublisher struct {
	config   *InfluxConfig
	writeURL string
	client   *http.Client
}

// NewInfluxPublisher validates the endpoint configuration.
func NewInfluxPublisher(config *InfluxConfig) (*InfluxPublisher, error) {
	u, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid influx url: %w", err)
	}
	q := url.Values{}
	q.Set("bucket", config.Bucket)
	if config.Org != "" {
		q.Set("org", config.Org)
	}
	q.Set("precision", "ns")
	u.Path = "/api/v2/write"
	u.RawQuery = q.Encode()
	return &InfluxPublisher{
		config:   config,
		writeURL: u.String(),
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (p *InfluxPublisher) Name() string { return "influx" }

func (p *InfluxPublisher) Publish(ev *Event) error {
	var enc lineprotocol.Encoder
	enc.SetPrecision(lineprotocol.Nanosecond)
	enc.StartLine(p.config.Measurement)

	if model, ok := ev.Record.Get("model"); ok {
		enc.AddTag("model", fmt.Sprintf("%v", model))
	}
	if id, ok := ev.Record.Get("id"); ok {
		enc.AddTag("id", fmt.Sprintf("%v", id))
	}
	for _, f := range ev.Record.Fields() {
		switch f.Key {
		case "model", "id", "time":
			continue
		}
		val, ok := lineprotocol.NewValue(normalizeFieldValue(f.Value))
		if !ok {
			continue
		}
		enc.AddField(f.Key, val)
	}
	enc.EndLine(ev.Time)
	if err := enc.Err(); err != nil {
		return fmt.Errorf("line protocol encoding failed: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, p.writeURL, bytes.NewReader(enc.Bytes()))
	if err != nil {
		return err
	}
	if p.config.Token != "" {
		req.Header.Set("Authorization", "Token "+p.config.Token)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("influx write returned %s", resp.Status)
	}
	return nil
}

// normalizeFieldValue maps record values onto the types the line-protocol
// encoder accepts.
func normalizeFieldValue(v any) any {
	switch val := v.(type) {
	case int:
		return int64(val)
	case []byte:
		return fmt.Sprintf("%x", val)
	default:
		return val
	}
}

func (p *InfluxPublisher) Close() error { return nil }
