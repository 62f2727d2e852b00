package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// MQTTPublisher forwards decoded events to an MQTT broker and, at a
// configurable cadence, mirrors the Prometheus counters onto stats topics.
type MQTTPublisher struct {
	client   mqtt.Client
	config   *MQTTConfig
	gatherer prometheus.Gatherer
	stop     chan struct{}
}

// loadTLSConfig loads TLS configuration from files
func loadTLSConfig(tlsConfig MQTTTLSConfig) (*tls.Config, error) {
	if !tlsConfig.Enabled {
		return nil, nil
	}

	config := &tls.Config{}

	if tlsConfig.CACert != "" {
		caCert, err := os.ReadFile(tlsConfig.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		config.RootCAs = caCertPool
	}

	if tlsConfig.ClientCert != "" && tlsConfig.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(tlsConfig.ClientCert, tlsConfig.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}

// NewMQTTPublisher connects to the broker and starts the stats mirror when
// one is configured.
func NewMQTTPublisher(config *MQTTConfig, gatherer prometheus.Gatherer) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID("ismdump-" + uuid.NewString()[:8])

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	if config.TLS.Enabled {
		tlsConfig, err := loadTLSConfig(config.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Println("MQTT: Connected to broker")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT: Connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	log.Printf("MQTT: Successfully connected to broker: %s", config.Broker)

	p := &MQTTPublisher{
		client:   client,
		config:   config,
		gatherer: gatherer,
		stop:     make(chan struct{}),
	}
	if config.StatsInterval > 0 && gatherer != nil {
		go p.statsLoop()
	}
	return p, nil
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

// Publish sends one event as JSON below the configured topic, keyed by
// model so subscribers can filter.
func (p *MQTTPublisher) Publish(ev *Event) error {
	b, err := ev.Record.MarshalJSON()
	if err != nil {
		return err
	}
	topic := p.config.Topic
	if model, ok := ev.Record.Get("model"); ok {
		topic = fmt.Sprintf("%s/%v", topic, model)
	}
	token := p.client.Publish(topic, 0, p.config.Retain, b)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// statsLoop mirrors the counter and gauge values onto <topic>/stats/<name>.
func (p *MQTTPublisher) statsLoop() {
	ticker := time.NewTicker(time.Duration(p.config.StatsInterval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.publishStats()
		case <-p.stop:
			return
		}
	}
}

func (p *MQTTPublisher) publishStats() {
	families, err := p.gatherer.Gather()
	if err != nil {
		log.Printf("MQTT: failed to gather metrics: %v", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var value float64
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				value = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				value = m.GetGauge().GetValue()
			default:
				continue
			}
			topic := fmt.Sprintf("%s/stats/%s", p.config.Topic, mf.GetName())
			for _, l := range m.GetLabel() {
				topic = fmt.Sprintf("%s/%s", topic, l.GetValue())
			}
			p.client.Publish(topic, 0, false, fmt.Sprintf("%g", value))
		}
	}
}

func (p *MQTTPublisher) Close() error {
	close(p.stop)
	p.client.Disconnect(250)
	return nil
}
