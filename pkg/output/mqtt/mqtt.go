package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ftsensor/goftl/pkg/config"
	"github.com/ftsensor/goftl/pkg/output"
	"github.com/ftsensor/goftl/pkg/sensor"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultServer = "tcp://localhost:1883"
	publishQoS    = 0
	// Time given to in-flight messages on close, in ms
	disconnectQuiesce = 250
)

var ErrNotConnected = errors.New("mqtt client not connected")

// JSON document published for each reading
type Payload struct {
	Counter     uint8      `json:"counter"`
	Timestamp   time.Time  `json:"timestamp"`
	Force       [3]float64 `json:"force"`
	Torque      [3]float64 `json:"torque"`
	Raw         [6]float64 `json:"raw"`
	Temperature float64    `json:"temperature"`
	Overload    bool       `json:"overload"`
	Fault       bool       `json:"fault"`
}

func NewPayload(s sensor.Snapshot) Payload {
	return Payload{
		Counter:     s.Counter,
		Timestamp:   s.Timestamp,
		Force:       s.XYZ.Force(),
		Torque:      s.XYZ.Torque(),
		Raw:         s.Raw,
		Temperature: s.Temperature,
		Overload:    s.Status.Overload(),
		Fault:       s.Status.Fault(),
	}
}

type MQTTOutput struct {
	client mqtt.Client
	topic  string
}

func NewMQTT(cfg config.OutputConfig) (output.Output, error) {
	server := cfg.MQTTServer
	if server == "" {
		server = DefaultServer
	}
	opts := mqtt.NewClientOptions().AddBroker(server).SetClientID(cfg.MQTTClientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
	}
	if cfg.MQTTPassword != "" {
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnf("[MQTT] connection lost : %v", err)
	})
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	log.Infof("[MQTT] connected to %v, publishing on %v", server, cfg.MQTTTopic)
	return NewWithClient(client, cfg.MQTTTopic), nil
}

// Output publishing through an already connected client
func NewWithClient(client mqtt.Client, topic string) *MQTTOutput {
	if topic == "" {
		topic = config.DefaultMQTTTopic
	}
	return &MQTTOutput{client: client, topic: topic}
}

func (m *MQTTOutput) Publish(s sensor.Snapshot) error {
	if m.client == nil {
		return ErrNotConnected
	}
	b, err := json.Marshal(NewPayload(s))
	if err != nil {
		return err
	}
	token := m.client.Publish(m.topic, publishQoS, false, b)
	token.Wait()
	return token.Error()
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(disconnectQuiesce)
		m.client = nil
	}
	return nil
}
