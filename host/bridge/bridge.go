// Package bridge exposes configured soft PWM channels on MQTT.
//
// Each channel listens on <prefix>/<name>/set for a JSON request and
// publishes its state, retained, on <prefix>/<name>/state.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"softpwm/host/config"
	"softpwm/host/mcu"
)

// Controller is the part of *mcu.MCU the bridge drives
type Controller interface {
	ConfigChannel(oid uint8, pin uint32) error
	SetChannel(oid uint8, hz uint32, duty uint8, active bool) error
	SetFrequency(oid uint8, hz uint32) error
	SetDuty(oid uint8, duty uint8) error
	SetMicros(oid uint8, us uint32) error
	SetLevel(oid uint8, high bool) error
	Enable(oid uint8, on bool) error
	QueryChannel(oid uint8) (*mcu.ChannelState, error)
	GetConfig() (*mcu.ConfigState, error)
	FinalizeConfig(crc uint32) error
}

// SetRequest is the payload of a set topic. Absent fields are left alone.
type SetRequest struct {
	FreqHz *uint32 `json:"freq_hz,omitempty"`
	Duty   *uint8  `json:"duty,omitempty"`
	Micros *uint32 `json:"us,omitempty"`
	Active *bool   `json:"active,omitempty"`
	Level  *string `json:"level,omitempty"` // "high" or "low"
}

var ErrUnknownChannel = errors.New("no channel with that name")

// Configure binds every configured channel and applies its start state.
// A controller already holding this layout is left running.
func Configure(ctl Controller, cfg *config.Config) error {
	crc := cfg.CRC()
	state, err := ctl.GetConfig()
	if err != nil {
		return err
	}
	if state.IsShutdown {
		return errors.New("controller is shut down")
	}
	if state.IsConfig && state.CRC == crc {
		return nil
	}

	for _, ch := range cfg.Channels {
		if err := ctl.ConfigChannel(ch.OID, ch.Pin); err != nil {
			return fmt.Errorf("channel %s: %w", ch.Name, err)
		}
		if err := applyStart(ctl, ch); err != nil {
			return fmt.Errorf("channel %s: %w", ch.Name, err)
		}
	}
	return ctl.FinalizeConfig(crc)
}

func applyStart(ctl Controller, ch config.ChannelConfig) error {
	if ch.Micros == 0 {
		return ctl.SetChannel(ch.OID, ch.FreqHz, ch.Duty, ch.Active)
	}
	if err := ctl.SetChannel(ch.OID, ch.FreqHz, 0, false); err != nil {
		return err
	}
	if !ch.Active {
		return nil
	}
	return ctl.SetMicros(ch.OID, ch.Micros)
}

// Bridge routes MQTT requests to a controller
type Bridge struct {
	client mqtt.Client
	ctl    Controller
	cfg    *config.Config
	errLog io.Writer

	// publish is swapped out in tests
	publish func(topic string, payload []byte) error
}

// New creates a bridge publishing through client
func New(client mqtt.Client, ctl Controller, cfg *config.Config) *Bridge {
	b := &Bridge{
		client: client,
		ctl:    ctl,
		cfg:    cfg,
		errLog: os.Stderr,
	}
	b.publish = b.mqttPublish
	return b
}

// Dial connects to the broker named in cfg
func Dial(cfg config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	// Last will marks the bridge offline if the host dies
	opts.SetWill(cfg.Prefix+"/status", "offline", 1, true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("connect to %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	return client, nil
}

func (b *Bridge) mqttPublish(topic string, payload []byte) error {
	token := b.client.Publish(topic, b.cfg.MQTT.QoS, true, payload)
	token.Wait()
	return token.Error()
}

// Start subscribes to every channel's set topic and publishes the
// current states
func (b *Bridge) Start() error {
	topic := b.cfg.MQTT.Prefix + "/+/set"
	token := b.client.Subscribe(topic, b.cfg.MQTT.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		if err := b.HandleMessage(msg.Topic(), msg.Payload()); err != nil {
			fmt.Fprintf(b.errLog, "bridge: %s: %v\n", msg.Topic(), err)
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	if err := b.publish(b.cfg.MQTT.Prefix+"/status", []byte("online")); err != nil {
		return err
	}
	return b.PublishAll()
}

// Stop marks the bridge offline and disconnects
func (b *Bridge) Stop() {
	_ = b.publish(b.cfg.MQTT.Prefix+"/status", []byte("offline"))
	b.client.Disconnect(250)
}

// channelName extracts <name> from <prefix>/<name>/set
func (b *Bridge) channelName(topic string) (string, bool) {
	rest := strings.TrimPrefix(topic, b.cfg.MQTT.Prefix+"/")
	if rest == topic || !strings.HasSuffix(rest, "/set") {
		return "", false
	}
	name := strings.TrimSuffix(rest, "/set")
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// HandleMessage applies one set request and publishes the resulting state
func (b *Bridge) HandleMessage(topic string, payload []byte) error {
	name, ok := b.channelName(topic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", topic)
	}
	ch, ok := b.cfg.Channel(name)
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownChannel)
	}

	var req SetRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if err := b.apply(ch.OID, req); err != nil {
		return err
	}
	return b.PublishState(ch)
}

func (b *Bridge) apply(oid uint8, req SetRequest) error {
	if req.Level != nil {
		switch strings.ToLower(*req.Level) {
		case "high", "1", "on":
			return b.ctl.SetLevel(oid, true)
		case "low", "0", "off":
			return b.ctl.SetLevel(oid, false)
		}
		return fmt.Errorf("bad level %q", *req.Level)
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	if req.FreqHz == nil && req.Duty == nil && req.Micros == nil {
		// A bare {"active": ...} starts or stops the last waveform
		if req.Active != nil {
			return b.ctl.Enable(oid, active)
		}
		return nil
	}
	if !active {
		return b.store(oid, req)
	}

	switch {
	case req.FreqHz != nil && req.Duty != nil:
		if err := b.ctl.SetChannel(oid, *req.FreqHz, *req.Duty, true); err != nil {
			return err
		}
	case req.FreqHz != nil:
		if err := b.ctl.SetFrequency(oid, *req.FreqHz); err != nil {
			return err
		}
	case req.Duty != nil:
		if err := b.ctl.SetDuty(oid, *req.Duty); err != nil {
			return err
		}
	}
	if req.Micros != nil {
		return b.ctl.SetMicros(oid, *req.Micros)
	}
	return nil
}

// store programs new timing on a channel that must end up stopped and LOW.
// Missing fields come from the channel's current state. A pulse width can
// only be set on a running channel, so that case starts it and then drops
// the pin.
func (b *Bridge) store(oid uint8, req SetRequest) error {
	if req.Micros != nil {
		if req.FreqHz != nil {
			if err := b.ctl.SetChannel(oid, *req.FreqHz, 0, false); err != nil {
				return err
			}
		}
		if err := b.ctl.SetMicros(oid, *req.Micros); err != nil {
			return err
		}
		return b.ctl.SetLevel(oid, false)
	}

	state, err := b.ctl.QueryChannel(oid)
	if err != nil {
		return err
	}
	hz, duty := state.Frequency, uint8(state.DutyPercent+0.5)
	if req.FreqHz != nil {
		hz = *req.FreqHz
	}
	if req.Duty != nil {
		duty = *req.Duty
	}
	if err := b.ctl.SetChannel(oid, hz, duty, false); err != nil {
		return err
	}
	return b.ctl.SetLevel(oid, false)
}

// PublishState queries one channel and publishes its state
func (b *Bridge) PublishState(ch *config.ChannelConfig) error {
	state, err := b.ctl.QueryChannel(ch.OID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return b.publish(b.cfg.MQTT.Prefix+"/"+ch.Name+"/state", payload)
}

// PublishAll publishes the state of every configured channel
func (b *Bridge) PublishAll() error {
	for i := range b.cfg.Channels {
		if err := b.PublishState(&b.cfg.Channels[i]); err != nil {
			return fmt.Errorf("channel %s: %w", b.cfg.Channels[i].Name, err)
		}
	}
	return nil
}
