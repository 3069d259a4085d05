package mqtt

import (
	"errors"
	"strings"
	"time"

	"github.com/timzifer/osdplink/config"
)

// ConnectionSettings describe how to reach the MQTT broker. The client always
// reconnects; the receive topic is subscribed again on every connect.
type ConnectionSettings struct {
	Broker         string          `yaml:"broker"`
	ClientID       string          `yaml:"client_id,omitempty"`
	KeepAlive      config.Duration `yaml:"keep_alive,omitempty"`
	ConnectTimeout config.Duration `yaml:"connect_timeout,omitempty"`
	Auth           *AuthSettings   `yaml:"auth,omitempty"`
	TLS            *TLSSettings    `yaml:"tls,omitempty"`
}

func (c ConnectionSettings) connectTimeout() time.Duration {
	if c.ConnectTimeout.Duration <= 0 {
		return 10 * time.Second
	}
	return c.ConnectTimeout.Duration
}

// AuthSettings capture username/password authentication for MQTT.
type AuthSettings struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TLSSettings enable TLS towards the broker.
type TLSSettings struct {
	Enabled            bool   `yaml:"enabled"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	CAFile             string `yaml:"ca_file,omitempty"`
	CertFile           string `yaml:"cert_file,omitempty"`
	KeyFile            string `yaml:"key_file,omitempty"`
	ServerName         string `yaml:"server_name,omitempty"`
}

// Settings configure an MQTT-backed channel. Writes are published to TxTopic;
// messages arriving on RxTopic are queued for reads.
type Settings struct {
	Connection     ConnectionSettings `yaml:"connection"`
	TxTopic        string             `yaml:"tx_topic"`
	RxTopic        string             `yaml:"rx_topic"`
	QoS            byte               `yaml:"qos,omitempty"`
	Queue          int                `yaml:"queue,omitempty"`
	Blocking       bool               `yaml:"blocking,omitempty"`
	PublishTimeout config.Duration    `yaml:"publish_timeout,omitempty"`
}

func (s Settings) validate() error {
	if strings.TrimSpace(s.TxTopic) == "" {
		return errors.New("mqtt: tx_topic is required")
	}
	if strings.TrimSpace(s.RxTopic) == "" {
		return errors.New("mqtt: rx_topic is required")
	}
	if s.TxTopic == s.RxTopic {
		return errors.New("mqtt: tx_topic and rx_topic must differ")
	}
	if s.QoS > 2 {
		return errors.New("mqtt: qos must be 0, 1 or 2")
	}
	return nil
}

func (s Settings) queueSize() int {
	if s.Queue <= 0 {
		return 64
	}
	return s.Queue
}

func (s Settings) publishTimeout() time.Duration {
	if s.PublishTimeout.Duration <= 0 {
		return 5 * time.Second
	}
	return s.PublishTimeout.Duration
}
