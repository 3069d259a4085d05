package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

func clientOptions(settings ConnectionSettings, logger zerolog.Logger, onConnect mqtt.OnConnectHandler) (*mqtt.ClientOptions, error) {
	if settings.Broker == "" {
		return nil, errors.New("mqtt: connection.broker is required")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(settings.Broker).
		SetClientID(settings.ClientID).
		SetConnectTimeout(settings.connectTimeout()).
		SetAutoReconnect(true)
	if settings.KeepAlive.Duration > 0 {
		opts.SetKeepAlive(settings.KeepAlive.Duration)
	}
	if settings.Auth != nil {
		opts.SetUsername(settings.Auth.Username)
		opts.SetPassword(settings.Auth.Password)
	}
	if settings.TLS != nil && settings.TLS.Enabled {
		tlsConfig, err := tlsConfig(*settings.TLS)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}
	if onConnect != nil {
		opts.SetOnConnectHandler(onConnect)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Str("broker", settings.Broker).Msg("mqtt: connection lost")
	})
	return opts, nil
}

// connect dials the broker and waits for the first connection.
func connect(settings ConnectionSettings, logger zerolog.Logger, onConnect mqtt.OnConnectHandler) (mqtt.Client, error) {
	opts, err := clientOptions(settings, logger, onConnect)
	if err != nil {
		return nil, err
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(settings.connectTimeout()) {
		return nil, fmt.Errorf("mqtt: connect %s: timeout", settings.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", settings.Broker, err)
	}
	return client, nil
}

func tlsConfig(settings TLSSettings) (*tls.Config, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: settings.InsecureSkipVerify,
		ServerName:         settings.ServerName,
	}
	if settings.CAFile != "" {
		pem, err := os.ReadFile(settings.CAFile)
		if err != nil {
			return nil, fmt.Errorf("mqtt: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("mqtt: no certificates in %s", settings.CAFile)
		}
		cfg.RootCAs = pool
	}
	if settings.CertFile != "" || settings.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(settings.CertFile, settings.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("mqtt: load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
