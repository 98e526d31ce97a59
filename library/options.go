package weblink

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/duke1swd/weblinkGo/logger"
)

const (
	defaultBroker      = "ws://localhost:1112"
	defaultListen      = "127.0.0.1:8080"
	defaultDialTimeout = 10 * time.Second
)

type MQTTOptions struct {
	Enabled   bool   `yaml:"enabled"`
	Broker    string `yaml:"broker"`
	TopicBase string `yaml:"topic_base"`
}

// Options configures a panel process.
type Options struct {
	Broker      string        `yaml:"broker"`
	Subprotocol string        `yaml:"subprotocol"`
	Sender      string        `yaml:"sender"`
	Core        string        `yaml:"core"`
	Backplane   string        `yaml:"backplane"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	LogRefresh  time.Duration `yaml:"log_refresh"`
	Listen      string        `yaml:"listen"`
	MQTT        MQTTOptions   `yaml:"mqtt"`
	Logging     logger.Config `yaml:"logging"`
}

func DefaultOptions() Options {
	return Options{
		Broker:      defaultBroker,
		Subprotocol: DefaultSubprotocol,
		Sender:      SenderURN,
		Core:        CoreURN,
		Backplane:   BackplaneURN,
		DialTimeout: defaultDialTimeout,
		Listen:      defaultListen,
		MQTT: MQTTOptions{
			Broker:    defaultMqttBroker,
			TopicBase: defaultTopicBase,
		},
		Logging: logger.DefaultConfig(),
	}
}

// LoadOptions starts from the defaults, applies the YAML file at path if
// path is not empty, then the environment.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Options{}, fmt.Errorf("read options: %w", err)
		}

		if err := yaml.Unmarshal(data, &opts); err != nil {
			return Options{}, fmt.Errorf("parse options %s: %w", path, err)
		}
	}

	if err := opts.applyEnv(); err != nil {
		return Options{}, err
	}

	return opts, opts.Validate()
}

func (o *Options) applyEnv() error {
	if s, ok := os.LookupEnv("WEBLINK_BROKER"); ok {
		o.Broker = s
	}

	if s, ok := os.LookupEnv("WEBLINK_LISTEN"); ok {
		o.Listen = s
	}

	if s, ok := os.LookupEnv("MQTTBROKER"); ok {
		o.MQTT.Broker = s
		o.MQTT.Enabled = true
	}

	if s, ok := os.LookupEnv("HOMIETOPIC"); ok {
		o.MQTT.TopicBase = s
	}

	if s, ok := os.LookupEnv("LOG_REFRESH"); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("LOG_REFRESH: %w", err)
		}
		o.LogRefresh = d
	}

	return nil
}

func (o Options) Validate() error {
	u, err := url.Parse(o.Broker)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}

	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("broker %q: scheme must be ws or wss", o.Broker)
	}

	if o.LogRefresh < 0 {
		return errors.New("log_refresh must not be negative")
	}

	for _, urn := range []string{o.Sender, o.Core, o.Backplane} {
		if err := ValidateURN(urn); err != nil {
			return err
		}
	}

	return nil
}

func (o Options) Identity() Identity {
	return Identity{Sender: o.Sender, Core: o.Core, Backplane: o.Backplane}
}
