// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/signal-client/pkg/utils"
)

const (
	generatedCLIFlagUsage = "generated"
	envVarPrefix          = "RSP"
)

var (
	ErrSignalingURLNotSet = errors.New("signaling url is not set")
	ErrInvalidPortRange   = errors.New("invalid ICE port range")

	durationType = reflect.TypeOf(time.Duration(0))
)

type Config struct {
	Signaling      SignalingConfig `yaml:"signaling,omitempty"`
	RTC            RTCConfig       `yaml:"rtc,omitempty"`
	ICEServers     ICEServerConfig `yaml:"ice_servers,omitempty"`
	Insights       InsightsConfig  `yaml:"insights,omitempty"`
	Logging        LoggingConfig   `yaml:"logging,omitempty"`
	PrometheusPort uint32          `yaml:"prometheus_port,omitempty"`
	Development    bool            `yaml:"development,omitempty"`
}

type SignalingConfig struct {
	URL        string `yaml:"url,omitempty"`
	PublishURL string `yaml:"publish_url,omitempty"`
	Name       string `yaml:"name,omitempty"`
	UserAgent  string `yaml:"user_agent,omitempty"`

	MaxReconnectAttempts int                       `yaml:"max_reconnect_attempts,omitempty"`
	ReconnectBackOff     utils.JitterBackOffConfig `yaml:"reconnect_backoff,omitempty"`
	MaxPublishAttempts   int                       `yaml:"max_publish_attempts,omitempty"`
	PublishBackOff       utils.JitterBackOffConfig `yaml:"publish_backoff,omitempty"`

	// reconnect window after a drop, used until the server announces one
	SessionTimeout            time.Duration `yaml:"session_timeout,omitempty"`
	WelcomeTimeout            time.Duration `yaml:"welcome_timeout,omitempty"`
	RequestedHeartbeatTimeout time.Duration `yaml:"heartbeat_timeout,omitempty"`
	MaxMissedHeartbeats       int           `yaml:"max_missed_heartbeats,omitempty"`
}

type ICEServerEntry struct {
	URLs       []string `yaml:"urls,omitempty"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type RTCConfig struct {
	ICEServers         []ICEServerEntry `yaml:"ice_servers,omitempty"`
	ICETransportPolicy string           `yaml:"ice_transport_policy,omitempty"`
	ICEPortRangeStart  uint16           `yaml:"port_range_start,omitempty"`
	ICEPortRangeEnd    uint16           `yaml:"port_range_end,omitempty"`

	ActivityCheckPeriod time.Duration             `yaml:"activity_check_period,omitempty"`
	InactivityThreshold time.Duration             `yaml:"inactivity_threshold,omitempty"`
	ICEGatheringTimeout time.Duration             `yaml:"ice_gathering_timeout,omitempty"`
	ICERestartBackOff   utils.JitterBackOffConfig `yaml:"ice_restart_backoff,omitempty"`
}

type ICEServerConfig struct {
	Endpoint       string        `yaml:"endpoint,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	DefaultTTL     time.Duration `yaml:"default_ttl,omitempty"`
	AbortOnTimeout bool          `yaml:"abort_on_timeout,omitempty"`
	Defaults       []string      `yaml:"defaults,omitempty"`
	CacheSize      int           `yaml:"cache_size,omitempty"`
}

type InsightsConfig struct {
	Enabled              bool          `yaml:"enabled,omitempty"`
	URL                  string        `yaml:"url,omitempty"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts,omitempty"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval,omitempty"`
	MaxQueuedEvents      int           `yaml:"max_queued_events,omitempty"`
}

type LoggingConfig struct {
	logger.Config `yaml:",inline"`
	PionLevel     string `yaml:"pion_level,omitempty"`
}

var DefaultConfig = Config{
	Signaling: SignalingConfig{
		Name:                 "signal-client",
		UserAgent:            "signal-client (go)",
		MaxReconnectAttempts: 10,
		ReconnectBackOff: utils.JitterBackOffConfig{
			Base:   80 * time.Millisecond,
			Factor: 2,
			Max:    5 * time.Second,
			Jitter: 40 * time.Millisecond,
		},
		MaxPublishAttempts: 5,
		PublishBackOff: utils.JitterBackOffConfig{
			Base:   100 * time.Millisecond,
			Factor: 2,
			Max:    5 * time.Second,
			Jitter: 50 * time.Millisecond,
		},
		SessionTimeout:            30 * time.Second,
		WelcomeTimeout:            5 * time.Second,
		RequestedHeartbeatTimeout: 5 * time.Second,
		MaxMissedHeartbeats:       3,
	},
	RTC: RTCConfig{
		ICETransportPolicy:  "all",
		ActivityCheckPeriod: time.Second,
		InactivityThreshold: 3 * time.Second,
		ICEGatheringTimeout: 15 * time.Second,
		ICERestartBackOff: utils.JitterBackOffConfig{
			Base:   time.Millisecond,
			Factor: 1.1,
			Max:    30 * time.Second,
		},
	},
	ICEServers: ICEServerConfig{
		Timeout:    3 * time.Second,
		DefaultTTL: 3600 * time.Second,
		Defaults:   []string{"stun:stun.l.google.com:19302"},
		CacheSize:  16,
	},
	Insights: InsightsConfig{
		MaxReconnectAttempts: 5,
		ReconnectInterval:    50 * time.Millisecond,
		MaxQueuedEvents:      1000,
	},
	Logging: LoggingConfig{
		Config: logger.Config{
			Level: "info",
		},
		PionLevel: "error",
	},
}

func NewConfig(confString string, strictMode bool, c *cli.Context, baseFlags []cli.Flag) (*Config, error) {
	// start with defaults
	marshalled, err := yaml.Marshal(&DefaultConfig)
	if err != nil {
		return nil, err
	}

	var conf Config
	err = yaml.Unmarshal(marshalled, &conf)
	if err != nil {
		return nil, err
	}

	if confString != "" {
		decoder := yaml.NewDecoder(strings.NewReader(confString))
		decoder.KnownFields(strictMode)
		if err := decoder.Decode(&conf); err != nil {
			return nil, fmt.Errorf("could not parse config: %v", err)
		}
	}

	if c != nil {
		if err := conf.updateFromCLI(c, baseFlags); err != nil {
			return nil, err
		}
	}

	if err := conf.RTC.Validate(); err != nil {
		return nil, fmt.Errorf("could not validate RTC config: %v", err)
	}

	// urls may point at local unix sockets or files during development
	for _, u := range []*string{&conf.Signaling.URL, &conf.Signaling.PublishURL, &conf.ICEServers.Endpoint} {
		if !strings.HasPrefix(*u, "~") && !strings.Contains(*u, "$") {
			continue
		}
		expanded, err := homedir.Expand(os.ExpandEnv(*u))
		if err != nil {
			return nil, err
		}
		*u = expanded
	}

	if conf.Logging.Level == "" && conf.Development {
		conf.Logging.Level = "debug"
	}

	return &conf, nil
}

func (r *RTCConfig) Validate() error {
	if r.ICEPortRangeStart != 0 || r.ICEPortRangeEnd != 0 {
		if r.ICEPortRangeStart == 0 || r.ICEPortRangeEnd < r.ICEPortRangeStart {
			return errors.Wrapf(ErrInvalidPortRange, "%d-%d", r.ICEPortRangeStart, r.ICEPortRangeEnd)
		}
	}
	switch r.ICETransportPolicy {
	case "", "all", "relay":
	default:
		return fmt.Errorf("unknown ice transport policy %q", r.ICETransportPolicy)
	}
	return nil
}

// ValidateSignaling is checked only by commands that actually dial a server.
func (conf *Config) ValidateSignaling() error {
	if conf.Signaling.URL == "" {
		return ErrSignalingURLNotSet
	}
	return nil
}

type configNode struct {
	TypeNode  reflect.Value
	TagPrefix string
}

func (conf *Config) ToCLIFlagNames(existingFlags []cli.Flag) map[string]reflect.Value {
	existingFlagNames := map[string]bool{}
	for _, flag := range existingFlags {
		for _, flagName := range flag.Names() {
			existingFlagNames[flagName] = true
		}
	}

	flagNames := map[string]reflect.Value{}
	var currNode configNode
	nodes := []configNode{{reflect.ValueOf(conf).Elem(), ""}}
	for len(nodes) > 0 {
		currNode, nodes = nodes[0], nodes[1:]
		for i := 0; i < currNode.TypeNode.NumField(); i++ {
			// inspect yaml tag from struct field to get path
			field := currNode.TypeNode.Type().Field(i)
			yamlTag := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
			if yamlTag == "" || yamlTag == "-" {
				continue
			}
			yamlPath := yamlTag
			if currNode.TagPrefix != "" {
				yamlPath = fmt.Sprintf("%s.%s", currNode.TagPrefix, yamlTag)
			}
			if existingFlagNames[yamlPath] {
				continue
			}

			// map flag name to value
			value := currNode.TypeNode.Field(i)
			if value.Kind() == reflect.Struct {
				nodes = append(nodes, configNode{value, yamlPath})
			} else {
				flagNames[yamlPath] = value
			}
		}
	}

	return flagNames
}

func GenerateCLIFlags(existingFlags []cli.Flag, hidden bool) ([]cli.Flag, error) {
	blankConfig := &Config{}
	flags := make([]cli.Flag, 0)
	for name, value := range blankConfig.ToCLIFlagNames(existingFlags) {
		envVar := fmt.Sprintf("%s_%s", envVarPrefix, strings.ToUpper(strings.Replace(name, ".", "_", -1)))

		if value.Type() == durationType {
			flags = append(flags, &cli.DurationFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			})
			continue
		}

		var flag cli.Flag
		switch kind := value.Kind(); kind {
		case reflect.Bool:
			flag = &cli.BoolFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.String:
			flag = &cli.StringFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Int, reflect.Int32, reflect.Int64:
			flag = &cli.Int64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			flag = &cli.Uint64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Float32, reflect.Float64:
			flag = &cli.Float64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Slice:
			if value.Type().Elem().Kind() != reflect.String {
				continue
			}
			flag = &cli.StringSliceFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		default:
			return flags, fmt.Errorf("cli flag generation unsupported for config type: %s is a %s", name, kind.String())
		}

		flags = append(flags, flag)
	}

	return flags, nil
}

func (conf *Config) updateFromCLI(c *cli.Context, baseFlags []cli.Flag) error {
	generatedFlagNames := conf.ToCLIFlagNames(baseFlags)
	for _, flag := range c.App.Flags {
		flagName := flag.Names()[0]

		// the `c.App.Name != "test"` check is needed because `c.IsSet(...)` is always false in unit tests
		if !c.IsSet(flagName) && c.App.Name != "test" {
			continue
		}

		configValue, ok := generatedFlagNames[flagName]
		if !ok {
			continue
		}

		if configValue.Type() == durationType {
			configValue.SetInt(int64(c.Duration(flagName)))
			continue
		}

		switch kind := configValue.Kind(); kind {
		case reflect.Bool:
			configValue.SetBool(c.Bool(flagName))
		case reflect.String:
			configValue.SetString(c.String(flagName))
		case reflect.Int, reflect.Int32, reflect.Int64:
			configValue.SetInt(c.Int64(flagName))
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			configValue.SetUint(c.Uint64(flagName))
		case reflect.Float32, reflect.Float64:
			configValue.SetFloat(c.Float64(flagName))
		case reflect.Slice:
			configValue.Set(reflect.ValueOf(c.StringSlice(flagName)))
		default:
			return fmt.Errorf("unsupported generated cli flag type for config: %s is a %s", flagName, kind.String())
		}
	}

	if c.IsSet("dev") {
		conf.Development = c.Bool("dev")
	}
	if c.IsSet("url") {
		conf.Signaling.URL = c.String("url")
	}
	if c.IsSet("log-level") {
		conf.Logging.Level = c.String("log-level")
	}
	return nil
}

// GetConfigString returns the inline body when given, otherwise the file contents.
func GetConfigString(configFile string, inConfigBody string) (string, error) {
	if inConfigBody != "" || configFile == "" {
		return inConfigBody, nil
	}

	outConfigBody, err := os.ReadFile(configFile)
	if err != nil {
		return "", err
	}

	return string(outConfigBody), nil
}

func InitLoggerFromConfig(config *LoggingConfig) {
	logger.InitFromConfig(config.Config, "signal-client")
}
