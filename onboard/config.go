package onboard

import (
	"fmt"
	"os"
	"time"

	"github.com/CodedInternet/gorover/onboard/hardware"
	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v2"
)

const CONFIG_VERSION = 1

const (
	BackendSimulator = "sim"
	BackendCAN       = "can"
	BackendSerial    = "serial"
)

type RobotConfig struct {
	Version int
	Backend string

	CAN struct {
		Bus  string
		Node uint32
	} `yaml:"can"`

	Serial struct {
		Device string
		Baud   int
	}

	Pins         PinMap
	PwmFrequency int `yaml:"pwm_frequency"`

	Control struct {
		MaxMoveTicks      int           `yaml:"max_move_ticks"`
		DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`
		ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	}

	Heartbeat struct {
		Interval time.Duration
	}

	Simulator struct {
		Gain [2]float64 `yaml:"gain,flow"` // left and right wheel speed relative to nominal
	}

	Routines map[string][]RoutineStep
}

type PinMap struct {
	Left  WheelConfig
	Right WheelConfig
	LED   int `yaml:"led"`
}

// WheelConfig reads the pins of one motor driver, with both encoder phases
// given as a pair.
type WheelConfig struct {
	hardware.WheelPins
}

type YAMLWheel struct {
	Pwm       int   `yaml:"pwm"`
	Direction int   `yaml:"direction"`
	Brake     int   `yaml:"brake"`
	Encoders  []int `yaml:"encoders,flow"`
	Thermal   int   `yaml:"thermal,omitempty"`
	Current   int   `yaml:"current,omitempty"`
}

func (wc WheelConfig) MarshalYAML() (interface{}, error) {
	return &YAMLWheel{
		wc.Pwm,
		wc.Direction,
		wc.Brake,
		[]int{wc.Encoders[0], wc.Encoders[1]},
		wc.ThermalFlag,
		wc.Current,
	}, nil
}

func (wc *WheelConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	// start from the current pins so a partial entry only overrides what it names
	yw := YAMLWheel{
		wc.Pwm,
		wc.Direction,
		wc.Brake,
		[]int{wc.Encoders[0], wc.Encoders[1]},
		wc.ThermalFlag,
		wc.Current,
	}
	if err := unmarshal(&yw); err != nil {
		return err
	}
	if len(yw.Encoders) != 2 {
		return fmt.Errorf("a wheel needs exactly two encoder pins, got %v", yw.Encoders)
	}

	wc.WheelPins = hardware.WheelPins{
		Pwm:         yw.Pwm,
		Direction:   yw.Direction,
		Brake:       yw.Brake,
		Encoders:    [2]int{yw.Encoders[0], yw.Encoders[1]},
		ThermalFlag: yw.Thermal,
		Current:     yw.Current,
	}
	return nil
}

// DefaultConfig matches the wiring of the stock rover board.
func DefaultConfig() RobotConfig {
	var c RobotConfig
	c.Version = CONFIG_VERSION
	c.Backend = BackendSimulator
	c.CAN.Bus = "can0"
	c.CAN.Node = 0x10
	c.Serial.Device = "/dev/ttyACM0"
	c.Serial.Baud = hardware.SERIAL_BAUD
	c.Pins = PinMap{
		Left: WheelConfig{hardware.WheelPins{
			Pwm: 6, Direction: 8, Brake: 10, Encoders: [2]int{14, 15}, ThermalFlag: 12, Current: 31,
		}},
		Right: WheelConfig{hardware.WheelPins{
			Pwm: 7, Direction: 9, Brake: 11, Encoders: [2]int{16, 17}, ThermalFlag: 13, Current: 32,
		}},
		LED: 0,
	}
	c.PwmFrequency = 1000
	c.Control.ReconnectInterval = time.Second
	c.Heartbeat.Interval = 500 * time.Millisecond
	c.Simulator.Gain = [2]float64{1, 1}
	c.Routines = map[string][]RoutineStep{
		"demo": DemoRoutine(),
	}
	return c
}

// EnvConfig holds the settings taken from the environment, they win over the
// config file.
type EnvConfig struct {
	ConfigFile string `env:"GOROVER_CONFIG" envDefault:"./rover.yaml"`
	Backend    string `env:"GOROVER_BACKEND"`
	Serial     string `env:"GOROVER_SERIAL"`
	CANBus     string `env:"GOROVER_CAN"`
	Debug      bool   `env:"DEBUG"`
}

func LoadEnv() (e EnvConfig, err error) {
	err = env.Parse(&e)
	return
}

// ParseConfig reads a yaml config on top of the defaults.
func ParseConfig(data []byte) (c RobotConfig, err error) {
	c = DefaultConfig()
	if err = yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("unable to parse config: %w", err)
	}
	return c, c.Validate()
}

// LoadConfig reads filename and applies the environment overrides. A missing
// file leaves the defaults in place.
func LoadConfig(filename string, e EnvConfig) (c RobotConfig, err error) {
	data, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		data, err = nil, nil
	}
	if err != nil {
		return c, fmt.Errorf("unable to read config %s: %w", filename, err)
	}

	if c, err = ParseConfig(data); err != nil {
		return
	}

	if e.Backend != "" {
		c.Backend = e.Backend
	}
	if e.Serial != "" {
		c.Serial.Device = e.Serial
	}
	if e.CANBus != "" {
		c.CAN.Bus = e.CANBus
	}

	return c, c.Validate()
}

func (c RobotConfig) Validate() error {
	if c.Version != CONFIG_VERSION {
		return fmt.Errorf("unable to work with version %d", c.Version)
	}

	switch c.Backend {
	case BackendSimulator, BackendCAN, BackendSerial:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	if c.Control.ReconnectInterval <= 0 {
		return fmt.Errorf("reconnect interval must be positive, got %s", c.Control.ReconnectInterval)
	}

	if c.PwmFrequency <= 0 {
		return fmt.Errorf("pwm frequency must be positive, got %d", c.PwmFrequency)
	}

	for name, steps := range c.Routines {
		for i, step := range steps {
			if err := step.Validate(); err != nil {
				return fmt.Errorf("routine %s step %d: %w", name, i+1, err)
			}
		}
	}

	return nil
}
