// Package config provides the common options of the tripcomm programs.
//
// Defaults are overridden by TRIPCOMM_* environment variables, which may be
// placed in a .env file, and then by command line flags.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
	"github.com/joho/godotenv"

	"github.com/robotalks/tripcomm/pkg/link"
	"github.com/robotalks/tripcomm/pkg/link/frame"
	"github.com/robotalks/tripcomm/pkg/link/goose"
	"github.com/robotalks/tripcomm/pkg/store"
)

// Config provides the options of the links and the reference adapters.
type Config struct {
	// Device opens the primary link: a serial device, or a ws:// URL to dial.
	Device string
	Baud   int
	// Listen accepts the primary link over websocket at this address.
	Listen string
	// HTTP serves the status endpoints at this address.
	HTTP string

	Tick       time.Duration
	Turnaround time.Duration
	Response   time.Duration
	Delayed    time.Duration

	// GooseDevice opens the publish link; empty disables it.
	GooseDevice string
	DeviceID    uint
	Sample      time.Duration
	Retry       int

	// Store locates the record store, see store.Open.
	Store    string
	Firmware string

	// MQTTBrokerURL specifies the MQTT broker to bridge to, empty disables
	// the bridge. e.g. mqtt://host:port/topic-prefix/
	MQTTBrokerURL string
}

var defaultConfig = Config{
	Baud:       115200,
	HTTP:       ":8035",
	Tick:       10 * time.Millisecond,
	Turnaround: 20 * time.Millisecond,
	Response:   500 * time.Millisecond,
	Delayed:    5 * time.Second,
	Sample:     time.Millisecond,
	Retry:      20,
	Store:      "memory",
	Firmware:   "1.0.0",
}

func init() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		glog.Warningf("load .env: %v", err)
	}
	loadEnv(&defaultConfig, os.LookupEnv)
	if defaultConfig.DeviceID == 0 {
		defaultConfig.DeviceID = MachineDeviceID()
	}
}

func loadEnv(c *Config, lookup func(string) (string, bool)) {
	strs := map[string]*string{
		"TRIPCOMM_DEVICE":       &c.Device,
		"TRIPCOMM_LISTEN":       &c.Listen,
		"TRIPCOMM_HTTP":         &c.HTTP,
		"TRIPCOMM_GOOSE_DEVICE": &c.GooseDevice,
		"TRIPCOMM_STORE":        &c.Store,
		"TRIPCOMM_FIRMWARE":     &c.Firmware,
		"TRIPCOMM_MQTT_URL":     &c.MQTTBrokerURL,
	}
	for name, p := range strs {
		if val, ok := lookup(name); ok {
			*p = val
		}
	}
	if val, ok := lookup("TRIPCOMM_BAUD"); ok {
		if n, err := strconv.Atoi(val); err == nil {
			c.Baud = n
		} else {
			glog.Warningf("TRIPCOMM_BAUD: %v", err)
		}
	}
	if val, ok := lookup("TRIPCOMM_DEVICE_ID"); ok {
		if n, err := strconv.ParseUint(val, 0, 16); err == nil {
			c.DeviceID = uint(n)
		} else {
			glog.Warningf("TRIPCOMM_DEVICE_ID: %v", err)
		}
	}
}

// MachineDeviceID derives a publish link device id from the machine id.
func MachineDeviceID() uint {
	id, err := machineid.ID()
	if err != nil {
		glog.Warningf("machine id: %v", err)
		return 1
	}
	return DeviceIDFrom(id)
}

// DeviceIDFrom hashes a machine id into a non-zero device id.
func DeviceIDFrom(machine string) uint {
	if id := uint(frame.Checksum([]byte(machine))); id != 0 {
		return id
	}
	return 1
}

// SetupFlags sets command line flags.
func SetupFlags() {
	defaultConfig.BindFlags(flag.CommandLine)
}

// BindFlags binds the options to fs.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Device, "device", c.Device, "Primary link: serial device or ws:// URL")
	fs.IntVar(&c.Baud, "baud", c.Baud, "Serial baud rate")
	fs.StringVar(&c.Listen, "listen", c.Listen, "Accept the primary link over websocket at this address")
	fs.StringVar(&c.HTTP, "http", c.HTTP, "Status HTTP address")
	fs.DurationVar(&c.Tick, "tick", c.Tick, "Poll period of the primary link")
	fs.DurationVar(&c.Turnaround, "turnaround", c.Turnaround, "Turnaround wait")
	fs.DurationVar(&c.Response, "response", c.Response, "Response wait")
	fs.DurationVar(&c.Delayed, "delayed", c.Delayed, "Delayed read wait")
	fs.StringVar(&c.GooseDevice, "goose-device", c.GooseDevice, "Publish link serial device")
	fs.UintVar(&c.DeviceID, "device-id", c.DeviceID, "Publish link device id")
	fs.DurationVar(&c.Sample, "sample", c.Sample, "Publish link sample period")
	fs.IntVar(&c.Retry, "retry", c.Retry, "Samples a publish stays outstanding")
	fs.StringVar(&c.Store, "store", c.Store, "Record store: memory or sqlite file")
	fs.StringVar(&c.Firmware, "firmware", c.Firmware, "Firmware version reported")
	fs.StringVar(&c.MQTTBrokerURL, "mqtt", c.MQTTBrokerURL, "MQTT broker URL")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// LinkConfig returns the configuration of the primary link port.
func (c *Config) LinkConfig() link.Config {
	conf := link.DefaultConfig()
	c.timing(&conf)
	return conf
}

// ClientConfig returns the configuration of the requesting peer.
func (c *Config) ClientConfig() link.Config {
	conf := link.DefaultClientConfig()
	c.timing(&conf)
	return conf
}

func (c *Config) timing(conf *link.Config) {
	conf.Tick = c.Tick
	conf.Turnaround = c.Turnaround
	conf.Response = c.Response
	conf.Delayed = c.Delayed
}

// GooseConfig returns the configuration of the publish link.
func (c *Config) GooseConfig() goose.Config {
	conf := goose.DefaultConfig()
	conf.DeviceID = uint16(c.DeviceID)
	conf.Sample = c.Sample
	conf.Retry = c.Retry
	return conf
}

// OpenStore opens the configured record store.
func (c *Config) OpenStore() (store.Store, error) {
	return store.Open(c.Store)
}
