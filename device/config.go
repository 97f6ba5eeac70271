package device

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/racerxdl/afedri_tcp/afedri"
)

// DefaultDecimations are the sample rates the receiver delivers for its decimation endpoints.
var DefaultDecimations = []int{53333, 96000, 133333, 185185, 192000, 370370, 740740, 1333333}

// DefaultDecimationIndex is used when a requested sample rate is not in the allow-list.
const DefaultDecimationIndex = 0

// Config is what the host application hands to the device.
type Config struct {
	Address       string
	Port          int
	DefaultRFGain int
	Decimations   []int

	ConnectTimeout   time.Duration
	ReadTimeout      time.Duration
	DiscoveryTimeout time.Duration
	BroadcastAddress string
	DiscoveryPort    int
	ReplyPort        int

	OpenRetries uint64
	RetryDelay  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Address:          afedri.DiscoverAddress,
		Port:             afedri.DefaultPort,
		DefaultRFGain:    0,
		Decimations:      append([]int(nil), DefaultDecimations...),
		ConnectTimeout:   afedri.DefaultConnectTimeout,
		ReadTimeout:      afedri.DefaultReadTimeout,
		DiscoveryTimeout: afedri.DiscoveryTimeout,
		BroadcastAddress: net.IPv4bcast.String(),
		DiscoveryPort:    afedri.DiscoveryServerPort,
		ReplyPort:        afedri.DiscoveryClientPort,
		OpenRetries:      2,
		RetryDelay:       500 * time.Millisecond,
	}
}

func (cfg Config) Validate() error {
	ip := net.ParseIP(strings.TrimSpace(cfg.Address))
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("sdr_address %q is not an IPv4 address", cfg.Address)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("sdr_port %d out of range", cfg.Port)
	}
	if len(cfg.Decimations) == 0 {
		return fmt.Errorf("decimation list is empty")
	}
	for i, v := range cfg.Decimations {
		if v <= 0 {
			return fmt.Errorf("decimation[%d] = %d must be positive", i, v)
		}
	}
	if cfg.ConnectTimeout <= 0 || cfg.ReadTimeout <= 0 || cfg.DiscoveryTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if b := net.ParseIP(cfg.BroadcastAddress); b == nil || b.To4() == nil {
		return fmt.Errorf("broadcast_address %q is not an IPv4 address", cfg.BroadcastAddress)
	}
	return nil
}

// withDefaults fills the zero fields of cfg from DefaultConfig. OpenRetries is
// left alone, zero means a single attempt.
func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.Address) == "" {
		cfg.Address = def.Address
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if len(cfg.Decimations) == 0 {
		cfg.Decimations = def.Decimations
	} else {
		cfg.Decimations = append([]int(nil), cfg.Decimations...)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = def.DiscoveryTimeout
	}
	if cfg.BroadcastAddress == "" {
		cfg.BroadcastAddress = def.BroadcastAddress
	}
	if cfg.DiscoveryPort == 0 {
		cfg.DiscoveryPort = def.DiscoveryPort
	}
	if cfg.ReplyPort == 0 {
		cfg.ReplyPort = def.ReplyPort
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	return cfg
}

// Options maps the host configuration onto session options.
func (cfg Config) Options() afedri.Options {
	return afedri.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		Discovery: afedri.Discoverer{
			BroadcastAddress: cfg.BroadcastAddress,
			ServerPort:       cfg.DiscoveryPort,
			ClientPort:       cfg.ReplyPort,
			Timeout:          cfg.DiscoveryTimeout,
		},
	}
}
