// Package device is the host-facing AFEDRI SDR-NET receiver. It hides the control
// protocol behind a small fixed set of entry points.
package device

import (
	"github.com/cenkalti/backoff"
	"github.com/quan-to/slog"
	"github.com/racerxdl/afedri_tcp/afedri"
)

// FirmwareVersion identifies the protocol variant this package speaks.
const FirmwareVersion = 226

type Device struct {
	cfg    Config
	client *afedri.Client
	log    slog.Instance
}

// New connects to the receiver described by cfg. Zero fields take their defaults.
// It never fails: without a device the session is Closed and Open reports it.
func New(cfg Config) *Device {
	d := &Device{
		cfg: cfg.withDefaults(),
		log: slog.Scope("AFEDRI Device"),
	}
	if err := d.cfg.Validate(); err != nil {
		d.log.Warn("Configuration: %s", err)
	}
	d.client = d.dial()
	if err := d.client.Err(); err != nil {
		d.log.Error("No device at startup: %s", err)
	}
	return d
}

func (d *Device) dial() *afedri.Client {
	return afedri.OpenClient(d.cfg.Address, d.cfg.Port, d.cfg.Options())
}

func (d *Device) usable() bool {
	s := d.client.State()
	return s == afedri.StateConnected || s == afedri.StateStreaming
}

func (d *Device) reconnect() error {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(d.cfg.RetryDelay), d.cfg.OpenRetries)
	return backoff.Retry(func() error {
		d.client.Release()
		d.client = d.dial()
		if d.usable() {
			return nil
		}
		err := d.client.Err()
		if err == nil {
			err = afedri.NewError(afedri.ErrKindNotConnected, "session is %s", d.client.State())
		}
		d.log.Debug("Open attempt failed: %s", err)
		return err
	}, policy)
}

func (d *Device) openSession() error {
	if err := d.reconnect(); err != nil {
		d.log.Error("No AFEDRI device available: %s", err)
		return &afedri.ProtocolError{Kind: afedri.ErrKindNotConnected, Msg: "no device", Err: err}
	}
	return nil
}

// Open makes sure a session exists, logs the receiver name, starts the capture
// and applies the default RF gain.
func (d *Device) Open() error {
	if !d.usable() {
		if err := d.openSession(); err != nil {
			return err
		}
	}

	name, err := d.client.Name()
	if afedri.KindOf(err) == afedri.ErrKindTransport {
		// The link died under a session that still looked alive.
		d.log.Info("Lost the receiver (%s), reconnecting", err)
		if err := d.openSession(); err != nil {
			return err
		}
		name, err = d.client.Name()
	}
	if err != nil {
		return err
	}
	d.log.Info("Connected to %s", name)

	if d.client.State() == afedri.StateConnected {
		if err := d.client.StartCapture(); err != nil {
			return err
		}
	}

	index := afedri.NearestGainIndex(d.cfg.DefaultRFGain)
	d.log.Debug("Default RF gain %d dB maps to index %d", d.cfg.DefaultRFGain, index)
	return d.SetGainIndex(index)
}

// Close stops the capture and releases the session.
func (d *Device) Close() error {
	var err error
	if d.client.State() == afedri.StateStreaming {
		err = d.client.StopCapture()
	}
	_ = d.client.Close()
	return err
}

// SetFrequency tunes the receiver. Zero or negative means unset and is ignored.
func (d *Device) SetFrequency(vfoHz int64) error {
	if vfoHz <= 0 {
		return nil
	}
	adopted, err := d.client.SetCenterFrequency(uint64(vfoHz))
	if err != nil {
		return err
	}
	d.log.Debug("Frequency set to %d Hz", adopted)
	return nil
}

// SetSampleRate accepts only rates from the decimation list; anything else
// falls back to the default entry. It returns the rate the receiver adopted.
func (d *Device) SetSampleRate(sps int) (int, error) {
	rate := sps
	if !d.allowed(sps) {
		if len(d.cfg.Decimations) <= DefaultDecimationIndex {
			return 0, afedri.NewError(afedri.ErrKindInvalidArgument, "sample rate %d not supported and no default rate", sps)
		}
		rate = d.cfg.Decimations[DefaultDecimationIndex]
		d.log.Info("Sample rate %d not supported, using %d", sps, rate)
	}
	adopted, err := d.client.SetSampleRate(uint64(rate))
	if err != nil {
		return 0, err
	}
	return int(adopted), nil
}

func (d *Device) allowed(sps int) bool {
	for _, v := range d.cfg.Decimations {
		if v == sps {
			return true
		}
	}
	return false
}

func (d *Device) SetGainIndex(i int) error {
	if i < afedri.GainIndexMin || i > afedri.GainIndexMax {
		return afedri.NewError(afedri.ErrKindInvalidArgument, "gain index %d outside [%d, %d]", i, afedri.GainIndexMin, afedri.GainIndexMax)
	}
	db, err := d.client.SetGainIndex(i)
	if err != nil {
		return err
	}
	d.log.Debug("RF gain set to %d dB", db)
	return nil
}

// Decimations lists the supported sample rates.
func (d *Device) Decimations() []int {
	return append([]int(nil), d.cfg.Decimations...)
}

func (d *Device) FirmwareVersion() int {
	return FirmwareVersion
}

// Heartbeat is part of the host contract; the receiver needs no keepalive.
func (d *Device) Heartbeat() {}

func (d *Device) Name() (string, error) {
	return d.client.Name()
}

func (d *Device) State() afedri.SessionState {
	return d.client.State()
}
