package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/quan-to/slog"
	"github.com/racerxdl/afedri_tcp/afedri"
	"github.com/racerxdl/afedri_tcp/device"
	"github.com/spf13/cobra"
)

var log = slog.Scope("AFEDRICTL")

var rootFlags = struct {
	configPath string
	verbose    bool
}{}

var tuneFlags = struct {
	frequency  int64
	sampleRate int
	gainIndex  int
}{}

var rootCmd = &cobra.Command{
	Use:   "afedri_ctl",
	Short: "Discover and control an AFEDRI SDR-NET receiver",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		slog.SetDebug(rootFlags.verbose)
		slog.SetShowLines(false)
	},
	SilenceUsage: true,
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Broadcast a discovery probe and print the receiver identity",
	RunE:  runDiscover,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Connect and print the receiver name and front-end clock",
	RunE:  runInfo,
}

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Open the receiver, apply the settings and stream until interrupted",
	RunE:  runTune,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootFlags.configPath, "config", "c", "", "TOML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.verbose, "verbose", "v", false, "verbose mode")

	tuneCmd.Flags().Int64VarP(&tuneFlags.frequency, "freq", "f", 7100000, "center frequency in Hz")
	tuneCmd.Flags().IntVarP(&tuneFlags.sampleRate, "rate", "s", 192000, "sample rate, one of the decimation list")
	tuneCmd.Flags().IntVarP(&tuneFlags.gainIndex, "gain-index", "g", -1, "RF gain index 0..15 (default: use default_rf_gain)")

	rootCmd.AddCommand(discoverCmd, infoCmd, tuneCmd, simCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(rootFlags.configPath)
	if err != nil {
		return err
	}

	info, err := cfg.Options().Discovery.Discover()
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	fmt.Printf("Name:   %s\nSerial: %s\nIP:     %s\nPort:   %d\n", info.Name, info.Serial, info.IP, info.Port)
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(rootFlags.configPath)
	if err != nil {
		return err
	}

	client := afedri.OpenClient(cfg.Address, cfg.Port, cfg.Options())
	defer client.Release()
	if err := client.Err(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	name, err := client.Name()
	if err != nil {
		return fmt.Errorf("read name: %w", err)
	}
	clock, err := client.FrontEndClock()
	if err != nil {
		return fmt.Errorf("read front-end clock: %w", err)
	}
	fmt.Printf("Name:            %s\nFront-end clock: %d Hz\nFirmware:        %d\n", name, clock, device.FirmwareVersion)
	return nil
}

func runTune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(rootFlags.configPath)
	if err != nil {
		return err
	}

	dev := device.New(cfg)
	if err := dev.Open(); err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer func() {
		if err := dev.Close(); err != nil {
			log.Error("Error closing device: %s", err)
		}
	}()

	rate, err := dev.SetSampleRate(tuneFlags.sampleRate)
	if err != nil {
		return fmt.Errorf("set sample rate: %w", err)
	}
	log.Info("Sample rate %d", rate)

	if err := dev.SetFrequency(tuneFlags.frequency); err != nil {
		return fmt.Errorf("set frequency: %w", err)
	}
	log.Info("Tuned to %d Hz", tuneFlags.frequency)

	if tuneFlags.gainIndex >= 0 {
		if err := dev.SetGainIndex(tuneFlags.gainIndex); err != nil {
			return fmt.Errorf("set gain: %w", err)
		}
		log.Info("Gain index %d", tuneFlags.gainIndex)
	}

	waitForSignal()
	log.Info("Closed!")
	return nil
}

func waitForSignal() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	fmt.Println(sig)
}
