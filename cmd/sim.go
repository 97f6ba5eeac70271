package main

import (
	"fmt"
	"net"

	"github.com/racerxdl/afedri_tcp/afedri"
	"github.com/spf13/cobra"
)

var simFlags = struct {
	listen    string
	discovery string
	replyPort int
	name      string
	serial    string
	ip        string
	clock     uint32
	quantize  bool
}{}

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run an AFEDRI SDR-NET emulator (control port and discovery responder)",
	RunE:  runSim,
}

func init() {
	simCmd.Flags().StringVarP(&simFlags.listen, "listen", "l", fmt.Sprintf(":%d", afedri.DefaultPort), "control listen address")
	simCmd.Flags().StringVar(&simFlags.discovery, "discovery", fmt.Sprintf(":%d", afedri.DiscoveryServerPort), "discovery listen address (empty disables)")
	simCmd.Flags().IntVar(&simFlags.replyPort, "reply-port", afedri.DiscoveryClientPort, "port discovery replies are sent to")
	simCmd.Flags().StringVar(&simFlags.name, "name", afedri.DefaultDeviceName, "reported device name")
	simCmd.Flags().StringVar(&simFlags.serial, "serial", afedri.DefaultDeviceSerial, "reported serial number")
	simCmd.Flags().StringVar(&simFlags.ip, "ip", "", "IPv4 address reported in discovery replies (default: listen address)")
	simCmd.Flags().Uint32Var(&simFlags.clock, "clock", afedri.DefaultFrontEndClock, "front-end clock in Hz")
	simCmd.Flags().BoolVar(&simFlags.quantize, "quantize", false, "quantize sample rates to clock / (4 * N)")
}

func runSim(cmd *cobra.Command, args []string) error {
	info := afedri.DeviceInfo{
		Name:   simFlags.name,
		Serial: simFlags.serial,
	}
	if simFlags.ip != "" {
		info.IP = net.ParseIP(simFlags.ip).To4()
		if info.IP == nil {
			return fmt.Errorf("invalid --ip %q", simFlags.ip)
		}
	}

	server := afedri.MakeServer(simFlags.listen)
	server.SetDeviceInfo(info)
	server.SetFrontEndClock(simFlags.clock)
	server.SetQuantize(simFlags.quantize)
	if simFlags.discovery != "" {
		server.SetDiscovery(simFlags.discovery, simFlags.replyPort)
	}
	server.SetOnConnect(func(sessionId string, address string) {
		log.Debug("New connection from %s [%s]", address, sessionId)
	})

	if err := server.Start(); err != nil {
		return fmt.Errorf("start emulator: %w", err)
	}
	waitForSignal()
	server.Stop()

	log.Info("Closed!")
	return nil
}
