package afedri

import (
	"fmt"
	"net"
	"strconv"
)

// DeviceInfo is the identity a receiver reports in its discovery reply.
type DeviceInfo struct {
	Name   string
	Serial string
	IP     net.IP
	Port   uint16
}

func (d DeviceInfo) Address() string {
	return net.JoinHostPort(d.IP.String(), strconv.Itoa(int(d.Port)))
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s [%s] at %s", d.Name, d.Serial, d.Address())
}
