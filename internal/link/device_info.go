package link

import "net"

// DeviceInfo is the connection-level view of a device sent to the proxy.
type DeviceInfo struct {
	DeviceID   string
	RemoteIP   string
	RemotePort int
	State      DeviceState
}

// NewDeviceInfo fills the remote address fields from addr when it is TCP.
func NewDeviceInfo(deviceID string, addr net.Addr, state DeviceState) DeviceInfo {
	info := DeviceInfo{DeviceID: deviceID, State: state}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		info.RemoteIP = tcp.IP.String()
		info.RemotePort = tcp.Port
	}
	return info
}
