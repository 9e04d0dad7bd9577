package link

// DeviceState is the kind of device event sent to the proxy.
type DeviceState int

const (
	DeviceStateUnknown    DeviceState = iota
	DeviceStateConnect                // device_connect: true
	DeviceStateDisconnect             // device_disconnect: true
)

func (s DeviceState) String() string {
	switch s {
	case DeviceStateConnect:
		return "connect"
	case DeviceStateDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}
