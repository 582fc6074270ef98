package mtproto

import "github.com/gotd/td/telegram"

// Device is the client fingerprint reported to the provider.
type Device struct {
	Model      string
	System     string
	AppVersion string
	LangCode   string
}

// DefaultDevice is used when no device is configured.
var DefaultDevice = Device{
	Model:      "Samsung Galaxy S24 Ultra",
	System:     "SDK 34",
	AppVersion: "10.9.1",
	LangCode:   "en",
}

// DeviceStrategy picks the fingerprint for a new session.
type DeviceStrategy interface {
	Device() Device
}

// FixedDevice always reports the same device. Empty fields fall back to DefaultDevice.
type FixedDevice Device

func (d FixedDevice) Device() Device {
	out := Device(d)
	if out.Model == "" {
		out.Model = DefaultDevice.Model
	}
	if out.System == "" {
		out.System = DefaultDevice.System
	}
	if out.AppVersion == "" {
		out.AppVersion = DefaultDevice.AppVersion
	}
	if out.LangCode == "" {
		out.LangCode = DefaultDevice.LangCode
	}
	return out
}

func (d Device) config() telegram.DeviceConfig {
	return telegram.DeviceConfig{
		DeviceModel:    d.Model,
		SystemVersion:  d.System,
		AppVersion:     d.AppVersion,
		SystemLangCode: d.LangCode,
		LangCode:       d.LangCode,
	}
}
