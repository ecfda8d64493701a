// Package platform classifies the host environment and recommends a sign-in
// strategy. Classification is a pure function of the Signals value so it can
// be tested without any real runtime environment.
package platform

// Signals is the structured environment probe fed to the classifier.
// Callers fill it from whatever host introspection they have; the classifier
// itself never reads globals.
type Signals struct {
	// NativeBridge reports whether a host-native sign-in bridge is present.
	NativeBridge bool `json:"native_bridge"`

	// Platform is the raw host identifier, e.g. "web", "webview",
	// "fire_tv", "android_tv", "tizen".
	Platform string `json:"platform"`

	// Device is the raw device class, e.g. "desktop", "mobile", "tv".
	Device string `json:"device"`

	// WebView reports whether we are running inside an embedded web view.
	WebView bool `json:"webview"`
}

type PlatformCategory string

const (
	PlatformDesktop PlatformCategory = "desktop"
	PlatformWebView PlatformCategory = "webview"

	// PlatformFireTV is the TV platform that ships a native bridge with
	// limited support; native sign-in is explicitly excluded there.
	PlatformFireTV PlatformCategory = "fire_tv"

	// PlatformTV covers TV-like hosts without a native bridge.
	PlatformTV PlatformCategory = "tv"

	PlatformUnknown PlatformCategory = "unknown"
)

type DeviceCategory string

const (
	DeviceDesktop DeviceCategory = "desktop"
	DeviceMobile  DeviceCategory = "mobile"
	DeviceTV      DeviceCategory = "tv"
	DeviceUnknown DeviceCategory = "unknown"
)

// Strategy is the single recommended authentication strategy for a host.
type Strategy string

const (
	StrategyNative      Strategy = "native"
	StrategyDeviceFlow  Strategy = "device_flow"
	StrategyWebOAuth    Strategy = "web_oauth"
	StrategyUnsupported Strategy = "unsupported"
)

// Classification is the result of classifying a Signals value.
type Classification struct {
	Platform PlatformCategory
	Device   DeviceCategory
}

// Classify maps raw host signals to platform and device categories.
func Classify(sig Signals) Classification {
	c := Classification{
		Platform: PlatformUnknown,
		Device:   DeviceUnknown,
	}

	switch sig.Platform {
	case "fire_tv":
		c.Platform = PlatformFireTV
	case "android_tv", "tizen", "webos":
		c.Platform = PlatformTV
	case "web", "desktop":
		c.Platform = PlatformDesktop
	case "webview":
		c.Platform = PlatformWebView
	}
	if sig.WebView && c.Platform == PlatformUnknown {
		c.Platform = PlatformWebView
	}

	switch sig.Device {
	case "desktop":
		c.Device = DeviceDesktop
	case "mobile":
		c.Device = DeviceMobile
	case "tv":
		c.Device = DeviceTV
	default:
		// TVs frequently misreport the device class but not the platform
		if c.Platform == PlatformFireTV || c.Platform == PlatformTV {
			c.Device = DeviceTV
		}
	}

	return c
}

// RecommendStrategy picks the single sign-in strategy for the host.
// Decision order, first match wins:
//  1. native bridge present and platform is not Fire TV -> native
//  2. TV device, or TV-like platform without a bridge -> device_flow
//  3. desktop browser or embedded web view -> web_oauth
//  4. otherwise -> unsupported (caller falls back to a degraded identity)
func RecommendStrategy(sig Signals) Strategy {
	c := Classify(sig)

	if sig.NativeBridge && c.Platform != PlatformFireTV {
		return StrategyNative
	}
	if c.Device == DeviceTV || c.Platform == PlatformFireTV || c.Platform == PlatformTV {
		return StrategyDeviceFlow
	}
	if c.Platform == PlatformDesktop || c.Platform == PlatformWebView {
		return StrategyWebOAuth
	}
	return StrategyUnsupported
}
