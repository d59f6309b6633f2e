package event

import "strings"

// Heuristic user-agent parsing. Opens arrive through image proxies and
// webviews, so this is substring matching, not a full UA parser: an
// unparseable agent yields "unknown", never an error.

func parseUserAgent(ua string) (deviceType, emailClient, osName string) {
	if ua == "" {
		return "unknown", "unknown", "unknown"
	}
	lower := strings.ToLower(ua)
	return detectDevice(lower), detectEmailClient(lower), detectOS(lower)
}

func detectDevice(ua string) string {
	switch {
	case strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad"):
		return "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone"):
		return "mobile"
	case strings.Contains(ua, "windows") || strings.Contains(ua, "macintosh") || strings.Contains(ua, "linux") || strings.Contains(ua, "x11"):
		return "desktop"
	default:
		return "unknown"
	}
}

func detectEmailClient(ua string) string {
	switch {
	// Gmail proxies image loads through GoogleImageProxy
	case strings.Contains(ua, "googleimageproxy") || strings.Contains(ua, "ggpht.com"):
		return "gmail"
	case strings.Contains(ua, "outlook") || strings.Contains(ua, "microsoft office"):
		return "outlook"
	case strings.Contains(ua, "thunderbird"):
		return "thunderbird"
	case strings.Contains(ua, "yahoo"):
		return "yahoo"
	case strings.Contains(ua, "applewebkit") && (strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "macintosh")):
		return "apple-mail"
	case strings.Contains(ua, "mozilla") || strings.Contains(ua, "chrome") || strings.Contains(ua, "safari"):
		return "webmail"
	default:
		return "unknown"
	}
}

func detectOS(ua string) string {
	switch {
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ios"):
		return "ios"
	case strings.Contains(ua, "android"):
		return "android"
	case strings.Contains(ua, "windows"):
		return "windows"
	case strings.Contains(ua, "macintosh") || strings.Contains(ua, "mac os"):
		return "macos"
	case strings.Contains(ua, "linux") || strings.Contains(ua, "x11"):
		return "linux"
	default:
		return "unknown"
	}
}
