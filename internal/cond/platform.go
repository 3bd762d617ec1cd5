package cond

import "strings"

// knownPlatforms is the fixed closed set of platform identifiers component B
// recognizes (§4.1).
var knownPlatforms = map[string]struct{}{
	"windows":               {},
	"mac":                   {},
	"android":               {},
	"ios":                   {},
	"ext_chromium":          {},
	"ext_ff":                {},
	"ext_edge":              {},
	"ext_opera":             {},
	"ext_safari":            {},
	"ext_ublock":            {},
	"adguard":               {},
	"adguard_app_windows":   {},
	"adguard_app_mac":       {},
	"adguard_app_android":   {},
	"adguard_app_ios":       {},
	"adguard_ext_chromium":  {},
	"adguard_ext_firefox":   {},
	"adguard_ext_edge":      {},
	"adguard_ext_opera":     {},
	"adguard_ext_safari":    {},
}

func isKnownPlatform(id string) bool {
	_, ok := knownPlatforms[strings.ToLower(id)]
	return ok
}
