package orchestrator

import (
	"crypto/md5"
	"encoding/base64"
	"strings"
	"time"

	"github.com/blockforge/compiler/internal/config"
)

// sourceBlockHeader synthesizes the `['!','! Source name: …','! Source: …','!']`
// block prefixed to each per-source result before merging (§4.5 step 6).
func sourceBlockHeader(sc config.SourceConfig) []string {
	lines := []string{"!"}
	if sc.Name != "" {
		lines = append(lines, "! Source name: "+sc.Name)
	}
	lines = append(lines, "! Source: "+sc.Source, "!")
	return lines
}

// buildHeader constructs the `['! Title: …', …, '! Last modified: …', '!',
// '! Compiled by <name> v<version>', '!']` block (§4.5 step 9).
func buildHeader(cfg config.Configuration, compilerName, compilerVersion string, now time.Time) []string {
	lines := []string{"! Title: " + cfg.Name}
	if cfg.Description != "" {
		lines = append(lines, "! Description: "+cfg.Description)
	}
	if cfg.Version != "" {
		lines = append(lines, "! Version: "+cfg.Version)
	}
	if cfg.Homepage != "" {
		lines = append(lines, "! Homepage: "+cfg.Homepage)
	}
	if cfg.License != "" {
		lines = append(lines, "! License: "+cfg.License)
	}
	lines = append(lines,
		"! Last modified: "+now.UTC().Format(time.RFC3339),
		"!",
		"! Compiled by "+compilerName+" v"+compilerVersion,
		"!",
	)
	return lines
}

// checksum computes the filter-list-ecosystem checksum convention: MD5 of
// the header+body with line endings normalized to "\n", formatted as
// base64 with the trailing '=' padding stripped (§4.5 step 10).
func checksum(headerAndBody []string) string {
	joined := strings.Join(headerAndBody, "\n")
	joined = strings.ReplaceAll(joined, "\r\n", "\n")
	sum := md5.Sum([]byte(joined))
	enc := base64.StdEncoding.EncodeToString(sum[:])
	return strings.TrimRight(enc, "=")
}

// assembleOutput prepends the checksum preamble ('!' then '! Checksum: …')
// to header++body, per §4.5 step 10's final ordering.
func assembleOutput(header, body []string) []string {
	sum := checksum(append(append([]string{}, header...), body...))
	out := make([]string, 0, len(header)+len(body)+2)
	out = append(out, "!", "! Checksum: "+sum)
	out = append(out, header...)
	out = append(out, body...)
	return out
}
