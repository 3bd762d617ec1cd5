package rule

import (
	"net"
	"strings"
)

// HostsRule is an /etc/hosts-style line: an IP/localhost token followed by
// one or more hostnames, with an optional inline comment.
type HostsRule struct {
	IP      string
	Hosts   []string
	Comment string
}

func parseHosts(line string) (*HostsRule, bool) {
	content := strings.TrimSpace(line)
	comment := ""
	if idx := strings.Index(content, " #"); idx >= 0 {
		comment = strings.TrimSpace(content[idx+1:])
		content = strings.TrimSpace(content[:idx])
	} else if idx := strings.Index(content, "\t#"); idx >= 0 {
		comment = strings.TrimSpace(content[idx+1:])
		content = strings.TrimSpace(content[:idx])
	}
	fields := strings.Fields(content)
	if len(fields) < 2 {
		return nil, false
	}
	if !isHostsAddress(fields[0]) {
		return nil, false
	}
	return &HostsRule{IP: fields[0], Hosts: append([]string(nil), fields[1:]...), Comment: comment}, true
}

func isHostsAddress(tok string) bool {
	if tok == "localhost" {
		return true
	}
	return net.ParseIP(tok) != nil
}

// ToAdblockRules expands a hosts line into one adblock pattern per
// hostname, per the Compress transformation pass (`||<host>^`).
func (h *HostsRule) ToAdblockRules() []*AdblockRule {
	out := make([]*AdblockRule, 0, len(h.Hosts))
	for _, host := range h.Hosts {
		out = append(out, &AdblockRule{Pattern: "||" + host + "^"})
	}
	return out
}
