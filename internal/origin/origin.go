// Package origin validates browser Origin headers for the signaling endpoints.
package origin

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// NormalizeHeader validates a browser Origin header and returns the
// normalized origin (scheme://host[:port]) plus the host[:port] part used for
// same-host comparisons. Default ports are dropped.
//
// The opaque origin "null" is accepted and returned with an empty host.
func NormalizeHeader(header string) (normalized string, host string, ok bool) {
	raw := strings.TrimSpace(header)
	switch raw {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether a normalized origin may talk to requestHost.
//
// A non-empty allowlist is matched exactly ("*" matches everything). With no
// allowlist only same-host requests pass. The scheme is not compared because
// TLS is usually terminated by a proxy in front of the server.
func IsAllowed(normalized, originHost, requestHost string, allowed []string) bool {
	if len(allowed) > 0 {
		for _, a := range allowed {
			if a == "*" || a == normalized {
				return true
			}
		}
		return false
	}

	var scheme string
	switch {
	case strings.HasPrefix(normalized, "http://"):
		scheme = "http"
	case strings.HasPrefix(normalized, "https://"):
		scheme = "https"
	default:
		return false
	}

	reqHost, ok := canonicalHost(strings.TrimSpace(requestHost), scheme)
	if !ok {
		return false
	}
	return originHost == reqHost
}

func canonicalHost(hostport, scheme string) (string, bool) {
	if hostport == "" {
		return "", false
	}
	hostname, port := hostport, ""
	if h, p, err := net.SplitHostPort(hostport); err == nil {
		hostname, port = h, p
	} else if strings.HasPrefix(hostport, "[") && strings.HasSuffix(hostport, "]") {
		hostname = hostport[1 : len(hostport)-1]
	} else if strings.Contains(hostport, ":") {
		return "", false
	}

	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return "", false
	}

	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		} else {
			port = strconv.FormatUint(n, 10)
		}
	}

	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port != "" {
		return hostname + ":" + port, true
	}
	return hostname, true
}
