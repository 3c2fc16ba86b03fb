package bare

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Remote is the tuple describing the tunnel target: protocol, host, port,
// and path (§3).
type Remote struct {
	Protocol string
	Host     string
	Port     int
	Path     string
}

var defaultPorts = map[string]int{
	"http:":  80,
	"ws:":    80,
	"https:": 443,
	"wss:":   443,
}

// ValidProtocols is the set of protocol schemes a Remote may carry.
var ValidProtocols = map[string]bool{
	"http:":  true,
	"https:": true,
	"ws:":    true,
	"wss:":   true,
}

// ToURL renders a Remote as a *url.URL the outbound fetch layer can dial.
func (r Remote) ToURL() *url.URL {
	return &url.URL{
		Scheme: trimColon(r.Protocol),
		Host:   fmt.Sprintf("%s:%d", r.Host, r.Port),
		Path:   r.Path,
	}
}

// HTTPURL renders a Remote as a *url.URL using the http/https scheme that
// maps to its ws/wss (or http/https) protocol, for issuing the WS upgrade
// handshake as a plain HTTP request (§4.D bareUpgradeFetch: "translate
// ws://→http://, wss://→https://... but only the scheme").
func (r Remote) HTTPURL() *url.URL {
	scheme := "http"
	if r.Protocol == "https:" || r.Protocol == "wss:" {
		scheme = "https"
	}

	return &url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%d", r.Host, r.Port),
		Path:   r.Path,
	}
}

func trimColon(s string) string {
	if len(s) > 0 && s[len(s)-1] == ':' {
		return s[:len(s)-1]
	}

	return s
}

// RemoteFromURL extracts a Remote from a parsed URL, as used by the v3
// single-string x-bare-url form. The port defaults per scheme when absent.
func RemoteFromURL(u *url.URL) (Remote, error) {
	protocol := u.Scheme + ":"
	if !ValidProtocols[protocol] {
		return Remote{}, InvalidHeader("x-bare-url", "unsupported protocol "+protocol)
	}

	host := u.Hostname()
	if host == "" {
		return Remote{}, InvalidHeader("x-bare-url", "missing host")
	}

	port := defaultPorts[protocol]
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Remote{}, InvalidHeader("x-bare-url", "invalid port")
		}
		port = n
	}

	if err := ValidatePort(port); err != nil {
		return Remote{}, err
	}

	path := u.Path
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	if path == "" {
		path = "/"
	}

	return Remote{Protocol: protocol, Host: host, Port: port, Path: path}, nil
}

// RemoteFromHeaders builds a Remote from the v1/v2 split-header form:
// x-bare-host, x-bare-port, x-bare-protocol, x-bare-path, all required.
func RemoteFromHeaders(h http.Header) (Remote, error) {
	protocol := h.Get("x-bare-protocol")
	if protocol == "" {
		return Remote{}, MissingHeader("x-bare-protocol")
	}

	if !ValidProtocols[protocol] {
		return Remote{}, InvalidHeader("x-bare-protocol", "unsupported protocol "+protocol)
	}

	host := h.Get("x-bare-host")
	if host == "" {
		return Remote{}, MissingHeader("x-bare-host")
	}

	portHeader := h.Get("x-bare-port")
	if portHeader == "" {
		return Remote{}, MissingHeader("x-bare-port")
	}

	port, err := ParsePort(portHeader)
	if err != nil {
		return Remote{}, err
	}

	path := h.Get("x-bare-path")
	if path == "" {
		return Remote{}, MissingHeader("x-bare-path")
	}

	return Remote{Protocol: protocol, Host: host, Port: port, Path: path}, nil
}

// ValidatePort checks that port is in the valid TCP port range [1, 65535].
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return InvalidHeader("x-bare-port", "port out of range")
	}

	return nil
}

// ParsePort parses s (accepted in either string or integer wire form) as a
// port number and validates its range.
func ParsePort(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, InvalidHeader("x-bare-port", "port is not an integer")
	}

	if err := ValidatePort(n); err != nil {
		return 0, err
	}

	return n, nil
}
