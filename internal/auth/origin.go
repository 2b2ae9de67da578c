package auth

import (
	"net"
	"net/url"
	"strings"
)

// IsLocalOrigin reports whether a browser Origin header names a page served
// from this machine. An absent Origin (non-browser clients) is local.
func IsLocalOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
