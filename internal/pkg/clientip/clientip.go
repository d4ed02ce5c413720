// Package clientip resolves the visitor address behind reverse proxies.
package clientip

import (
	"net"
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// proxyHeaders are consulted in order after X-Forwarded-For.
var proxyHeaders = []string{
	"X-Real-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Client-IP",
}

// FromRequest returns the first X-Forwarded-For entry, then the other proxy
// headers, then the socket peer. Returns "" when nothing parses.
func FromRequest(c *fiber.Ctx) string {
	if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip, parsed := Normalize(first); parsed != nil {
			return ip
		}
	}

	for _, header := range proxyHeaders {
		if ip, parsed := Normalize(c.Get(header)); parsed != nil {
			return ip
		}
	}

	if forwarded := c.Get("Forwarded"); forwarded != "" {
		for _, candidate := range parseForwardedHeader(forwarded) {
			if ip, parsed := Normalize(candidate); parsed != nil {
				return ip
			}
		}
	}

	if remote := c.Context().RemoteAddr(); remote != nil {
		if ip, parsed := Normalize(remote.String()); parsed != nil && !parsed.IsUnspecified() {
			return ip
		}
	}
	return ""
}

// Normalize strips quotes, ports, brackets and zones, unmapping IPv4-in-IPv6.
func Normalize(raw string) (string, net.IP) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"")
	if clean == "" {
		return "", nil
	}

	if percent := strings.Index(clean, "%"); percent != -1 {
		clean = clean[:percent]
	}

	if addrPort, err := netip.ParseAddrPort(clean); err == nil {
		return fromAddr(addrPort.Addr())
	}

	trimmed := strings.TrimSuffix(strings.TrimPrefix(clean, "["), "]")
	if addr, err := netip.ParseAddr(trimmed); err == nil {
		return fromAddr(addr)
	}

	if host, _, err := net.SplitHostPort(clean); err == nil {
		return Normalize(host)
	}
	return "", nil
}

func fromAddr(addr netip.Addr) (string, net.IP) {
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	ip := addr.String()
	return ip, net.ParseIP(ip)
}

// IsPrivate reports loopback, link-local and RFC 1918 / 4193 addresses.
func IsPrivate(ip net.IP) bool {
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

func parseForwardedHeader(header string) []string {
	var candidates []string
	for _, entry := range strings.Split(header, ",") {
		for _, part := range strings.Split(entry, ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(strings.ToLower(part), "for=") {
				candidates = append(candidates, part[len("for="):])
			}
		}
	}
	return candidates
}
