package geoip_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"folio/internal/pkg/geoip"
)

func TestLookupSkipsUnroutableAddresses(t *testing.T) {
	for _, ip := range []string{"", "not-an-ip", "127.0.0.1", "10.0.0.4", "192.168.1.20", "::1"} {
		_, ok := geoip.Lookup(ip)
		assert.False(t, ok, ip)
	}
}

func TestLocatorFunc(t *testing.T) {
	locator := geoip.LocatorFunc(func(ip string) (geoip.Location, bool) {
		return geoip.Location{Country: "FR", City: "Lyon"}, ip == "203.0.113.9"
	})

	loc, ok := locator.Locate("203.0.113.9")
	assert.True(t, ok)
	assert.Equal(t, "Lyon", loc.City)

	_, ok = locator.Locate("198.51.100.1")
	assert.False(t, ok)
}
