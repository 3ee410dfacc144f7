package geoip

import (
	"net/netip"

	"github.com/oschwald/geoip2-golang"
)

// Provider wraps the GeoIP2 database reader to provide country lookup functionality.
type Provider struct {
	db *geoip2.Reader
}

// Open initializes the GeoIP database reader from a specific file path.
func Open(path string) (*Provider, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}

	return &Provider{db: db}, nil
}

// Close closes the underlying GeoIP database reader.
func (p *Provider) Close() error {
	return p.db.Close()
}

// CountryCode returns the ISO country code of addr, empty when unknown
// or for private and loopback addresses.
func (p *Provider) CountryCode(addr netip.Addr) string {
	if !addr.IsValid() || addr.IsPrivate() || addr.IsLoopback() || addr.IsUnspecified() {
		return ""
	}

	record, err := p.db.Country(addr.AsSlice())
	if err != nil {
		return ""
	}

	return record.Country.IsoCode
}
