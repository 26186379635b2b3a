package posting

import (
	"encoding/base64"
	"encoding/binary"
	"net/url"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// URLHashLength is the length of a url hash: a 6-character hash of the full
// url followed by the 6-character DomainHash of its host.
const URLHashLength = 12

// URLHash derives the document key of rawURL. Documents on the same host
// share the last six characters.
func URLHash(rawURL string) string {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	return hash6(strings.TrimSpace(rawURL)) + DomainHash(host)
}

// DomainHash is the 6-character hash of a host name, as stored in the
// domain popularity tables.
func DomainHash(host string) string {
	return hash6(strings.TrimPrefix(strings.ToLower(host), "www."))
}

// Host returns the lower-cased host of rawURL, or "" if it has none.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func hash6(s string) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], xxhash.Sum64String(s))
	return base64.RawURLEncoding.EncodeToString(buf[:])[:6]
}
