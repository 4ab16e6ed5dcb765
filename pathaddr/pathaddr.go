// Package pathaddr classifies and decomposes addresses that the file-operation
// engine works with. An address is either a plain local filesystem path or a
// remote URI-style location (scheme://[user@]host[:port]/path). Everything
// above this package dispatches on the parsed form instead of re-sniffing
// strings for "://".
package pathaddr

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrBareScheme is returned by Concrete for remote addresses like "smb://"
// that carry a scheme but no host. Such addresses are valid to parse but are
// not browsable locations.
var ErrBareScheme = errors.New("address has a scheme but no host")

// Address is either a local filesystem path or a remote location.
// The zero value is an empty local path.
type Address struct {
	scheme string // empty for local addresses
	user   string
	host   string
	port   int
	path   string // percent-decoded for remote; verbatim for local
}

// Local returns a local filesystem address.
func Local(p string) Address {
	return Address{path: p}
}

// Remote builds a remote address from already-decoded components.
func Remote(scheme, host, p string) Address {
	return Address{scheme: strings.ToLower(scheme), host: host, path: p}
}

// Parse classifies an address string. A string containing "://" at a
// non-zero offset is decomposed as scheme://[user@]host[:port]/path with the
// path percent-decoded; anything else is an opaque local path.
func Parse(s string) Address {
	i := strings.Index(s, "://")
	if i <= 0 {
		return Address{path: s}
	}

	a := Address{scheme: strings.ToLower(s[:i])}
	rest := s[i+3:]

	authority := rest
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		authority = rest[:slash]
		a.path = percentDecode(rest[slash:])
	}

	if at := strings.IndexByte(authority, '@'); at >= 0 {
		a.user = authority[:at]
		authority = authority[at+1:]
	}
	if colon := strings.LastIndexByte(authority, ':'); colon >= 0 {
		if port, err := strconv.Atoi(authority[colon+1:]); err == nil {
			a.port = port
			authority = authority[:colon]
		}
	}
	a.host = authority
	return a
}

// IsRemote reports whether the address names a remote location.
func (a Address) IsRemote() bool { return a.scheme != "" }

// Scheme returns the lower-cased scheme, or "" for local addresses.
func (a Address) Scheme() string { return a.scheme }

// Host returns the remote host (empty for local addresses).
func (a Address) Host() string { return a.host }

// Port returns the remote port, or 0 when unspecified.
func (a Address) Port() int { return a.port }

// User returns the userinfo component, or "".
func (a Address) User() string { return a.user }

// Path returns the path component: the verbatim filesystem path for local
// addresses, the percent-decoded path for remote ones.
func (a Address) Path() string { return a.path }

// IsZero reports whether the address is empty.
func (a Address) IsZero() bool { return a.scheme == "" && a.path == "" }

// Concrete validates that the address can name an actual location. Remote
// addresses without a host are rejected with ErrBareScheme.
func (a Address) Concrete() error {
	if a.IsRemote() && a.host == "" {
		return fmt.Errorf("%w: %s", ErrBareScheme, a.String())
	}
	return nil
}

// String renders the canonical string form. Remote addresses always contain
// a "scheme://" prefix with the path re-encoded; local addresses never do.
func (a Address) String() string {
	if !a.IsRemote() {
		return a.path
	}
	var b strings.Builder
	b.WriteString(a.scheme)
	b.WriteString("://")
	if a.user != "" {
		b.WriteString(a.user)
		b.WriteByte('@')
	}
	b.WriteString(a.host)
	if a.port != 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(a.port))
	}
	b.WriteString(percentEncode(a.path))
	return b.String()
}

// Join appends name as a child of the address. For local addresses this is
// ordinary path concatenation; for remote ones the name becomes a new path
// segment on the same scheme and authority.
func (a Address) Join(name string) Address {
	if !a.IsRemote() {
		return Address{path: filepath.Join(a.path, name)}
	}
	out := a
	switch {
	case out.path == "":
		out.path = "/" + name
	case strings.HasSuffix(out.path, "/"):
		out.path += name
	default:
		out.path += "/" + name
	}
	return out
}

// Basename returns the final path element, or "" when there is none.
func (a Address) Basename() string {
	if !a.IsRemote() {
		b := filepath.Base(a.path)
		if b == "." || b == string(filepath.Separator) {
			return ""
		}
		return b
	}
	b := path.Base(a.path)
	if b == "." || b == "/" {
		return ""
	}
	return b
}

// Parent returns the address of the containing directory.
func (a Address) Parent() Address {
	if !a.IsRemote() {
		return Address{path: filepath.Dir(a.path)}
	}
	out := a
	out.path = path.Dir(a.path)
	if out.path == "." {
		out.path = "/"
	}
	return out
}

// HostKey returns the credential-cache key for the address:
// scheme://host[/share], where share is the first path segment. Hosts with
// per-share authentication (SMB) get distinct keys per share.
func (a Address) HostKey() string {
	if !a.IsRemote() {
		return ""
	}
	key := a.scheme + "://" + a.host
	trimmed := strings.Trim(a.path, "/")
	if trimmed != "" {
		if i := strings.IndexByte(trimmed, '/'); i >= 0 {
			trimmed = trimmed[:i]
		}
		key += "/" + trimmed
	}
	return key
}

func isUnreserved(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

const hexDigits = "0123456789ABCDEF"

func percentEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) || c == '/' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0xF])
	}
	return b.String()
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return 10 + int(c-'A')
	case c >= 'a' && c <= 'f':
		return 10 + int(c-'a')
	}
	return -1
}

func percentDecode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			hi, lo := hexVal(s[i+1]), hexVal(s[i+2])
			if hi >= 0 && lo >= 0 {
				b.WriteByte(byte(hi<<4 | lo))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
