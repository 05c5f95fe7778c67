// Package dsn converts PostgreSQL connection URIs to structured
// descriptors and back, and produces display-safe masked forms.
package dsn

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPort is used when the URI omits a port
	DefaultPort = 5432

	// DefaultSSLMode is applied uniformly when the URI carries no sslmode
	DefaultSSLMode = "require"

	// MaskPlaceholder replaces the password segment in display forms
	MaskPlaceholder = "***"
)

// Descriptor is the structured form of a PostgreSQL connection URI
type Descriptor struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// HasCredentials reports whether both user and password are present
func (d Descriptor) HasCredentials() bool {
	return d.User != "" && d.Password != ""
}

// Parse converts a connection URI into a Descriptor. The URI must match
// postgres(ql)://[user[:password]@]host[:port][/database][?params].
// Port defaults to 5432 and sslmode to DefaultSSLMode when omitted.
func Parse(raw string) (*Descriptor, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Opaque != "" || u.Hostname() == "" {
		return nil, fmt.Errorf("connection string has no host")
	}

	port := DefaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid port %q", p)
		}
	}

	d := &Descriptor{
		Host:    u.Hostname(),
		Port:    port,
		SSLMode: DefaultSSLMode,
	}
	if u.User != nil {
		d.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			d.Password = pw
		}
	}
	if len(u.Path) > 1 {
		d.Database = strings.TrimPrefix(u.Path, "/")
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		d.SSLMode = mode
	}
	return d, nil
}

// Build renders a Descriptor as a canonical connection URI. User and
// password are percent-encoded; the credential segment is omitted
// entirely when no user is set, and sslmode is appended only when set.
func Build(d Descriptor) string {
	port := d.Port
	if port <= 0 {
		port = DefaultPort
	}

	u := url.URL{
		Scheme: "postgresql",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(port)),
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	if d.Database != "" {
		u.Path = "/" + d.Database
	}
	if d.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(d.SSLMode)
	}
	return u.String()
}

// Mask replaces the password segment of a URI with MaskPlaceholder.
// The whole segment between the first ':' of the userinfo and the final
// '@' is dropped, so the result never contains the original password,
// its length, or any part of it. Input that is not URI-shaped could
// embed credentials anywhere; it is never echoed back.
func Mask(uri string) string {
	schemeEnd := strings.Index(uri, "://")
	if schemeEnd < 0 {
		return ""
	}
	rest := uri[schemeEnd+3:]

	// Query values may legally contain '@'; stop before them.
	end := len(rest)
	if q := strings.Index(rest, "?"); q >= 0 {
		end = q
	}
	at := strings.LastIndex(rest[:end], "@")
	if at < 0 {
		return uri
	}

	userinfo := rest[:at]
	colon := strings.Index(userinfo, ":")
	if colon < 0 {
		return uri
	}
	return uri[:schemeEnd+3] + userinfo[:colon] + ":" + MaskPlaceholder + rest[at:]
}

// IsMasked reports whether a URI carries the placeholder Mask produces
// instead of a real password. Clients echo masked URIs back on update;
// such values must not be re-parsed as credentials.
func IsMasked(uri string) bool {
	return strings.Contains(uri, ":"+MaskPlaceholder+"@")
}
