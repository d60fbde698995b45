package server

import "net/url"

type builtinOrigin struct {
	scheme  string
	host    string
	portAny bool
}

// Local development origins accepted without configuration.
var builtinOrigins = []builtinOrigin{
	{scheme: "http", host: "localhost", portAny: true},
	{scheme: "http", host: "127.0.0.1", portAny: true},
	{scheme: "https", host: "localhost", portAny: true},
}

func isBuiltinOrigin(u *url.URL) bool {
	if u == nil {
		return false
	}
	hostname := u.Hostname()
	port := u.Port()
	for _, b := range builtinOrigins {
		if u.Scheme != b.scheme {
			continue
		}
		if hostname != b.host {
			continue
		}
		if !b.portAny && port != "" {
			continue
		}
		return true
	}
	return false
}

// OriginChecker builds the Origin validator used on upgrade requests:
// local development origins are always accepted, plus any origin in
// allowed. Origins that fail to parse are rejected.
func OriginChecker(allowed []string) func(string) bool {
	extra := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		extra[origin] = true
	}
	return func(origin string) bool {
		if extra[origin] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return isBuiltinOrigin(u)
	}
}
