package remote

import "net/http"

// AuthKind is the closed set of authentication strategies applied to both
// the initial connection and every subsequent request (spec §4.F).
type AuthKind string

const (
	AuthNone   AuthKind = ""
	AuthBearer AuthKind = "bearer"
	AuthBasic  AuthKind = "basic"
	AuthAPIKey AuthKind = "api_key"
	AuthCustom AuthKind = "custom"
)

// Auth describes how to authenticate requests to one external MCP server.
type Auth struct {
	Kind        AuthKind
	Token       string // bearer token, or api key value
	Username    string // basic auth
	Password    string // basic auth
	HeaderName  string // api_key / custom header name
	HeaderValue string // custom header value
}

// apply sets the configured authentication on req.
func (a *Auth) apply(req *http.Request) {
	if a == nil {
		return
	}
	switch a.Kind {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+a.Token)
	case AuthBasic:
		req.SetBasicAuth(a.Username, a.Password)
	case AuthAPIKey:
		name := a.HeaderName
		if name == "" {
			name = "X-API-Key"
		}
		req.Header.Set(name, a.Token)
	case AuthCustom:
		if a.HeaderName != "" {
			req.Header.Set(a.HeaderName, a.HeaderValue)
		}
	}
}
