// Package auth holds the credentials handed to hub sessions and REST calls.
// A Context is a value: rotating the token yields a new Context and already
// built sessions keep the one they were created with.
package auth

import "strings"

type Context struct {
	Token string
}

func New(token string) Context {
	return Context{Token: strings.TrimSpace(token)}
}

func (c Context) WithToken(token string) Context {
	return New(token)
}

func (c Context) Anonymous() bool {
	return c.Token == ""
}

// Authorization returns the header value for REST calls, "" when anonymous.
func (c Context) Authorization() string {
	if c.Anonymous() {
		return ""
	}
	return "Bearer " + c.Token
}
