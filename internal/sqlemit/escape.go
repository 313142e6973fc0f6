package sqlemit

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// EscapeLiteral renders s as a Postgres dollar-quoted string literal,
// picking a delimiter tag that doesn't collide with s's own content. Plain
// text gets the bare "$$...$$" form; anything containing that exact
// substring gets a randomized tag appended until the collision is gone.
func EscapeLiteral(s string) string {
	delim := "$$"
	for strings.Contains(s, delim) {
		delim = fmt.Sprintf("$%s$", randomTag(10))
	}
	return delim + s + delim
}

func randomTag(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("sqlemit: failed to read random bytes: %v", err))
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphanumeric[int(b)%len(alphanumeric)]
	}
	return string(out)
}
