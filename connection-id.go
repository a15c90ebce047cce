package notus

import "math/rand/v2"

var idChars = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_")

// newConnectionID labels a single connect attempt in trace output.
func newConnectionID() string {
	b := make([]rune, 16)
	for i := range b {
		b[i] = idChars[rand.N(len(idChars))]
	}
	return string(b)
}
