package frame

import "strings"

// Tokenize splits frame text into its whitespace-separated fields. Runs of
// separators never produce empty tokens. Tokens are not validated.
func Tokenize(text string) []string {
	return strings.Fields(text)
}

// Tokens is shorthand for Tokenize(f.Text).
func (f Frame) Tokens() []string {
	return Tokenize(f.Text)
}
