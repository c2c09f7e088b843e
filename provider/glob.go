package provider

import "strings"

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// GlobEscape escapes Redis glob metacharacters so a key prefix can be used in
// a SCAN MATCH pattern.
func GlobEscape(s string) string { return globEscaper.Replace(s) }
