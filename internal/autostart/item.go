// Package autostart registers the POS bridge to start at user login.
package autostart

import "strings"

// Item is a login item: a name unique per user and the command to run.
type Item struct {
	Name       string
	Executable string
	Args       []string
}

// Command returns the command line with the executable quoted. Arguments
// containing spaces are quoted as well.
func (e Item) Command() string {
	parts := make([]string, 0, len(e.Args)+1)
	parts = append(parts, quote(e.Executable))
	for _, arg := range e.Args {
		if strings.ContainsAny(arg, " \t") {
			arg = quote(arg)
		}
		parts = append(parts, arg)
	}

	return strings.Join(parts, " ")
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
