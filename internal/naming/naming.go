// Package naming resolves target naming patterns such as "Proj_$n_$d" into
// table or file names.
//
// Tokens:
//
//	$p  project name
//	$n  project number
//	$d  dataset name
//	$a  dataset acronym
//	$c  configuration name
//	$l  release ticket
//	$t  run time (20060102T150405, UTC)
//
// Substituted values are folded to ASCII (accents removed) and any rune
// outside [A-Za-z0-9_-] becomes '_'. Literal pattern text is kept as written.
// An unrecognised "$x" is left untouched.
package naming

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Values supplies the token substitutions for one transfer.
type Values struct {
	Project       string    `json:"project,omitempty"`
	ProjectNumber string    `json:"project_number,omitempty"`
	Dataset       string    `json:"dataset,omitempty"`
	Acronym       string    `json:"acronym,omitempty"`
	Configuration string    `json:"configuration,omitempty"`
	Release       string    `json:"release,omitempty"`
	Time          time.Time `json:"-"`
}

// TimeLayout renders $t.
const TimeLayout = "20060102T150405"

// distinguishing tokens keep concurrently produced tables apart; a pattern
// must reference at least one of them.
var distinguishing = []string{"$d", "$a", "$t"}

// Pattern is a target naming pattern.
type Pattern string

// Tokens returns the recognised tokens the pattern references, in order of
// first appearance.
func (p Pattern) Tokens() []string {
	var out []string
	seen := map[string]bool{}
	s := string(p)
	for i := 0; i+1 < len(s); i++ {
		if s[i] != '$' {
			continue
		}
		tok := s[i : i+2]
		if _, ok := lookup(tok, Values{}); ok && !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

// Check validates the pattern itself: it must be non-empty and reference a
// dataset or time token so two datasets of one project never collide.
func (p Pattern) Check() error {
	if strings.TrimSpace(string(p)) == "" {
		return fmt.Errorf("naming pattern is empty")
	}
	for _, tok := range p.Tokens() {
		for _, d := range distinguishing {
			if tok == d {
				return nil
			}
		}
	}
	return fmt.Errorf("naming pattern %q must contain one of %s", string(p), strings.Join(distinguishing, ", "))
}

// Resolve substitutes v into the pattern.
func (p Pattern) Resolve(v Values) string {
	s := string(p)
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '$' && i+1 < len(s) {
			if val, ok := lookup(s[i:i+2], v); ok {
				sb.WriteString(Sanitize(val))
				i++
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func lookup(tok string, v Values) (string, bool) {
	switch tok {
	case "$p":
		return v.Project, true
	case "$n":
		return v.ProjectNumber, true
	case "$d":
		return v.Dataset, true
	case "$a":
		return v.Acronym, true
	case "$c":
		return v.Configuration, true
	case "$l":
		return v.Release, true
	case "$t":
		if v.Time.IsZero() {
			return "", true
		}
		return v.Time.UTC().Format(TimeLayout), true
	}
	return "", false
}

// Sanitize folds s to ASCII and replaces runes that are not letters, digits,
// '_' or '-' with '_'.
func Sanitize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, strings.TrimSpace(folded))
}

// Legal reports whether name can be used as a table name of at most maxLen
// bytes per dot-separated segment. A maxLen of zero disables the length
// check.
func Legal(name string, maxLen int) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("resolved name is empty")
	}
	for _, seg := range strings.Split(name, ".") {
		if seg == "" {
			return fmt.Errorf("name %q has an empty segment", name)
		}
		if maxLen > 0 && len(seg) > maxLen {
			return fmt.Errorf("name segment %q is %d bytes; limit is %d", seg, len(seg), maxLen)
		}
		for _, r := range seg {
			if unicode.IsControl(r) {
				return fmt.Errorf("name %q contains a control character", name)
			}
		}
	}
	return nil
}
