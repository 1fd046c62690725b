// Package bankname maps free-text bank names onto canonical display names
// and stable lookup identifiers. The alias table is embedded source data;
// extending it means editing aliases.yaml.
package bankname

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// UnknownBank is returned by Normalize for empty or whitespace-only input.
const UnknownBank = "Unknown Bank"

//go:embed aliases.yaml
var aliasYAML []byte

type aliasTable struct {
	Banks []struct {
		Canonical string   `yaml:"canonical"`
		Variants  []string `yaml:"variants"`
	} `yaml:"banks"`
}

// aliasIndex maps fold(variant) and fold(canonical) to the canonical name.
var aliasIndex map[string]string

func init() {
	var table aliasTable
	if err := yaml.Unmarshal(aliasYAML, &table); err != nil {
		panic(fmt.Sprintf("bankname: bad embedded alias table: %v", err))
	}
	aliasIndex = make(map[string]string, len(table.Banks)*4)
	for _, b := range table.Banks {
		aliasIndex[fold(b.Canonical)] = b.Canonical
		for _, v := range b.Variants {
			aliasIndex[fold(v)] = b.Canonical
		}
	}
}

var (
	nonAlnum     = regexp.MustCompile(`[^a-z0-9]+`)
	nonIdent     = regexp.MustCompile(`[^a-z0-9_]+`)
	multiUnder   = regexp.MustCompile(`_+`)
	deaccentOnce = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// fold reduces a name to lowercase alphanumerics for alias comparison.
// Accented characters are decomposed first so "Crédit" and "Credit" fold
// to the same key.
func fold(name string) string {
	deaccented, _, err := transform.String(deaccentOnce, name)
	if err != nil {
		deaccented = name
	}
	return nonAlnum.ReplaceAllString(strings.ToLower(deaccented), "")
}

// Normalize maps a free-text bank name to its canonical display name.
// Unrecognized names are title-cased and returned as-is; empty input maps
// to UnknownBank. Deterministic, never fails.
func Normalize(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return UnknownBank
	}
	if canonical, ok := aliasIndex[fold(trimmed)]; ok {
		return canonical
	}
	return titleCase(trimmed)
}

// Identifier derives the stable lookup key for a bank name: the canonical
// name reduced to [a-z0-9_]+ with no leading, trailing, or duplicate
// underscores.
func Identifier(name string) string {
	canonical := Normalize(name)
	deaccented, _, err := transform.String(deaccentOnce, canonical)
	if err != nil {
		deaccented = canonical
	}
	id := strings.ToLower(deaccented)
	id = strings.ReplaceAll(id, " ", "_")
	id = nonIdent.ReplaceAllString(id, "")
	id = multiUnder.ReplaceAllString(id, "_")
	id = strings.Trim(id, "_")
	if id == "" {
		return "unknown_bank"
	}
	return id
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		for j := 1; j < len(r); j++ {
			r[j] = unicode.ToLower(r[j])
		}
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
