// Package identity maps the identifier a logger was registered with onto the
// naming variants it may carry in the time-series store.
package identity

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultMeterPrefix is the device-label prefix meter-class loggers publish under.
const DefaultMeterPrefix = "acuvim_"

// AliasSource supplies the canonical-name overrides table.
type AliasSource interface {
	Aliases() map[string]string
}

// StaticAliases is an AliasSource backed by a fixed map.
type StaticAliases map[string]string

// Aliases implements AliasSource.
func (s StaticAliases) Aliases() map[string]string { return s }

// Resolver produces ordered, de-duplicated identifier variants.
type Resolver struct {
	aliases     AliasSource
	meterPrefix string
}

// NewResolver creates a resolver. A nil alias source means no overrides.
func NewResolver(aliases AliasSource, meterPrefix string) *Resolver {
	if aliases == nil {
		aliases = StaticAliases{}
	}
	if meterPrefix == "" {
		meterPrefix = DefaultMeterPrefix
	}
	return &Resolver{aliases: aliases, meterPrefix: meterPrefix}
}

// Canonical normalises an identifier: NFC, trimmed, then the alias table.
func (r *Resolver) Canonical(id string) string {
	id = strings.TrimSpace(norm.NFC.String(id))
	if alias, ok := r.aliases.Aliases()[id]; ok && alias != "" {
		return alias
	}
	return id
}

// Variants returns the names to try, in order: the canonical form, the raw
// input, dot/dash swaps of both, and the meter device name for "Logger N".
func (r *Resolver) Variants(id string) []string {
	canonical := r.Canonical(id)
	variants := []string{canonical}
	if canonical != id {
		variants = append(variants, id)
	}

	n := len(variants)
	for _, v := range variants[:n] {
		switch {
		case strings.Contains(v, "."):
			variants = append(variants, strings.ReplaceAll(v, ".", "-"))
		case strings.Contains(v, "-"):
			variants = append(variants, strings.ReplaceAll(v, "-", "."))
		}
	}

	if strings.HasPrefix(canonical, "Logger ") {
		if fields := strings.Fields(canonical); len(fields) > 1 {
			variants = append(variants, r.meterPrefix+"1"+fields[1])
		}
	}

	seen := make(map[string]bool, len(variants))
	out := variants[:0]
	for _, v := range variants {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
