package resolver

import "regexp"

// Pattern maps vendor SKU codes and spellings matched by Expr to a canonical model.
// Expr is evaluated against the normalised input.
type Pattern struct {
	Expr  *regexp.Regexp
	Model string
}

// Catalog is the immutable data a Resolver works from.
type Catalog struct {
	// Models lists the canonical model names in priority order.
	Models []string
	// Synonyms maps aliases (nicknames, abbreviations) to canonical names.
	Synonyms map[string]string
	// Patterns are tried after synonyms, in order.
	Patterns []Pattern
	// BrandPrefixes are leading tokens dropped before matching, e.g. "MOTORSTAR".
	BrandPrefixes []string
}

// DefaultCatalog returns the dealership's canonical model table.
func DefaultCatalog() Catalog {
	return Catalog{
		Models: []string{
			"MONARCH 175",
			"OMNI 125",
			"SKYHAWK 150",
			"XPLORER 150",
			"CAFE 400",
			"MSX 125",
			"STAR X 155",
			"ADVENTURE 250",
			"EASY RIDE 150",
			"NITRO 110",
		},
		Synonyms: map[string]string{
			"MONARCH":        "MONARCH 175",
			"MONARK 175":     "MONARCH 175",
			"MONACH 175":     "MONARCH 175",
			"OMNI":           "OMNI 125",
			"OMNY 125":       "OMNI 125",
			"SKY HAWK 150":   "SKYHAWK 150",
			"SKYHAWK":        "SKYHAWK 150",
			"EXPLORER 150":   "XPLORER 150",
			"XPLORER":        "XPLORER 150",
			"CAFE RACER":     "CAFE 400",
			"CAFE RACER 400": "CAFE 400",
			"STARX 155":      "STAR X 155",
			"STAR X":         "STAR X 155",
			"ADV 250":        "ADVENTURE 250",
			"EASYRIDE 150":   "EASY RIDE 150",
			"EASY RIDE":      "EASY RIDE 150",
			"NITRO":          "NITRO 110",
		},
		Patterns: []Pattern{
			{Expr: regexp.MustCompile(`^TM ?175\b`), Model: "MONARCH 175"},
			{Expr: regexp.MustCompile(`^OM ?125\b`), Model: "OMNI 125"},
			{Expr: regexp.MustCompile(`^SH ?150\b`), Model: "SKYHAWK 150"},
			{Expr: regexp.MustCompile(`^XP ?150\b`), Model: "XPLORER 150"},
			{Expr: regexp.MustCompile(`^CF ?400\b`), Model: "CAFE 400"},
			{Expr: regexp.MustCompile(`^SX ?155\b`), Model: "STAR X 155"},
			{Expr: regexp.MustCompile(`^AD ?250\b`), Model: "ADVENTURE 250"},
			{Expr: regexp.MustCompile(`^ER ?150\b`), Model: "EASY RIDE 150"},
			{Expr: regexp.MustCompile(`^NT ?110\b`), Model: "NITRO 110"},
		},
		BrandPrefixes: []string{"MOTORSTAR", "MSTAR", "MOTOR STAR"},
	}
}
