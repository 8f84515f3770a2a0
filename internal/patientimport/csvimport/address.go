package csvimport

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var streetTypes = []string{
	"street", "st", "road", "rd", "lane", "ln", "drive", "dr", "avenue", "ave",
	"boulevard", "blvd", "circle", "cir", "court", "ct", "place", "pl", "terrace", "ter",
	"trail", "trl", "way", "highway", "hwy", "parkway", "pkwy", "crossing", "xing",
	"square", "sq", "loop", "path", "pike", "alley", "run",
}

var unitIndicators = []string{
	"apt", "apartment", "unit", "suite", "#", "number", "floor", "fl", "ste", "lot",
	"rm", "room", "trlr", "building", "blg", "no",
}

var (
	parentheticalRegex   = regexp.MustCompile(`\(.*?\)`)
	addressPunctRegex    = regexp.MustCompile(`[.,;]`)
	controlWhitespaceRgx = regexp.MustCompile(`[\t\n\r]+`)
	multiSpaceRegex      = regexp.MustCompile(`\s{2,}`)

	// street line, then an optional trailing unit anchored after a known street type
	addrUnitRegex = regexp.MustCompile(
		`(?i)(.*?\W+(` + strings.Join(streetTypes, "|") + `)\W+.*?)\s*((` +
			strings.Join(unitIndicators, "|") + `)\s*[#]?\s*[\w\s-]+)?$`,
	)
	// fallback when no street type is present: the unit must be an indicator plus a number or #
	addrUnitExactRegex = regexp.MustCompile(
		`(?i)(.+?)\s*((` + strings.Join(unitIndicators, "|") +
			`)((\s*#\s*[\w\s-]+)|(\s*[\d\s-]+)))?$`,
	)
)

// NormalizeAddressLine strips parenthetical notes and punctuation, collapses whitespace
// and title-cases the result.
func NormalizeAddressLine(line string) string {
	line = parentheticalRegex.ReplaceAllString(line, "")
	line = addressPunctRegex.ReplaceAllString(line, " ")
	line = controlWhitespaceRgx.ReplaceAllString(line, " ")
	line = multiSpaceRegex.ReplaceAllString(line, " ")
	return strings.TrimSpace(TitleCase(line))
}

// SplitAddressLine normalizes a street line and separates a trailing unit designator
// (apartment, suite, floor, lot...) into a second element. PO boxes are never split.
// This is a heuristic: words that collide with unit keywords ("Florida" and "fl") can
// produce false splits.
func SplitAddressLine(line string) []string {
	normalized := NormalizeAddressLine(line)
	if normalized == "" {
		return nil
	}
	if strings.HasPrefix(strings.ToLower(normalized), "po box") {
		return []string{normalized}
	}

	if m := addrUnitRegex.FindStringSubmatch(normalized); m != nil && m[3] != "" {
		return splitParts(m[1], m[3])
	}

	if m := addrUnitExactRegex.FindStringSubmatch(normalized); m != nil && m[2] != "" {
		return splitParts(m[1], m[2])
	}

	return []string{normalized}
}

func splitParts(main, unit string) []string {
	main = strings.TrimSpace(main)
	unit = strings.TrimSpace(unit)
	if main == "" {
		return []string{unit}
	}
	return []string{main, unit}
}

// TitleCase capitalizes the first letter of every space separated word and lower-cases
// the rest. Words that already mix case inside (McDonald) are kept as they are.
func TitleCase(s string) string {
	words := strings.Split(s, " ")
	for i, w := range words {
		if w == "" || isMixedCase(w) {
			continue
		}
		lower := strings.ToLower(w)
		r, size := utf8.DecodeRuneInString(lower)
		words[i] = string(unicode.ToUpper(r)) + lower[size:]
	}
	return strings.Join(words, " ")
}

// isMixedCase reports an upper-case letter following a lower-case one
func isMixedCase(w string) bool {
	sawLower := false
	for _, r := range w {
		switch {
		case unicode.IsLower(r):
			sawLower = true
		case unicode.IsUpper(r) && sawLower:
			return true
		}
	}
	return false
}
