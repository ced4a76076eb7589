package harness

import "regexp"

// OutputParser post-processes model answers before they are returned and stored.
type OutputParser struct {
	blankLines *regexp.Regexp
	spaces     *regexp.Regexp
}

// NewOutputParser creates a parser with the default collapsing rules.
func NewOutputParser() *OutputParser {
	return &OutputParser{
		blankLines: regexp.MustCompile(`\n{3,}`),
		spaces:     regexp.MustCompile(` {2,}`),
	}
}

// Normalize collapses runs of three or more newlines to two and runs of two
// or more spaces to one. Everything else is kept as is.
func (p *OutputParser) Normalize(text string) string {
	text = p.blankLines.ReplaceAllString(text, "\n\n")
	return p.spaces.ReplaceAllString(text, " ")
}
