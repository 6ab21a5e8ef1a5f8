package wiki

import (
	"fmt"
	"regexp"
	"strings"
)

// ---------- response parsing ----------

var (
	reStructure  = regexp.MustCompile(`(?s)<wiki_structure[^>]*>(.*?)</wiki_structure>`)
	rePage       = regexp.MustCompile(`(?s)<page(\s[^>]*)?>(.*?)</page>`)
	reSection    = regexp.MustCompile(`(?s)<section(\s[^>]*)?>(.*?)</section>`)
	reIDAttr     = regexp.MustCompile(`\bid="([^"]*)"`)
	reTitle      = regexp.MustCompile(`(?s)<title>(.*?)</title>`)
	reDesc       = regexp.MustCompile(`(?s)<description>(.*?)</description>`)
	reImportance = regexp.MustCompile(`(?s)<importance>(.*?)</importance>`)
	reFilePath   = regexp.MustCompile(`(?s)<file_path>(.*?)</file_path>`)
	reRelated    = regexp.MustCompile(`(?s)<related>(.*?)</related>`)
	rePageRef    = regexp.MustCompile(`(?s)<page_ref>(.*?)</page_ref>`)
	reSectionRef = regexp.MustCompile(`(?s)<section_ref>(.*?)</section_ref>`)
)

var xmlUnescaper = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

// ParseStructure turns the concatenated text of a streamed model response
// into a Structure. The grammar is treated as typed extraction with
// defaults: missing optional sub-elements never fail the parse. It returns
// an error only for the known upstream failure signatures (checked before
// any parse attempt) and for a response with no wiki_structure span.
//
// When comprehensive is false, section elements in the payload are ignored
// and the structure is returned flat.
func ParseStructure(response string, comprehensive bool) (*Structure, error) {
	if err := DetectUpstreamError(response); err != nil {
		return nil, err
	}

	text := StripCodeFence(response)
	text = scrubControlChars(text)

	m := reStructure.FindStringSubmatch(text)
	if m == nil {
		return nil, &StructureNotFoundError{Reason: "missing <wiki_structure> element"}
	}
	body := m[1]

	pageBlocks := rePage.FindAllStringSubmatch(body, -1)
	sectionBlocks := reSection.FindAllStringSubmatch(body, -1)

	// Structure-level title and description live outside the page and
	// section blocks; strip those blocks first so a page title is never
	// mistaken for the wiki title.
	outer := rePage.ReplaceAllString(body, "")
	outer = reSection.ReplaceAllString(outer, "")

	s := &Structure{
		ID:          "wiki",
		Title:       extractFirst(reTitle, outer),
		Description: extractFirst(reDesc, outer),
	}

	for i, block := range pageBlocks {
		attrs, inner := block[1], block[2]
		page := &Page{
			ID:         idOrDefault(attrs, "page", i+1),
			Title:      extractFirst(reTitle, inner),
			Importance: NormalizeImportance(extractFirst(reImportance, inner)),
			FilePaths:  extractAll(reFilePath, inner),
		}
		page.RelatedPages = extractAll(reRelated, inner)
		s.Pages = append(s.Pages, page)
	}

	if comprehensive {
		parseSections(s, sectionBlocks)
	}

	s.Normalize(nil)
	return s, nil
}

// parseSections fills in sections and derives roots. A section is a root
// iff it is never the target of another section's section_ref.
func parseSections(s *Structure, blocks [][]string) {
	referenced := make(map[string]bool)

	for i, block := range blocks {
		attrs, inner := block[1], block[2]
		sec := &Section{
			ID:          idOrDefault(attrs, "section", i+1),
			Title:       extractFirst(reTitle, inner),
			Pages:       extractAll(rePageRef, inner),
			Subsections: extractAll(reSectionRef, inner),
		}
		s.Sections = append(s.Sections, sec)
		for _, sub := range sec.Subsections {
			referenced[sub] = true
		}
	}

	for _, sec := range s.Sections {
		if !referenced[sec.ID] {
			s.RootSections = append(s.RootSections, sec.ID)
		}
	}
}

// StripCodeFence removes a leading/trailing markdown code fence wrapper
// (``` optionally tagged, e.g. ```xml) when the whole text is wrapped in
// one. Text without a fence is returned trimmed but otherwise unchanged.
func StripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	rest := trimmed[3:]
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
		// Drop the fence line including any language tag.
		rest = rest[idx+1:]
	} else {
		return trimmed
	}

	rest = strings.TrimRight(rest, " \t\n")
	if strings.HasSuffix(rest, "```") {
		rest = strings.TrimRight(rest[:len(rest)-3], " \t\n")
	}
	return rest
}

// scrubControlChars removes control characters outside the printable and
// whitespace range. Model output occasionally embeds stray bytes that would
// otherwise abort parsing.
func scrubControlChars(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, text)
}

func idOrDefault(attrs, prefix string, n int) string {
	if m := reIDAttr.FindStringSubmatch(attrs); m != nil && m[1] != "" {
		return m[1]
	}
	return fmt.Sprintf("%s-%d", prefix, n)
}

func extractFirst(re *regexp.Regexp, text string) string {
	if m := re.FindStringSubmatch(text); m != nil {
		return xmlUnescaper.Replace(strings.TrimSpace(m[1]))
	}
	return ""
}

func extractAll(re *regexp.Regexp, text string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		v := xmlUnescaper.Replace(strings.TrimSpace(m[1]))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
