package wiki

import "strings"

// ---------- section inference ----------

// category is one keyword-clustering bucket. Categories are evaluated in
// declaration order and the first substring match against a page title
// wins; this ordering is behaviorally significant for reproducible output
// and must not be changed casually.
type category struct {
	id       string
	title    string
	keywords []string
}

var inferenceCategories = []category{
	{"section-overview", "Overview", []string{"overview", "introduction", "getting started", "about", "summary"}},
	{"section-architecture", "Architecture", []string{"architecture", "design", "structure", "pattern", "diagram"}},
	{"section-features", "Features", []string{"feature", "capabilit", "functionality", "workflow"}},
	{"section-components", "Components", []string{"component", "module", "service", "plugin", "widget"}},
	{"section-api", "API Reference", []string{"api", "endpoint", "rest", "graphql", "route", "rpc"}},
	{"section-data", "Data", []string{"data", "database", "storage", "schema", "persistence", "cache"}},
	{"section-models", "Models", []string{"model", "entity", "domain", "type"}},
	{"section-ui", "User Interface", []string{"ui", "interface", "view", "screen", "frontend", "theme"}},
	{"section-setup", "Setup", []string{"setup", "install", "configuration", "config", "deploy", "build"}},
}

const (
	otherSectionID    = "section-other"
	otherSectionTitle = "Other"
)

// importance fallback sections, emitted in this fixed order.
var importanceSections = []struct {
	id         string
	title      string
	importance Importance
}{
	{"section-core", "Core Components", ImportanceHigh},
	{"section-features", "Key Features", ImportanceMedium},
	{"section-additional", "Additional Information", ImportanceLow},
}

// InferSections builds a section layout for a structure that has none.
// Tier 1 clusters pages by title keywords into the fixed category list;
// when no title matches any category, tier 2 partitions by importance
// instead. The "Other" catch-all only materializes alongside at least one
// keyword-matched section. Each emitted section is a root section, and
// each member page records its section as ParentID. Calling this on a
// structure that already has sections is a no-op.
func InferSections(s *Structure) {
	if s.HasSections() {
		return
	}
	s.Sections = nil
	s.RootSections = nil

	if inferByKeywords(s) {
		return
	}
	inferByImportance(s)
}

// inferByKeywords is tier 1. Returns false when no title matched any
// category, leaving the structure untouched for the importance partition.
func inferByKeywords(s *Structure) bool {
	buckets := make(map[string][]string)

	matched := false
	for _, page := range s.Pages {
		title := strings.ToLower(page.Title)
		assigned := otherSectionID
		for _, cat := range inferenceCategories {
			if matchesKeyword(title, cat.keywords) {
				assigned = cat.id
				matched = true
				break
			}
		}
		buckets[assigned] = append(buckets[assigned], page.ID)
	}

	// With zero keyword hits the catch-all would be the only section;
	// report no sections instead so pages are grouped by importance.
	if !matched {
		return false
	}

	for _, cat := range inferenceCategories {
		if pages := buckets[cat.id]; len(pages) > 0 {
			s.Sections = append(s.Sections, &Section{ID: cat.id, Title: cat.title, Pages: pages})
			s.RootSections = append(s.RootSections, cat.id)
		}
	}
	if pages := buckets[otherSectionID]; len(pages) > 0 {
		s.Sections = append(s.Sections, &Section{ID: otherSectionID, Title: otherSectionTitle, Pages: pages})
		s.RootSections = append(s.RootSections, otherSectionID)
	}
	for _, sec := range s.Sections {
		for _, id := range sec.Pages {
			if page := s.PageByID(id); page != nil {
				page.ParentID = sec.ID
			}
		}
	}
	return true
}

// inferByImportance is tier 2, the degenerate-case fallback.
func inferByImportance(s *Structure) {
	for _, spec := range importanceSections {
		var pages []string
		for _, page := range s.Pages {
			if page.Importance == spec.importance {
				pages = append(pages, page.ID)
				page.ParentID = spec.id
			}
		}
		if len(pages) == 0 {
			continue
		}
		s.Sections = append(s.Sections, &Section{ID: spec.id, Title: spec.title, Pages: pages})
		s.RootSections = append(s.RootSections, spec.id)
	}
}

func matchesKeyword(title string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(title, kw) {
			return true
		}
	}
	return false
}
