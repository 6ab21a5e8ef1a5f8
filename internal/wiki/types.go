// Package wiki defines the generated-wiki data model, the tolerant parser
// that extracts a WikiStructure from raw model output, and the section
// inference engine used when a structure arrives without sections.
package wiki

import "log/slog"

// Importance ranks a page within the generated wiki.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

// NormalizeImportance maps arbitrary model output to a valid Importance.
// Anything other than exactly "high" or "low" becomes "medium".
func NormalizeImportance(s string) Importance {
	switch s {
	case "high":
		return ImportanceHigh
	case "low":
		return ImportanceLow
	default:
		return ImportanceMedium
	}
}

// Page is a single wiki page. Content starts empty and is written exactly
// once by the page generation scheduler (success text or an error
// placeholder).
type Page struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Content      string     `json:"content"`
	FilePaths    []string   `json:"file_paths"`
	Importance   Importance `json:"importance"`
	RelatedPages []string   `json:"related_pages"`
	ParentID     string     `json:"parent_id,omitempty"`
}

// Section groups pages and, in comprehensive mode, nested subsections.
type Section struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Pages       []string `json:"pages"`
	Subsections []string `json:"subsections,omitempty"`
}

// Structure is the full parsed wiki layout for one repository.
type Structure struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Pages        []*Page    `json:"pages"`
	Sections     []*Section `json:"sections"`
	RootSections []string   `json:"root_sections"`
}

// PageByID returns the page with the given id, or nil.
func (s *Structure) PageByID(id string) *Page {
	for _, p := range s.Pages {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// SectionByID returns the section with the given id, or nil.
func (s *Structure) SectionByID(id string) *Section {
	for _, sec := range s.Sections {
		if sec.ID == id {
			return sec
		}
	}
	return nil
}

// HasSections reports whether the structure carries any usable section
// layout. A structure with sections but no roots is treated as sectionless
// and handed to the inference engine.
func (s *Structure) HasSections() bool {
	return len(s.Sections) > 0 && len(s.RootSections) > 0
}

// Normalize drops dangling page and subsection references and breaks
// subsection cycles. The source format does not enforce referential
// integrity, so a bad reference is logged and dropped rather than failing
// the whole structure.
func (s *Structure) Normalize(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	pageIDs := make(map[string]bool, len(s.Pages))
	for _, p := range s.Pages {
		pageIDs[p.ID] = true
	}
	sectionIDs := make(map[string]bool, len(s.Sections))
	for _, sec := range s.Sections {
		sectionIDs[sec.ID] = true
	}

	for _, sec := range s.Sections {
		sec.Pages = filterRefs(sec.Pages, pageIDs, func(ref string) {
			logger.Warn("dropping dangling page reference", "section", sec.ID, "page", ref)
		})
		sec.Subsections = filterRefs(sec.Subsections, sectionIDs, func(ref string) {
			logger.Warn("dropping dangling subsection reference", "section", sec.ID, "subsection", ref)
		})
	}

	s.RootSections = filterRefs(s.RootSections, sectionIDs, func(ref string) {
		logger.Warn("dropping dangling root section reference", "section", ref)
	})

	s.breakCycles(logger)
}

// breakCycles removes any subsection edge that closes a cycle, walking from
// every section in declaration order so the earliest-declared path wins.
func (s *Structure) breakCycles(logger *slog.Logger) {
	visited := make(map[string]bool)

	var walk func(id string, path map[string]bool)
	walk = func(id string, path map[string]bool) {
		if visited[id] {
			return
		}
		visited[id] = true
		path[id] = true
		sec := s.SectionByID(id)
		if sec == nil {
			return
		}
		kept := sec.Subsections[:0]
		for _, sub := range sec.Subsections {
			if path[sub] {
				logger.Warn("breaking section cycle", "section", id, "subsection", sub)
				continue
			}
			kept = append(kept, sub)
		}
		sec.Subsections = kept
		for _, sub := range sec.Subsections {
			walk(sub, path)
		}
		delete(path, id)
	}

	for _, sec := range s.Sections {
		walk(sec.ID, make(map[string]bool))
	}
}

func filterRefs(refs []string, valid map[string]bool, onDrop func(string)) []string {
	kept := refs[:0]
	for _, ref := range refs {
		if valid[ref] {
			kept = append(kept, ref)
			continue
		}
		onDrop(ref)
	}
	return kept
}
