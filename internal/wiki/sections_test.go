package wiki

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferSectionsByKeywords(t *testing.T) {
	s := &Structure{
		Pages: []*Page{
			{ID: "p1", Title: "Getting Started"},
			{ID: "p2", Title: "Architecture Overview"},
			{ID: "p3", Title: "REST API"},
			{ID: "p4", Title: "Miscellaneous Notes"},
		},
	}
	InferSections(s)

	// "Architecture Overview" matches the overview category first; the
	// category order is a strict first-match priority.
	require.Len(t, s.Sections, 3)
	assert.Equal(t, "section-overview", s.Sections[0].ID)
	assert.Equal(t, []string{"p1", "p2"}, s.Sections[0].Pages)
	assert.Equal(t, "section-api", s.Sections[1].ID)
	assert.Equal(t, []string{"p3"}, s.Sections[1].Pages)
	assert.Equal(t, "section-other", s.Sections[2].ID)
	assert.Equal(t, []string{"p4"}, s.Sections[2].Pages)

	assert.Equal(t, []string{"section-overview", "section-api", "section-other"}, s.RootSections)
	assert.Equal(t, "section-overview", s.PageByID("p2").ParentID)
	assert.Equal(t, "section-other", s.PageByID("p4").ParentID)
}

func TestInferSectionsFirstMatchPriority(t *testing.T) {
	// A title matching both "api" and "data" goes to "api", the earlier
	// declared category.
	s := &Structure{Pages: []*Page{{ID: "p1", Title: "API Data Contracts"}}}
	InferSections(s)

	require.Len(t, s.Sections, 1)
	assert.Equal(t, "section-api", s.Sections[0].ID)
}

func TestInferSectionsPartition(t *testing.T) {
	s := &Structure{
		Pages: []*Page{
			{ID: "p1", Title: "Setup Guide"},
			{ID: "p2", Title: "Data Model"},
			{ID: "p3", Title: "Theme Interface"},
			{ID: "p4", Title: "Random"},
		},
	}
	InferSections(s)

	seen := make(map[string]int)
	for _, sec := range s.Sections {
		for _, id := range sec.Pages {
			seen[id]++
		}
	}
	for _, p := range s.Pages {
		assert.Equal(t, 1, seen[p.ID], "page %s must appear in exactly one section", p.ID)
	}
	assert.Len(t, s.RootSections, len(s.Sections))
}

func TestInferSectionsImportanceFallback(t *testing.T) {
	// No title matches any category, so grouping falls back to the
	// importance partition.
	s := &Structure{
		Pages: []*Page{
			{ID: "p1", Title: "A", Importance: ImportanceHigh},
			{ID: "p2", Title: "B", Importance: ImportanceMedium},
			{ID: "p3", Title: "C", Importance: ImportanceHigh},
		},
	}
	InferSections(s)

	require.Len(t, s.Sections, 2)
	assert.Equal(t, "Core Components", s.Sections[0].Title)
	assert.Equal(t, []string{"p1", "p3"}, s.Sections[0].Pages)
	assert.Equal(t, "Key Features", s.Sections[1].Title)
	assert.Equal(t, []string{"p2"}, s.Sections[1].Pages)
	assert.Equal(t, []string{"section-core", "section-features"}, s.RootSections)
	assert.Equal(t, "section-core", s.PageByID("p3").ParentID)
}

func TestInferSectionsNoOpWhenSectionsExist(t *testing.T) {
	s := &Structure{
		Pages:        []*Page{{ID: "p1", Title: "Overview"}},
		Sections:     []*Section{{ID: "s1", Title: "Existing", Pages: []string{"p1"}}},
		RootSections: []string{"s1"},
	}
	InferSections(s)

	require.Len(t, s.Sections, 1)
	assert.Equal(t, "Existing", s.Sections[0].Title)
}

func TestInferSectionsLoneUnmatchedParsedPage(t *testing.T) {
	// A single high-importance page whose title matches no category must
	// land in "Core Components", not in the catch-all.
	s, err := ParseStructure(`<wiki_structure><title>T</title><page id="p1"><title>Intro</title><importance>high</importance></page></wiki_structure>`, false)
	require.NoError(t, err)
	require.Len(t, s.Pages, 1)
	assert.Equal(t, ImportanceHigh, s.Pages[0].Importance)

	InferSections(s)
	require.Len(t, s.Sections, 1)
	assert.Equal(t, "Core Components", s.Sections[0].Title)
	assert.Equal(t, []string{"p1"}, s.Sections[0].Pages)
	assert.Equal(t, []string{"section-core"}, s.RootSections)
	assert.Equal(t, "section-core", s.PageByID("p1").ParentID)
}

func TestInferSectionsOtherOnlyWithMatchedSection(t *testing.T) {
	// The catch-all appears only next to at least one keyword-matched
	// section; on its own the importance partition applies instead.
	s := &Structure{
		Pages: []*Page{
			{ID: "p1", Title: "Setup Guide", Importance: ImportanceHigh},
			{ID: "p2", Title: "Miscellany", Importance: ImportanceLow},
		},
	}
	InferSections(s)

	require.Len(t, s.Sections, 2)
	assert.Equal(t, "section-setup", s.Sections[0].ID)
	assert.Equal(t, "section-other", s.Sections[1].ID)
	assert.Equal(t, []string{"p2"}, s.Sections[1].Pages)
	assert.Equal(t, "section-other", s.PageByID("p2").ParentID)
}

func TestNormalizeImportance(t *testing.T) {
	assert.Equal(t, ImportanceHigh, NormalizeImportance("high"))
	assert.Equal(t, ImportanceLow, NormalizeImportance("low"))
	assert.Equal(t, ImportanceMedium, NormalizeImportance("medium"))
	assert.Equal(t, ImportanceMedium, NormalizeImportance("HIGH"))
	assert.Equal(t, ImportanceMedium, NormalizeImportance(""))
	assert.Equal(t, ImportanceMedium, NormalizeImportance("critical"))
}
