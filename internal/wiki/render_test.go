package wiki

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderStructure() *Structure {
	return &Structure{
		ID:          "wiki-demo",
		Title:       "Demo Wiki",
		Description: "Documentation for the demo project.",
		Pages: []*Page{
			{ID: "page-1", Title: "Overview", Content: "# Overview\n\nIntro."},
			{ID: "page-2", Title: "Internals", Content: "# Internals\n\nDetails."},
		},
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRenderRawMarkdown(t *testing.T) {
	dir := t.TempDir()
	err := Render(renderStructure(), RenderConfig{Format: "raw-md", OutputDir: dir})
	require.NoError(t, err)

	index := readFile(t, filepath.Join(dir, "index.md"))
	assert.Contains(t, index, "# Demo Wiki")
	assert.Contains(t, index, "Documentation for the demo project.")
	assert.Contains(t, index, "- [Overview](page-1.md)")
	assert.Contains(t, index, "- [Internals](page-2.md)")

	assert.Equal(t, "# Overview\n\nIntro.", readFile(t, filepath.Join(dir, "page-1.md")))
	assert.Equal(t, "# Internals\n\nDetails.", readFile(t, filepath.Join(dir, "page-2.md")))
}

func TestRenderRawMarkdownGroupsBySection(t *testing.T) {
	s := renderStructure()
	s.Sections = []*Section{
		{ID: "section-core", Title: "Core", Pages: []string{"page-1"}, Subsections: []string{"section-deep"}},
		{ID: "section-deep", Title: "Deep Dive", Pages: []string{"page-2"}},
	}
	s.RootSections = []string{"section-core"}

	dir := t.TempDir()
	require.NoError(t, Render(s, RenderConfig{Format: "raw-md", OutputDir: dir}))

	index := readFile(t, filepath.Join(dir, "index.md"))
	assert.Contains(t, index, "## Core")
	assert.Contains(t, index, "### Deep Dive")
	assert.Contains(t, index, "- [Overview](page-1.md)")
	assert.Contains(t, index, "- [Internals](page-2.md)")
}

func TestRenderIndexBreaksSectionCycle(t *testing.T) {
	s := renderStructure()
	s.Sections = []*Section{
		{ID: "section-a", Title: "A", Pages: []string{"page-1"}, Subsections: []string{"section-b"}},
		{ID: "section-b", Title: "B", Pages: []string{"page-2"}, Subsections: []string{"section-a"}},
	}
	s.RootSections = []string{"section-a"}

	dir := t.TempDir()
	require.NoError(t, Render(s, RenderConfig{Format: "raw-md", OutputDir: dir}))

	index := readFile(t, filepath.Join(dir, "index.md"))
	assert.Equal(t, 1, strings.Count(index, "## A"))
	assert.Equal(t, 1, strings.Count(index, "### B"))
}

func TestRenderHugo(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Render(renderStructure(), RenderConfig{Format: "hugo", OutputDir: dir}))

	assert.FileExists(t, filepath.Join(dir, "content", "_index.md"))

	page := readFile(t, filepath.Join(dir, "content", "page-1.md"))
	assert.Contains(t, page, `title: "Overview"`)
	assert.Contains(t, page, "weight: 1")
	assert.Contains(t, page, "# Overview")

	config := readFile(t, filepath.Join(dir, "config.toml"))
	assert.Contains(t, config, `title = "Demo Wiki"`)
}

func TestRenderDocusaurus(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Render(renderStructure(), RenderConfig{Format: "docusaurus", OutputDir: dir}))

	page := readFile(t, filepath.Join(dir, "docs", "page-2.md"))
	assert.Contains(t, page, "sidebar_position: 2")
	assert.Contains(t, page, `sidebar_label: "Internals"`)

	config := readFile(t, filepath.Join(dir, "docusaurus.config.js"))
	assert.Contains(t, config, `title: "Demo Wiki"`)
	assert.Contains(t, config, "mermaid: true")
}

func TestRenderUnsupportedFormat(t *testing.T) {
	err := Render(renderStructure(), RenderConfig{Format: "pdf", OutputDir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported render format")
}

func TestDefaultRenderConfig(t *testing.T) {
	cfg := DefaultRenderConfig()
	assert.Equal(t, "raw-md", cfg.Format)
	assert.Equal(t, "docs/wiki", cfg.OutputDir)
}
