package wiki

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RenderConfig controls how a generated wiki is written to disk.
type RenderConfig struct {
	Format    string // "raw-md", "hugo", or "docusaurus"
	OutputDir string // root output directory
}

// DefaultRenderConfig returns a RenderConfig with sensible defaults.
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		Format:    "raw-md",
		OutputDir: "docs/wiki",
	}
}

// Render writes a wiki structure to disk in the configured format: one
// markdown file per page plus an index linking them, grouped by section
// when the structure has any.
func Render(s *Structure, cfg RenderConfig) error {
	switch cfg.Format {
	case "raw-md":
		return renderRawMarkdown(s, cfg.OutputDir)
	case "hugo":
		return renderHugo(s, cfg.OutputDir)
	case "docusaurus":
		return renderDocusaurus(s, cfg.OutputDir)
	default:
		return fmt.Errorf("unsupported render format: %s", cfg.Format)
	}
}

func renderRawMarkdown(s *Structure, outputDir string) error {
	if err := writeDoc(filepath.Join(outputDir, "index.md"), renderIndex(s)); err != nil {
		return err
	}
	for _, page := range s.Pages {
		if err := writeDoc(filepath.Join(outputDir, page.ID+".md"), page.Content); err != nil {
			return err
		}
	}
	return nil
}

func renderHugo(s *Structure, outputDir string) error {
	if err := writeDoc(filepath.Join(outputDir, "content", "_index.md"), renderIndex(s)); err != nil {
		return err
	}
	for i, page := range s.Pages {
		frontMatter := fmt.Sprintf("---\ntitle: %q\nweight: %d\n---\n\n", page.Title, i+1)
		path := filepath.Join(outputDir, "content", page.ID+".md")
		if err := writeDoc(path, frontMatter+page.Content); err != nil {
			return err
		}
	}

	configContent := fmt.Sprintf(`baseURL = "/"
languageCode = "en-us"
title = %q
theme = "hugo-book"
`, s.Title)
	return writeDoc(filepath.Join(outputDir, "config.toml"), configContent)
}

func renderDocusaurus(s *Structure, outputDir string) error {
	for i, page := range s.Pages {
		frontMatter := fmt.Sprintf("---\nsidebar_position: %d\nsidebar_label: %q\n---\n\n", i+1, page.Title)
		path := filepath.Join(outputDir, "docs", page.ID+".md")
		if err := writeDoc(path, frontMatter+page.Content); err != nil {
			return err
		}
	}

	configContent := fmt.Sprintf(`// @ts-check

/** @type {import('@docusaurus/types').Config} */
const config = {
  title: %q,
  url: 'https://your-project-url.example.com',
  baseUrl: '/',
  themes: ['@docusaurus/theme-mermaid'],
  markdown: {
    mermaid: true,
  },
  presets: [
    [
      'classic',
      /** @type {import('@docusaurus/preset-classic').Options} */
      ({
        docs: {
          routeBasePath: '/',
        },
      }),
    ],
  ],
};

module.exports = config;
`, s.Title)
	return writeDoc(filepath.Join(outputDir, "docusaurus.config.js"), configContent)
}

// renderIndex builds the index page: title, description, and a table of
// contents grouped by section when sections exist.
func renderIndex(s *Structure) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", s.Title)
	if s.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", s.Description)
	}

	if s.HasSections() {
		visited := make(map[string]bool)
		for _, rootID := range s.RootSections {
			if sec := s.SectionByID(rootID); sec != nil {
				renderSectionIndex(&b, s, sec, 2, visited)
			}
		}
		return b.String()
	}

	b.WriteString("\n")
	for _, page := range s.Pages {
		fmt.Fprintf(&b, "- [%s](%s.md)\n", page.Title, page.ID)
	}
	return b.String()
}

// renderSectionIndex walks a section subtree. visited breaks subsection
// cycles in malformed structures.
func renderSectionIndex(b *strings.Builder, s *Structure, sec *Section, level int, visited map[string]bool) {
	if visited[sec.ID] {
		return
	}
	visited[sec.ID] = true

	fmt.Fprintf(b, "\n%s %s\n\n", strings.Repeat("#", level), sec.Title)
	for _, pageID := range sec.Pages {
		if page := s.PageByID(pageID); page != nil {
			fmt.Fprintf(b, "- [%s](%s.md)\n", page.Title, page.ID)
		}
	}
	for _, subID := range sec.Subsections {
		if sub := s.SectionByID(subID); sub != nil {
			renderSectionIndex(b, s, sub, level+1, visited)
		}
	}
}

// writeDoc creates parent directories and writes content to the given path.
func writeDoc(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
