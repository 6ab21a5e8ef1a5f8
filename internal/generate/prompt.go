package generate

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/julianshen/repowiki/internal/job"
	"github.com/julianshen/repowiki/internal/repo"
	"github.com/julianshen/repowiki/internal/wiki"
)

// ---------- prompt templates ----------

var structureTmpl = template.Must(template.New("structure").Parse(
	`Analyze this repository {{.Owner}}/{{.Repo}} and create a wiki structure for it.

The complete file tree of the project:
<file_tree>
{{.FileTree}}
</file_tree>
{{if .Readme}}
The README of the project:
<readme>
{{.Readme}}
</readme>
{{end}}
Respond with a single <wiki_structure> XML element containing a <title>, a
<description>, and one <page> element per wiki page. Each page carries a
unique id attribute, a <title>, an <importance> of high, medium or low, one
<file_path> per relevant source file, and one <related> per related page id.
{{if .Comprehensive}}
Also include <section> elements grouping the pages: each with an id
attribute, a <title>, one <page_ref> per member page, and one <section_ref>
per nested subsection.
{{end}}
Write all titles in {{.Language}}. Respond with the XML only.`))

var pageTmpl = template.Must(template.New("page").Parse(
	`You are generating the wiki page "{{.Title}}" for the repository {{.Owner}}/{{.Repo}}.
{{if .FilePaths}}
The page covers these source files:
{{range .FilePaths}}- {{.}}
{{end}}{{end}}
Write complete, well-structured markdown documentation for this page,
grounded in the listed files. Start with a top-level heading matching the
page title. Write the page in {{.Language}}.`))

const systemPrompt = "You are an expert technical writer producing accurate repository documentation."

// structurePrompt renders the structure-phase prompt from fetched
// repository metadata.
func structurePrompt(ref job.Ref, meta *repo.Metadata) (string, error) {
	var buf bytes.Buffer
	err := structureTmpl.Execute(&buf, struct {
		Owner         string
		Repo          string
		FileTree      string
		Readme        string
		Language      string
		Comprehensive bool
	}{
		Owner:         ref.Owner,
		Repo:          ref.Repo,
		FileTree:      meta.FileTree,
		Readme:        meta.Readme,
		Language:      languageName(ref.Language),
		Comprehensive: ref.Comprehensive,
	})
	if err != nil {
		return "", fmt.Errorf("rendering structure prompt: %w", err)
	}
	return buf.String(), nil
}

// pagePrompt renders the content prompt for one wiki page.
func pagePrompt(ref job.Ref, page *wiki.Page) (string, error) {
	var buf bytes.Buffer
	err := pageTmpl.Execute(&buf, struct {
		Owner     string
		Repo      string
		Title     string
		FilePaths []string
		Language  string
	}{
		Owner:     ref.Owner,
		Repo:      ref.Repo,
		Title:     page.Title,
		FilePaths: page.FilePaths,
		Language:  languageName(ref.Language),
	})
	if err != nil {
		return "", fmt.Errorf("rendering page prompt: %w", err)
	}
	return buf.String(), nil
}

// languageName maps a language code onto the name used in prompts.
func languageName(code string) string {
	switch code {
	case "", "en":
		return "English"
	case "ja":
		return "Japanese"
	case "zh":
		return "Mandarin Chinese"
	case "es":
		return "Spanish"
	case "kr":
		return "Korean"
	case "vi":
		return "Vietnamese"
	default:
		return code
	}
}
