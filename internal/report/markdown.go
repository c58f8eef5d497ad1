package report

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Section holds the results of one category for file reports.
type Section struct {
	Category string
	Results  []Result
}

// WriteMarkdown writes a report of all sections: a fenced diff block per
// changed entity and a list of the entities that are up to date.
func WriteMarkdown(w io.Writer, title string, sections []Section) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	for _, s := range sections {
		fmt.Fprintf(&b, "## %s\n\n", s.Category)
		var upToDate []string
		changed := 0
		for _, res := range s.Results {
			if Unchanged(res.Parts) {
				upToDate = append(upToDate, res.Entity)
				continue
			}
			changed++
			fmt.Fprintf(&b, "### %s\n\n```diff\n", res.Entity)
			for _, p := range res.Parts {
				text := p.Text
				if !strings.HasSuffix(text, "\n") {
					text += "\n"
				}
				b.WriteString(prefixLines(text, p.Kind.prefix()))
			}
			b.WriteString("```\n\n")
		}
		if changed == 0 {
			b.WriteString("No changes.\n\n")
		}
		if len(upToDate) > 0 {
			b.WriteString("Up to date:\n\n")
			for _, name := range upToDate {
				fmt.Fprintf(&b, "- %s\n", name)
			}
			b.WriteString("\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

var htmlPage = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 60em; margin: 2em auto; }
pre { background: #f6f8fa; padding: 1em; overflow-x: auto; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// WriteHTML renders the markdown report of sections as a standalone HTML page.
func WriteHTML(w io.Writer, title string, sections []Section) error {
	var md bytes.Buffer
	if err := WriteMarkdown(&md, title, sections); err != nil {
		return err
	}
	var body bytes.Buffer
	gm := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := gm.Convert(md.Bytes(), &body); err != nil {
		return fmt.Errorf("failed to process markdown: %v", err)
	}
	return htmlPage.Execute(w, struct {
		Title string
		Body  template.HTML
	}{
		Title: title,
		Body:  template.HTML(body.String()),
	})
}
