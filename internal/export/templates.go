package export

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

var markdownTemplate = template.Must(template.New("export").Funcs(template.FuncMap{
	"date":  func(t time.Time) string { return t.Format("2006-01-02") },
	"quote": quoteLines,
}).Parse(`# Tilly export

Exported {{date .ExportedAt}}.
{{range .People}}
## {{.Name}}{{if .DeletedAt}} (deleted){{end}}
{{if .Summary}}
{{quote .Summary}}
{{end}}{{if .Reminders}}
### Reminders
{{range .Reminders}}
- [{{if .Done}}x{{else}} {{end}}] {{.DueAtDate}} {{.Text}}{{if .Repeat}} ({{.Repeat}}){{end}}
{{- end}}
{{end}}{{if .Notes}}
### Notes
{{range .Notes}}
#### {{date .CreatedAt}}{{if .Pinned}} (pinned){{end}}

{{.Content}}
{{end}}{{end}}{{end}}`))

func renderMarkdown(bundle Bundle) ([]byte, error) {
	var buf bytes.Buffer
	if err := markdownTemplate.Execute(&buf, bundle); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	return buf.Bytes(), nil
}

func quoteLines(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight("> "+line, " ")
	}
	return strings.Join(lines, "\n")
}
