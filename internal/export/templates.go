package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"

	"audiolibri/api/internal/catalog"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/report.html")
	if err != nil {
		reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData is a catalog report: the items grouped by genre.
type TemplateData struct {
	Title        string
	GeneratedAt  time.Time
	ItemCount    int
	PendingCount int
	Genres       []GenreSection
}

// GenreSection holds the items of one effective genre.
type GenreSection struct {
	Name       string
	Suspicious bool
	Pending    int
	Rows       []TemplateRow
}

type TemplateRow struct {
	ID        string
	Title     string
	Author    string
	Year      string
	Language  string
	Processed bool
	Pending   bool
	Added     bool
	Changes   []TemplateChange
}

type TemplateChange struct {
	Label    string
	Original string
	Current  string
}

const noGenre = "Senza genere"

// reportData groups rows by genre. Sections follow genre size, largest
// first; items without a genre come last. Genres that look like
// duplicates of another are flagged.
func reportData(title string, rows []Row, now time.Time) TemplateData {
	data := TemplateData{Title: title, GeneratedAt: now, ItemCount: len(rows)}

	byGenre := make(map[string][]Row)
	ids := make([]string, 0, len(rows))
	genres := make(map[string]string, len(rows))
	for _, row := range rows {
		genre := strings.TrimSpace(row.Item.Text(catalog.FieldRealGenre))
		genres[row.ID] = genre
		ids = append(ids, row.ID)
		byGenre[genre] = append(byGenre[genre], row)
	}

	stats := catalog.CollectGenres(ids, func(id string) string { return genres[id] })
	for _, stat := range stats {
		data.Genres = append(data.Genres, genreSection(stat.Name, stat.Suspicious, byGenre[stat.Name]))
	}
	if rest := byGenre[""]; len(rest) > 0 {
		data.Genres = append(data.Genres, genreSection(noGenre, false, rest))
	}
	for _, section := range data.Genres {
		data.PendingCount += section.Pending
	}
	return data
}

func genreSection(name string, suspicious bool, rows []Row) GenreSection {
	section := GenreSection{Name: name, Suspicious: suspicious}
	for _, row := range rows {
		processed, _ := row.Item.Value(catalog.FieldProcessed).(bool)
		tr := TemplateRow{
			ID:        row.ID,
			Title:     row.Item.DisplayTitle("Senza titolo"),
			Author:    row.Item.Text(catalog.FieldRealAuthor),
			Year:      cellText(row.Item.Value(catalog.FieldRealPublishedYear)),
			Language:  row.Item.Text(catalog.FieldRealLanguage),
			Processed: processed,
			Pending:   row.Pending,
			Added:     row.Added,
		}
		for _, change := range row.Changes {
			tr.Changes = append(tr.Changes, TemplateChange{
				Label:    catalog.Label(change.Field),
				Original: cellText(change.Original),
				Current:  cellText(change.Current),
			})
		}
		if row.Pending {
			section.Pending++
		}
		section.Rows = append(section.Rows, tr)
	}
	return section
}

// RenderReportHTML renders the report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body>
  <h1>{{.Title}}</h1>
  <p>{{.ItemCount}} elementi</p>
  {{range .Genres}}<section class="genre"><h2>{{.Name}}</h2>
  <table>{{range .Rows}}<tr><td>{{.ID}}</td><td>{{.Title}}</td><td>{{.Author}}</td></tr>{{end}}</table>
  </section>{{else}}<p class="empty">Nessun elemento</p>{{end}}
</body>
</html>`
