package export

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"audiolibri/api/internal/catalog"
)

// ParquetRecord is the flat columnar shape of an item. The full item is
// kept as JSON in the document column.
type ParquetRecord struct {
	ID                string `parquet:"id"`
	Title             string `parquet:"title"`
	RealTitle         string `parquet:"real_title"`
	RealAuthor        string `parquet:"real_author"`
	RealGenre         string `parquet:"real_genre"`
	RealLanguage      string `parquet:"real_language"`
	RealNarrator      string `parquet:"real_narrator"`
	RealPublishedYear string `parquet:"real_published_year"`
	ContentType       string `parquet:"content_type"`
	Processed         bool   `parquet:"processed"`
	Categories        string `parquet:"categories"`
	Tags              string `parquet:"tags"`
	YouTubeURL        string `parquet:"youtube_url"`
	Pending           bool   `parquet:"pending"`
	Document          string `parquet:"document"`
}

func toParquetRecord(row Row) (ParquetRecord, error) {
	doc, err := json.Marshal(row.Item)
	if err != nil {
		return ParquetRecord{}, fmt.Errorf("marshal item %s: %w", row.ID, err)
	}
	processed, _ := row.Item.Value(catalog.FieldProcessed).(bool)
	return ParquetRecord{
		ID:                row.ID,
		Title:             row.Item.Text(catalog.FieldTitle),
		RealTitle:         row.Item.Text(catalog.FieldRealTitle),
		RealAuthor:        row.Item.Text(catalog.FieldRealAuthor),
		RealGenre:         row.Item.Text(catalog.FieldRealGenre),
		RealLanguage:      row.Item.Text(catalog.FieldRealLanguage),
		RealNarrator:      row.Item.Text(catalog.FieldRealNarrator),
		RealPublishedYear: row.Item.Text(catalog.FieldRealPublishedYear),
		ContentType:       row.Item.Text(catalog.FieldContentType),
		Processed:         processed,
		Categories:        cellText(row.Item.Value(catalog.FieldCategories)),
		Tags:              cellText(row.Item.Value(catalog.FieldTags)),
		YouTubeURL:        row.Item.Text(catalog.FieldYouTubeURL),
		Pending:           row.Pending,
		Document:          string(doc),
	}, nil
}

func encodeParquet(rows []Row) ([]byte, error) {
	records := make([]ParquetRecord, 0, len(rows))
	for _, row := range rows {
		record, err := toParquetRecord(row)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[ParquetRecord](&buf)
	if _, err := writer.Write(records); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
