package export

import (
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"regexp"

	"audiolibri/api/internal/catalog"
)

// encodeJSON writes rows as a catalog document keyed by id.
func encodeJSON(rows []Row) ([]byte, error) {
	doc := catalog.NewSnapshot()
	for _, row := range rows {
		doc.Put(row.ID, row.Item)
	}
	return doc.Bytes()
}

// encodeCSV writes one header row (id plus every field seen) and one line
// per item. Null and absent values are empty cells.
func encodeCSV(rows []Row) ([]byte, error) {
	cols := columns(rows)
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append([]string{"id"}, cols...)); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		record := make([]string, 0, len(cols)+1)
		record = append(record, row.ID)
		for _, col := range cols {
			record = append(record, cellText(row.Item.Value(catalog.Field(col))))
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row %s: %w", row.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

var xmlNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// encodeXML writes <audiolibri><item id=".."><field>value</field></item>.
// Field names that are not valid element names become <field name="..">.
func encodeXML(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	root := xml.StartElement{Name: xml.Name{Local: "audiolibri"}}
	if err := enc.EncodeToken(root); err != nil {
		return nil, fmt.Errorf("encode xml: %w", err)
	}
	for _, row := range rows {
		item := xml.StartElement{
			Name: xml.Name{Local: "item"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "id"}, Value: row.ID}},
		}
		if err := enc.EncodeToken(item); err != nil {
			return nil, fmt.Errorf("encode xml item %s: %w", row.ID, err)
		}
		for _, field := range row.Item.Fields() {
			if err := encodeXMLField(enc, string(field), row.Item.Value(field)); err != nil {
				return nil, fmt.Errorf("encode xml item %s: %w", row.ID, err)
			}
		}
		if err := enc.EncodeToken(item.End()); err != nil {
			return nil, fmt.Errorf("encode xml item %s: %w", row.ID, err)
		}
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, fmt.Errorf("encode xml: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("flush xml: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func encodeXMLField(enc *xml.Encoder, name string, value any) error {
	start := xml.StartElement{Name: xml.Name{Local: name}}
	if !xmlNamePattern.MatchString(name) {
		start = xml.StartElement{
			Name: xml.Name{Local: "field"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "name"}, Value: name}},
		}
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if arr, ok := value.([]any); ok {
		for _, elem := range arr {
			if err := enc.EncodeElement(catalog.Stringify(elem), xml.StartElement{Name: xml.Name{Local: "value"}}); err != nil {
				return err
			}
		}
	} else if !catalog.IsNull(value) {
		if err := enc.EncodeToken(xml.CharData(catalog.Stringify(value))); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}
