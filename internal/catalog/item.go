// Package catalog models the audiolibri catalog document: items, the fetched
// snapshot, JSON values and the error taxonomy shared by the editor packages.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Field names a property of an Item. The constants below are the fields the
// editor knows about; any other name is carried through untouched.
type Field string

const (
	FieldTitle             Field = "title"
	FieldRealTitle         Field = "real_title"
	FieldRealAuthor        Field = "real_author"
	FieldRealGenre         Field = "real_genre"
	FieldRealLanguage      Field = "real_language"
	FieldRealSynopsis      Field = "real_synopsis"
	FieldRealNarrator      Field = "real_narrator"
	FieldRealPublishedYear Field = "real_published_year"
	FieldRealDuration      Field = "real_duration"
	FieldContentType       Field = "content_type"
	FieldProcessed         Field = "processed"
	FieldSummary           Field = "summary"
	FieldAudioFile         Field = "audio_file"
	FieldChannelName       Field = "channel_name"
	FieldDescription       Field = "description"
	FieldCategories        Field = "categories"
	FieldTags              Field = "tags"
	FieldURL               Field = "url"
	FieldThumbnail         Field = "thumbnail"
	FieldYouTubeURL        Field = "youtube_url"
	FieldYouTubeID         Field = "youtube_id"
	FieldViewCount         Field = "view_count"
	FieldLikeCount         Field = "like_count"
	FieldDuration          Field = "duration"
	FieldUploadDate        Field = "upload_date"
	FieldImportedAt        Field = "imported_at"
	FieldPlaylistID        Field = "playlist_id"
	FieldPlaylistTitle     Field = "playlist_title"
	FieldPartNumber        Field = "part_number"
	FieldTotalParts        Field = "total_parts"
	FieldSeriesID          Field = "series_id"
	FieldSeriesTitle       Field = "series_title"
)

var knownFields = map[Field]struct{}{
	FieldTitle: {}, FieldRealTitle: {}, FieldRealAuthor: {}, FieldRealGenre: {}, FieldRealLanguage: {},
	FieldRealSynopsis: {}, FieldRealNarrator: {}, FieldRealPublishedYear: {}, FieldRealDuration: {},
	FieldContentType: {}, FieldProcessed: {}, FieldSummary: {}, FieldAudioFile: {}, FieldChannelName: {},
	FieldDescription: {}, FieldCategories: {}, FieldTags: {}, FieldURL: {}, FieldThumbnail: {},
	FieldYouTubeURL: {}, FieldYouTubeID: {}, FieldViewCount: {}, FieldLikeCount: {}, FieldDuration: {},
	FieldUploadDate: {}, FieldImportedAt: {}, FieldPlaylistID: {}, FieldPlaylistTitle: {},
	FieldPartNumber: {}, FieldTotalParts: {}, FieldSeriesID: {}, FieldSeriesTitle: {},
}

// Known reports whether f is one of the catalog's declared fields.
func (f Field) Known() bool {
	_, ok := knownFields[f]
	return ok
}

// Item is one catalog entry. Values are generic JSON values (string,
// json.Number, bool, []any, map[string]any, nil) and key order is kept so a
// rewritten document diffs cleanly against the original.
type Item struct {
	keys   []string
	values map[string]any
}

func NewItem() *Item {
	return &Item{values: make(map[string]any)}
}

// Get returns the raw value of f and whether the key is present.
func (it *Item) Get(f Field) (any, bool) {
	if it == nil {
		return nil, false
	}
	v, ok := it.values[string(f)]
	return v, ok
}

// Value returns the value of f or nil when absent.
func (it *Item) Value(f Field) any {
	v, _ := it.Get(f)
	return v
}

// Text returns f rendered as a string, empty when absent or null.
func (it *Item) Text(f Field) string {
	return Stringify(it.Value(f))
}

// Set stores v under f, appending the key if it is new.
func (it *Item) Set(f Field, v any) {
	if it.values == nil {
		it.values = make(map[string]any)
	}
	key := string(f)
	if _, ok := it.values[key]; !ok {
		it.keys = append(it.keys, key)
	}
	it.values[key] = Normalize(v)
}

func (it *Item) Delete(f Field) {
	key := string(f)
	if _, ok := it.values[key]; !ok {
		return
	}
	delete(it.values, key)
	for i, k := range it.keys {
		if k == key {
			it.keys = append(it.keys[:i], it.keys[i+1:]...)
			break
		}
	}
}

// Fields lists the item's keys in document order.
func (it *Item) Fields() []Field {
	out := make([]Field, 0, len(it.keys))
	for _, k := range it.keys {
		out = append(out, Field(k))
	}
	return out
}

// Extra returns the fields the catalog does not declare, as imported.
func (it *Item) Extra() map[string]any {
	extra := make(map[string]any)
	for _, k := range it.keys {
		if !Field(k).Known() {
			extra[k] = it.values[k]
		}
	}
	return extra
}

// DisplayTitle picks real_title, then title, then fallback.
func (it *Item) DisplayTitle(fallback string) string {
	if title := strings.TrimSpace(it.Text(FieldRealTitle)); title != "" {
		return title
	}
	if title := strings.TrimSpace(it.Text(FieldTitle)); title != "" {
		return title
	}
	return fallback
}

func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	clone := &Item{
		keys:   append([]string(nil), it.keys...),
		values: make(map[string]any, len(it.values)),
	}
	for k, v := range it.values {
		clone.values[k] = cloneValue(v)
	}
	return clone
}

func (it *Item) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range it.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodedKey, err := encodeCompact(key)
		if err != nil {
			return nil, err
		}
		buf.Write(encodedKey)
		buf.WriteByte(':')
		encodedValue, err := encodeCompact(it.values[key])
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", key, err)
		}
		buf.Write(encodedValue)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (it *Item) UnmarshalJSON(data []byte) error {
	it.keys = nil
	it.values = make(map[string]any)
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read item key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("item key is %T, want string", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode item field %s: %w", key, err)
		}
		if _, seen := it.values[key]; !seen {
			it.keys = append(it.keys, key)
		}
		it.values[key] = value
	}
	return expectDelim(dec, '}')
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func encodeCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
