package catalog

// labelledFields is the order fields are named in a pull request body.
var labelledFields = []struct {
	field Field
	label string
}{
	{FieldRealTitle, "Title"},
	{FieldRealAuthor, "Author"},
	{FieldRealGenre, "Genre"},
	{FieldRealSynopsis, "Synopsis"},
	{FieldSummary, "Summary"},
	{FieldProcessed, "Processed status"},
	{FieldContentType, "Content type"},
	{FieldRealLanguage, "Language"},
	{FieldRealPublishedYear, "Published year"},
	{FieldRealNarrator, "Narrator"},
	{FieldAudioFile, "Audio file"},
}

// Label returns the human name of a field, or the raw name for fields
// without one.
func Label(f Field) string {
	for _, entry := range labelledFields {
		if entry.field == f {
			return entry.label
		}
	}
	return string(f)
}

// Labels names changed fields in pull-request order: labelled fields first,
// then the rest in the order given.
func Labels(changed []Field) []string {
	set := make(map[Field]bool, len(changed))
	for _, f := range changed {
		set[f] = true
	}
	out := make([]string, 0, len(changed))
	for _, entry := range labelledFields {
		if set[entry.field] {
			out = append(out, entry.label)
			delete(set, entry.field)
		}
	}
	for _, f := range changed {
		if set[f] {
			out = append(out, string(f))
			delete(set, f)
		}
	}
	return out
}

// SearchFields are the text fields matched by server-side search, besides
// the categories and tags arrays.
var SearchFields = []Field{
	FieldTitle, FieldRealTitle, FieldRealAuthor, FieldRealGenre, FieldRealSynopsis, FieldRealNarrator,
	FieldChannelName, FieldDescription, FieldSummary, FieldContentType, FieldRealLanguage, FieldAudioFile,
}
