package tabular

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"audiolibri/api/internal/catalog"
)

// Languages are the accepted real_language codes.
var Languages = []string{"it", "en", "fr", "de", "es", "pt", "ru", "ja", "zh", "ar"}

var youtubeURLPattern = regexp.MustCompile(`^https?://(www\.)?(youtube\.com/(watch\?v=|playlist\?list=)|youtu\.be/)`)

var maxLengths = map[catalog.Field]int{
	catalog.FieldRealTitle:    200,
	catalog.FieldRealAuthor:   100,
	catalog.FieldRealSynopsis: 2000,
	catalog.FieldRealNarrator: 100,
}

const maxDurationMinutes = 999999

// Validator checks a cell value before it enters the ledger.
type Validator struct {
	now func() time.Time
}

func NewValidator() *Validator {
	return &Validator{now: time.Now}
}

// Validate returns a *catalog.ValidationError when value is not acceptable
// for column. Null is always accepted.
func (v *Validator) Validate(column catalog.Field, value any) error {
	if value == nil {
		return nil
	}
	invalid := func(format string, args ...any) error {
		return catalog.NewValidationError(string(column), fmt.Sprintf(format, args...))
	}

	switch column {
	case catalog.FieldRealPublishedYear:
		year, ok := catalog.Number(value)
		if !ok {
			if n, parsed := parseNumber(catalog.Stringify(value)); parsed {
				year, ok = catalog.Number(n)
			}
		}
		maxYear := v.now().Year() + 5
		if !ok || year < 1000 || year > float64(maxYear) {
			return invalid("invalid publication year %s (expected 1000-%d)", catalog.Stringify(value), maxYear)
		}

	case catalog.FieldViewCount, catalog.FieldLikeCount, catalog.FieldDuration:
		n, ok := catalog.Number(value)
		if !ok || n < 0 {
			return invalid("%s must be a non-negative number", catalog.Label(column))
		}

	case catalog.FieldRealDuration:
		n, ok := catalog.Number(value)
		if !ok || n <= 0 || n >= maxDurationMinutes {
			return invalid("duration must be between 1 and %d minutes", maxDurationMinutes-1)
		}

	case catalog.FieldRealLanguage:
		code, ok := value.(string)
		if ok && code != "" && !slices.Contains(Languages, strings.ToLower(code)) {
			return invalid("unknown language code %q", code)
		}

	case catalog.FieldURL, catalog.FieldThumbnail:
		if raw, ok := value.(string); ok && raw != "" {
			if u, err := url.Parse(raw); err != nil || !u.IsAbs() {
				return invalid("invalid URL %q", raw)
			}
		}

	case catalog.FieldYouTubeURL:
		if raw, ok := value.(string); ok && raw != "" && !youtubeURLPattern.MatchString(raw) {
			return invalid("not a YouTube video or playlist URL")
		}

	case catalog.FieldCategories, catalog.FieldTags:
		list, ok := value.([]any)
		if !ok {
			return invalid("%s must be a list", column)
		}
		for _, elem := range list {
			s, isString := elem.(string)
			if !isString || strings.TrimSpace(s) == "" {
				return invalid("%s must be non-empty strings", column)
			}
		}

	case catalog.FieldRealGenre:
		if genre, ok := value.(string); ok && genre != "" {
			return catalog.ValidateGenre(genre)
		}
	}

	if limit, ok := maxLengths[column]; ok {
		if s, isString := value.(string); isString && utf8.RuneCountInString(s) > limit {
			return invalid("%s must be at most %d characters", catalog.Label(column), limit)
		}
	}
	return nil
}
