// Package importer builds catalog items from YouTube metadata extracted
// with the yt-dlp command-line tool.
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"audiolibri/api/internal/catalog"
)

var (
	commandContext = exec.CommandContext
	lookPath       = exec.LookPath
)

// ErrUnavailable is wrapped in an ImportError when yt-dlp cannot be found.
var ErrUnavailable = errors.New("yt-dlp not available")

// Request describes what to import and how to classify it.
type Request struct {
	URL          string `json:"url"`
	ContentType  string `json:"content_type"`
	Language     string `json:"language"`
	Genre        string `json:"genre,omitempty"`
	Processed    bool   `json:"processed,omitempty"`
	CreateSeries bool   `json:"create_series,omitempty"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return catalog.NewValidationError("url", "URL, content type, and language are required")
	}
	if strings.TrimSpace(r.ContentType) == "" {
		return catalog.NewValidationError("content_type", "URL, content type, and language are required")
	}
	if strings.TrimSpace(r.Language) == "" {
		return catalog.NewValidationError("language", "URL, content type, and language are required")
	}
	return nil
}

// Imported is one new catalog item and its generated id.
type Imported struct {
	ID   string        `json:"id"`
	Item *catalog.Item `json:"item"`
}

// Playlist is the result of a playlist import.
type Playlist struct {
	Title    string     `json:"playlist_title"`
	SeriesID string     `json:"series_id,omitempty"`
	Items    []Imported `json:"items"`
}

// videoInfo is the subset of yt-dlp's --dump-json output we read.
type videoInfo struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Uploader      string      `json:"uploader"`
	Channel       string      `json:"channel"`
	Description   string      `json:"description"`
	Duration      *float64    `json:"duration"`
	UploadDate    string      `json:"upload_date"`
	Thumbnail     string      `json:"thumbnail"`
	WebpageURL    string      `json:"webpage_url"`
	ViewCount     *int64      `json:"view_count"`
	LikeCount     *int64      `json:"like_count"`
	PlaylistID    string      `json:"playlist_id"`
	PlaylistTitle string      `json:"playlist_title"`
	Entries       []videoInfo `json:"entries"`
}

// Option configures the CLI importer.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// CLI wraps the yt-dlp command-line extractor.
type CLI struct {
	binary string
	now    func() time.Time
	newID  func() string
}

func NewCLI(opts ...Option) *CLI {
	cli := &CLI{
		binary: "yt-dlp",
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Available reports whether the yt-dlp binary can be found.
func (c *CLI) Available() bool {
	_, err := lookPath(c.binary)
	return err == nil
}

// ImportVideo extracts one video and maps it to a new item.
func (c *CLI) ImportVideo(ctx context.Context, req Request) (Imported, error) {
	if err := req.Validate(); err != nil {
		return Imported{}, err
	}
	out, err := c.run(ctx, req.URL, "--dump-json", "--no-download", "--no-warnings", "--ignore-errors")
	if err != nil {
		return Imported{}, &catalog.ImportError{URL: req.URL, Err: err}
	}
	var info videoInfo
	if err := json.Unmarshal(bytes.TrimSpace(out), &info); err != nil {
		return Imported{}, &catalog.ImportError{URL: req.URL, Err: fmt.Errorf("failed to parse video information: %w", err)}
	}

	now := c.now()
	item := catalog.NewItem()
	title := firstNonBlank(info.Title, "Unknown Title")
	item.Set(catalog.FieldTitle, title)
	item.Set(catalog.FieldRealTitle, title)
	item.Set(catalog.FieldRealAuthor, firstNonBlank(info.Uploader, info.Channel, "Unknown Author"))
	item.Set(catalog.FieldRealGenre, genreFor(req))
	item.Set(catalog.FieldContentType, req.ContentType)
	item.Set(catalog.FieldRealLanguage, req.Language)
	item.Set(catalog.FieldRealSynopsis, synopsis(info.Description, "Importato da YouTube"))
	item.Set(catalog.FieldRealDuration, durationMinutes(info.Duration))
	item.Set(catalog.FieldRealPublishedYear, publishedYear(info.UploadDate, now))
	item.Set(catalog.FieldYouTubeURL, req.URL)
	setCommon(item, info, req, now)

	return Imported{ID: c.newID(), Item: item}, nil
}

// ImportPlaylist extracts every entry of a playlist. yt-dlp prints either
// one playlist object with entries or one object per line.
func (c *CLI) ImportPlaylist(ctx context.Context, req Request) (Playlist, error) {
	if err := req.Validate(); err != nil {
		return Playlist{}, err
	}
	out, err := c.run(ctx, req.URL, "--dump-json", "--no-download", "--no-warnings", "--ignore-errors", "--flat-playlist")
	if err != nil {
		return Playlist{}, &catalog.ImportError{URL: req.URL, Err: err}
	}
	playlist, err := parsePlaylist(out)
	if err != nil {
		return Playlist{}, &catalog.ImportError{URL: req.URL, Err: err}
	}
	if len(playlist.Entries) == 0 {
		return Playlist{}, &catalog.ImportError{URL: req.URL, Err: errors.New("could not extract playlist information or playlist is empty")}
	}

	now := c.now()
	result := Playlist{Title: firstNonBlank(playlist.Title, "Unknown Playlist")}
	if req.CreateSeries {
		result.SeriesID = c.newID()
	}
	total := len(playlist.Entries)
	for i, video := range playlist.Entries {
		part := i + 1
		title := firstNonBlank(video.Title, fmt.Sprintf("%s - Part %d", result.Title, part))
		if req.CreateSeries && req.ContentType == "series" {
			title = fmt.Sprintf("%s - Parte %d", result.Title, part)
			if video.Title != "" {
				title += ": " + video.Title
			}
		}

		item := catalog.NewItem()
		item.Set(catalog.FieldTitle, title)
		item.Set(catalog.FieldRealTitle, title)
		item.Set(catalog.FieldRealAuthor, firstNonBlank(video.Uploader, video.Channel, playlist.Uploader, "Unknown Author"))
		item.Set(catalog.FieldRealGenre, genreFor(req))
		item.Set(catalog.FieldContentType, req.ContentType)
		item.Set(catalog.FieldRealLanguage, req.Language)
		item.Set(catalog.FieldRealSynopsis, synopsis(video.Description, fmt.Sprintf("Parte %d di %s", part, result.Title)))
		item.Set(catalog.FieldRealDuration, durationMinutes(video.Duration))
		item.Set(catalog.FieldRealPublishedYear, publishedYear(video.UploadDate, now))
		item.Set(catalog.FieldYouTubeURL, firstNonBlank(video.WebpageURL, "https://www.youtube.com/watch?v="+video.ID))
		setCommon(item, video, req, now)
		if playlist.ID != "" {
			item.Set(catalog.FieldPlaylistID, playlist.ID)
		}
		item.Set(catalog.FieldPlaylistTitle, result.Title)
		item.Set(catalog.FieldPartNumber, part)
		item.Set(catalog.FieldTotalParts, total)
		if result.SeriesID != "" {
			item.Set(catalog.FieldSeriesID, result.SeriesID)
			item.Set(catalog.FieldSeriesTitle, result.Title)
		}
		result.Items = append(result.Items, Imported{ID: c.newID(), Item: item})
	}
	return result, nil
}

type playlistInfo struct {
	ID       string
	Title    string
	Uploader string
	Entries  []videoInfo
}

func parsePlaylist(out []byte) (playlistInfo, error) {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	var entries []videoInfo
	for _, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var info videoInfo
		if err := json.Unmarshal(line, &info); err != nil {
			return playlistInfo{}, fmt.Errorf("failed to parse playlist information: %w", err)
		}
		entries = append(entries, info)
	}
	switch len(entries) {
	case 0:
		return playlistInfo{}, nil
	case 1:
		only := entries[0]
		return playlistInfo{ID: only.ID, Title: only.Title, Uploader: firstNonBlank(only.Uploader, only.Channel), Entries: only.Entries}, nil
	}
	first := entries[0]
	title := first.PlaylistTitle
	if title == "" {
		title = fmt.Sprintf("Playlist - %d videos", len(entries))
	}
	return playlistInfo{ID: first.PlaylistID, Title: title, Entries: entries}, nil
}

func (c *CLI) run(ctx context.Context, args ...string) ([]byte, error) {
	if _, err := lookPath(c.binary); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil && len(bytes.TrimSpace(out)) == 0 {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("run %s: %w", c.binary, err)
		}
		return nil, fmt.Errorf("run %s: %w: %s", c.binary, err, msg)
	}
	return out, nil
}

func setCommon(item *catalog.Item, info videoInfo, req Request, now time.Time) {
	if info.ID != "" {
		item.Set(catalog.FieldYouTubeID, info.ID)
	}
	if info.Thumbnail != "" {
		item.Set(catalog.FieldThumbnail, info.Thumbnail)
	}
	item.Set(catalog.FieldProcessed, req.Processed)
	item.Set(catalog.FieldImportedAt, now.Format("2006-01-02T15:04:05.000Z"))
	if info.ViewCount != nil {
		item.Set(catalog.FieldViewCount, *info.ViewCount)
	}
	if info.LikeCount != nil {
		item.Set(catalog.FieldLikeCount, *info.LikeCount)
	}
}

func genreFor(req Request) string {
	if g := strings.TrimSpace(req.Genre); g != "" {
		return g
	}
	if req.ContentType == "podcast" {
		return "Podcast"
	}
	return "Audiolibro"
}

func synopsis(description, fallback string) string {
	if description == "" {
		return fallback
	}
	runes := []rune(description)
	if len(runes) > 500 {
		return string(runes[:500])
	}
	return description
}

func durationMinutes(seconds *float64) any {
	if seconds == nil || *seconds == 0 {
		return nil
	}
	return int64(math.Round(*seconds / 60))
}

// publishedYear reads the year from yt-dlp's YYYYMMDD upload date.
func publishedYear(uploadDate string, now time.Time) int {
	if len(uploadDate) >= 4 {
		if year, err := strconv.Atoi(uploadDate[:4]); err == nil {
			return year
		}
	}
	return now.Year()
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
