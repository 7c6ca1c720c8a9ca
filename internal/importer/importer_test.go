package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"testing"
	"time"

	"audiolibri/api/internal/catalog"
)

func setHelperCommand(t *testing.T, mode string) *[]string {
	t.Helper()
	var captured []string
	originalCommand, originalLookPath := commandContext, lookPath
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		captured = append([]string(nil), args...)
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", fmt.Sprintf("YTDLP_HELPER_MODE=%s", mode))
		return cmd
	}
	lookPath = func(string) (string, error) { return "/usr/bin/yt-dlp", nil }
	t.Cleanup(func() {
		commandContext = originalCommand
		lookPath = originalLookPath
	})
	return &captured
}

func newTestCLI() *CLI {
	cli := NewCLI()
	cli.now = func() time.Time { return time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC) }
	n := 0
	cli.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return cli
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("YTDLP_HELPER_MODE") {
	case "video":
		fmt.Println(`{"id":"abc123","title":"Il barone rampante","uploader":"Letture","description":"Romanzo di Calvino","duration":5430,"upload_date":"20190315","thumbnail":"https://i.ytimg.com/vi/abc123/hq.jpg","view_count":1200,"like_count":33}`)
		os.Exit(0)
	case "bare":
		fmt.Println(`{"id":"zzz"}`)
		os.Exit(0)
	case "playlist-lines":
		fmt.Println(`{"id":"v1","title":"Capitolo 1","playlist_id":"PL1","playlist_title":"Promessi Sposi","duration":600}`)
		fmt.Println(`{"id":"v2","channel":"Canale","playlist_id":"PL1","playlist_title":"Promessi Sposi"}`)
		os.Exit(0)
	case "playlist-object":
		fmt.Println(`{"id":"PL2","title":"Racconti","uploader":"Narratore","entries":[{"id":"a","title":"Uno"},{"id":"b","webpage_url":"https://www.youtube.com/watch?v=b"}]}`)
		os.Exit(0)
	case "garbage":
		fmt.Println("not-json")
		os.Exit(0)
	case "failure":
		fmt.Fprintln(os.Stderr, "ERROR: video unavailable")
		os.Exit(1)
	default:
		os.Exit(0)
	}
}

func videoRequest() Request {
	return Request{URL: "https://www.youtube.com/watch?v=abc123", ContentType: "audiobook", Language: "it"}
}

func TestImportVideoMapsMetadata(t *testing.T) {
	captured := setHelperCommand(t, "video")
	imported, err := newTestCLI().ImportVideo(context.Background(), videoRequest())
	if err != nil {
		t.Fatalf("ImportVideo() error = %v", err)
	}

	wantArgs := []string{"https://www.youtube.com/watch?v=abc123", "--dump-json", "--no-download", "--no-warnings", "--ignore-errors"}
	if !slices.Equal(*captured, wantArgs) {
		t.Fatalf("args = %v, want %v", *captured, wantArgs)
	}

	item := imported.Item
	checks := map[catalog.Field]any{
		catalog.FieldTitle:             "Il barone rampante",
		catalog.FieldRealAuthor:        "Letture",
		catalog.FieldRealGenre:         "Audiolibro",
		catalog.FieldRealSynopsis:      "Romanzo di Calvino",
		catalog.FieldRealDuration:      json.Number("91"),
		catalog.FieldRealPublishedYear: json.Number("2019"),
		catalog.FieldYouTubeID:         "abc123",
		catalog.FieldViewCount:         json.Number("1200"),
		catalog.FieldProcessed:         false,
		catalog.FieldImportedAt:        "2026-04-02T08:00:00.000Z",
	}
	for field, want := range checks {
		if got := item.Value(field); !catalog.Equal(got, want) {
			t.Errorf("%s = %#v, want %#v", field, got, want)
		}
	}
	if imported.ID != "id-1" {
		t.Fatalf("id = %q", imported.ID)
	}
}

func TestImportVideoDefaults(t *testing.T) {
	setHelperCommand(t, "bare")
	req := videoRequest()
	req.ContentType = "podcast"
	imported, err := newTestCLI().ImportVideo(context.Background(), req)
	if err != nil {
		t.Fatalf("ImportVideo() error = %v", err)
	}
	item := imported.Item
	if item.Text(catalog.FieldTitle) != "Unknown Title" || item.Text(catalog.FieldRealAuthor) != "Unknown Author" {
		t.Fatalf("item = %v", item)
	}
	if item.Text(catalog.FieldRealGenre) != "Podcast" || item.Text(catalog.FieldRealSynopsis) != "Importato da YouTube" {
		t.Fatalf("item = %v", item)
	}
	if v, ok := item.Get(catalog.FieldRealDuration); !ok || v != nil {
		t.Fatalf("real_duration = %#v, present %v; want explicit null", v, ok)
	}
	if item.Text(catalog.FieldRealPublishedYear) != "2026" {
		t.Fatalf("year = %q", item.Text(catalog.FieldRealPublishedYear))
	}
	if _, ok := item.Get(catalog.FieldViewCount); ok {
		t.Fatal("view_count should be absent when yt-dlp omits it")
	}
}

func TestImportPlaylistFromLines(t *testing.T) {
	captured := setHelperCommand(t, "playlist-lines")
	req := videoRequest()
	req.ContentType = "series"
	req.CreateSeries = true
	req.Genre = "Classici"

	playlist, err := newTestCLI().ImportPlaylist(context.Background(), req)
	if err != nil {
		t.Fatalf("ImportPlaylist() error = %v", err)
	}
	if (*captured)[len(*captured)-1] != "--flat-playlist" {
		t.Fatalf("args = %v", *captured)
	}
	if playlist.Title != "Promessi Sposi" || playlist.SeriesID != "id-1" || len(playlist.Items) != 2 {
		t.Fatalf("playlist = %+v", playlist)
	}

	first, second := playlist.Items[0].Item, playlist.Items[1].Item
	if first.Text(catalog.FieldTitle) != "Promessi Sposi - Parte 1: Capitolo 1" {
		t.Fatalf("first title = %q", first.Text(catalog.FieldTitle))
	}
	if second.Text(catalog.FieldTitle) != "Promessi Sposi - Parte 2" {
		t.Fatalf("second title = %q", second.Text(catalog.FieldTitle))
	}
	if second.Text(catalog.FieldRealSynopsis) != "Parte 2 di Promessi Sposi" || second.Text(catalog.FieldRealAuthor) != "Canale" {
		t.Fatalf("second = %v", second)
	}
	if second.Text(catalog.FieldYouTubeURL) != "https://www.youtube.com/watch?v=v2" {
		t.Fatalf("youtube_url = %q", second.Text(catalog.FieldYouTubeURL))
	}
	if first.Text(catalog.FieldPartNumber) != "1" || first.Text(catalog.FieldTotalParts) != "2" || first.Text(catalog.FieldPlaylistID) != "PL1" {
		t.Fatalf("first = %v", first)
	}
	if first.Text(catalog.FieldSeriesID) != "id-1" || first.Text(catalog.FieldRealGenre) != "Classici" {
		t.Fatalf("first = %v", first)
	}
}

func TestImportPlaylistFromObject(t *testing.T) {
	setHelperCommand(t, "playlist-object")
	playlist, err := newTestCLI().ImportPlaylist(context.Background(), videoRequest())
	if err != nil {
		t.Fatalf("ImportPlaylist() error = %v", err)
	}
	if playlist.Title != "Racconti" || playlist.SeriesID != "" || len(playlist.Items) != 2 {
		t.Fatalf("playlist = %+v", playlist)
	}
	second := playlist.Items[1].Item
	if second.Text(catalog.FieldTitle) != "Racconti - Part 2" || second.Text(catalog.FieldRealAuthor) != "Narratore" {
		t.Fatalf("second = %v", second)
	}
	if _, ok := second.Get(catalog.FieldSeriesID); ok {
		t.Fatal("series_id set without create_series")
	}
}

func TestImportErrors(t *testing.T) {
	tests := []struct {
		mode     string
		playlist bool
	}{
		{"garbage", false},
		{"failure", false},
		{"bare", true},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			setHelperCommand(t, tt.mode)
			var err error
			if tt.playlist {
				_, err = newTestCLI().ImportPlaylist(context.Background(), videoRequest())
			} else {
				_, err = newTestCLI().ImportVideo(context.Background(), videoRequest())
			}
			var importErr *catalog.ImportError
			if !errors.As(err, &importErr) {
				t.Fatalf("error = %v, want ImportError", err)
			}
		})
	}
}

func TestImportWithoutBinary(t *testing.T) {
	original := lookPath
	lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	t.Cleanup(func() { lookPath = original })

	cli := newTestCLI()
	if cli.Available() {
		t.Fatal("Available() = true without binary")
	}
	_, err := cli.ImportVideo(context.Background(), videoRequest())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("ImportVideo() error = %v, want ErrUnavailable", err)
	}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		req   Request
		field string
	}{
		{Request{ContentType: "audiobook", Language: "it"}, "url"},
		{Request{URL: "u", Language: "it"}, "content_type"},
		{Request{URL: "u", ContentType: "audiobook"}, "language"},
	}
	for _, tt := range tests {
		err := tt.req.Validate()
		var validation *catalog.ValidationError
		if !errors.As(err, &validation) || validation.Field != tt.field {
			t.Errorf("Validate(%+v) = %v, want field %s", tt.req, err, tt.field)
		}
	}
	if err := videoRequest().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
