package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendGitHub = "github"
	BackendGit    = "git"
)

// Ways the github backend reads the catalog.
const (
	FetchRaw = "raw"
	FetchAPI = "api"
)

type Config struct {
	Addr          string
	RemoteURL     string
	Backend       string
	FetchVia      string
	GitHubToken   string
	RepoOwner     string
	RepoName      string
	BaseBranch    string
	FilePath      string
	ReposDir      string
	DatabaseURL   string
	MigrationsDir string
	RedisURL      string
	CORSOrigin    string
	// Meilisearch is optional; search falls back to the in-memory matcher.
	MeiliURL       string
	MeiliMasterKey string
	// MinIO export archive, disabled when MinioEndpoint is empty.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	YtDlpPath           string
	AutoSaveQuiet       time.Duration
	PollMinutes         int
	PageSize            int
	GitHubRatePerMinute int
}

// fileConfig is the optional YAML overlay. Secrets are env-only.
type fileConfig struct {
	Addr       string `yaml:"addr"`
	RemoteURL  string `yaml:"remote_url"`
	Backend    string `yaml:"backend"`
	FetchVia   string `yaml:"fetch_via"`
	CORSOrigin string `yaml:"cors_origin"`
	Repo       struct {
		Owner      string `yaml:"owner"`
		Name       string `yaml:"name"`
		BaseBranch string `yaml:"base_branch"`
		FilePath   string `yaml:"file_path"`
		Dir        string `yaml:"dir"`
	} `yaml:"repo"`
	Search struct {
		MeiliURL string `yaml:"meili_url"`
	} `yaml:"search"`
	Archive struct {
		Endpoint string `yaml:"endpoint"`
		Bucket   string `yaml:"bucket"`
		UseSSL   bool   `yaml:"use_ssl"`
	} `yaml:"archive"`
	Editor struct {
		AutoSaveQuiet time.Duration `yaml:"autosave_quiet"`
		PollMinutes   int           `yaml:"poll_minutes"`
		PageSize      int           `yaml:"page_size"`
	} `yaml:"editor"`
	YtDlpPath           string `yaml:"ytdlp_path"`
	GitHubRatePerMinute int    `yaml:"github_rate_per_minute"`
}

// Load reads .env (if present), then the YAML file named by
// CATALOG_CONFIG_FILE (if set), then the environment. Environment values win.
func Load() (Config, error) {
	_ = godotenv.Load()

	var file fileConfig
	if path := os.Getenv("CATALOG_CONFIG_FILE"); path != "" {
		loaded, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		file = loaded
	}

	quietMS := getenvInt("CATALOG_AUTOSAVE_QUIET_MS", 0)
	quiet := time.Duration(quietMS) * time.Millisecond
	if quietMS <= 0 {
		quiet = or(file.Editor.AutoSaveQuiet, 2*time.Second)
	}

	cfg := Config{
		Addr:           getenv("API_ADDR", or(file.Addr, ":8787")),
		RemoteURL:      getenv("CATALOG_REMOTE_URL", or(file.RemoteURL, "https://raw.githubusercontent.com/fabriziosalmi/audiolibri/refs/heads/main/augmented.json")),
		Backend:        getenv("CATALOG_BACKEND", or(file.Backend, BackendGitHub)),
		FetchVia:       getenv("CATALOG_FETCH_VIA", or(file.FetchVia, FetchRaw)),
		GitHubToken:    getenv("GITHUB_TOKEN", ""),
		RepoOwner:      getenv("REPO_OWNER", file.Repo.Owner),
		RepoName:       getenv("REPO_NAME", file.Repo.Name),
		BaseBranch:     getenv("CATALOG_BASE_BRANCH", or(file.Repo.BaseBranch, "main")),
		FilePath:       getenv("CATALOG_FILE_PATH", or(file.Repo.FilePath, "augmented.json")),
		ReposDir:       getenv("CATALOG_REPOS_DIR", or(file.Repo.Dir, "./data/repos")),
		DatabaseURL:    getenv("DATABASE_URL", "sqlite:./data/audiolibri.db"),
		MigrationsDir:  getenv("CATALOG_MIGRATIONS_DIR", "./db/migrations"),
		RedisURL:       getenv("REDIS_URL", ""),
		CORSOrigin:     getenv("CATALOG_CORS_ORIGIN", or(file.CORSOrigin, "*")),
		MeiliURL:       getenv("MEILI_URL", file.Search.MeiliURL),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		MinioEndpoint:  getenv("MINIO_ENDPOINT", file.Archive.Endpoint),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", or(file.Archive.Bucket, "audiolibri-exports")),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", file.Archive.UseSSL),

		YtDlpPath:           getenv("YTDLP_PATH", or(file.YtDlpPath, "yt-dlp")),
		AutoSaveQuiet:       quiet,
		PollMinutes:         getenvInt("CATALOG_POLL_MINUTES", or(file.Editor.PollMinutes, 5)),
		PageSize:            getenvInt("CATALOG_PAGE_SIZE", or(file.Editor.PageSize, 50)),
		GitHubRatePerMinute: getenvInt("GITHUB_RATE_PER_MINUTE", or(file.GitHubRatePerMinute, 30)),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendGitHub, BackendGit:
	default:
		return fmt.Errorf("config: CATALOG_BACKEND must be %q or %q, got %q", BackendGitHub, BackendGit, c.Backend)
	}
	switch c.FetchVia {
	case FetchRaw, FetchAPI:
	default:
		return fmt.Errorf("config: CATALOG_FETCH_VIA must be %q or %q, got %q", FetchRaw, FetchAPI, c.FetchVia)
	}
	if c.PageSize <= 0 {
		return errors.New("config: CATALOG_PAGE_SIZE must be positive")
	}
	return nil
}

// GitHubReady reports whether pull requests can be opened on GitHub.
func (c Config) GitHubReady() bool {
	return c.GitHubToken != "" && c.RepoOwner != "" && c.RepoName != ""
}

func readFile(path string) (fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("parse yaml: %w", err)
	}
	return fc, nil
}

func or[T comparable](value, fallback T) T {
	var zero T
	if value == zero {
		return fallback
	}
	return value
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
