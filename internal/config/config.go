package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"wsync-go/internal/wsync"
)

// Config represents the main configuration for wsync.
type Config struct {
	Name       string                    `toml:"name"`
	BaseDir    string                    `toml:"base_dir"`
	LogDir     string                    `toml:"log_dir"`
	LogLevel   string                    `toml:"log_level,omitempty"` // debug, info, warn or error
	Workspace  WorkspaceConfig           `toml:"workspace"`
	VCS        VCSConfig                 `toml:"vcs"`
	Archive    ArchiveConfig             `toml:"archive"`
	Encryption EncryptionConfig          `toml:"encryption"`
	Database   DatabaseConfig            `toml:"database"`
	Catalog    CatalogConfig             `toml:"catalog"`
	Schedule   ScheduleConfig            `toml:"schedule"`
	Telemetry  TelemetryConfig           `toml:"telemetry"`
	BuildSteps []wsync.BuildStepOverride `toml:"build_steps"`
}

// WorkspaceConfig identifies the workspace and the project built in it.
type WorkspaceConfig struct {
	Server    string `toml:"server"`
	DepotPath string `toml:"depot_path"` // e.g. //depot/Game
	LocalRoot string `toml:"local_root"`

	// ProjectFile is relative to LocalRoot, e.g. Game/Game.uproject.
	ProjectFile string `toml:"project_file"`
	// StepsFile is a JSONC file of default build steps, relative to LocalRoot.
	// When empty the built-in editor steps are used.
	StepsFile string `toml:"steps_file,omitempty"`
	// EditorTarget defaults to the project name plus "Editor".
	EditorTarget string `toml:"editor_target,omitempty"`
	EditorConfig string `toml:"editor_config,omitempty"` // Debug, DebugGame or Development

	SyncFilter     []string          `toml:"sync_filter,omitempty"`
	SyncFilterFile string            `toml:"sync_filter_file,omitempty"`
	// CleanIgnore lists untracked paths clean never offers for deletion.
	CleanIgnore    []string          `toml:"clean_ignore,omitempty"`
	ReceiptPaths   []string          `toml:"receipt_paths,omitempty"`
	Variables      map[string]string `toml:"variables,omitempty"`
	Archives       []ArchiveRequest  `toml:"archives,omitempty"`

	CompileTool      string `toml:"compile_tool,omitempty"`
	CookTool         string `toml:"cook_tool,omitempty"`
	ProjectFilesTool string `toml:"project_files_tool,omitempty"`
	ProjectFilesArgs string `toml:"project_files_args,omitempty"`
}

// ArchiveRequest names an archive type to install with each sync.
type ArchiveRequest struct {
	Type      string `toml:"type"`
	DepotPath string `toml:"depot_path,omitempty"`
	Required  bool   `toml:"required"`
}

// VCSConfig represents configuration for the version control client.
type VCSConfig struct {
	Type   string `toml:"type"`             // "perforce"
	P4Path string `toml:"p4_path,omitempty"` // defaults to "p4" on PATH
	Port   string `toml:"port,omitempty"`
	User   string `toml:"user,omitempty"`
	Client string `toml:"client,omitempty"`
}

// ArchiveConfig represents configuration for the precompiled binary archive store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ArchiveConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// InstallDir is where archives are unpacked, relative to LocalRoot when not absolute.
	InstallDir string `toml:"install_dir,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`
	// S3Endpoint targets an S3-compatible server such as MinIO.
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// EncryptionConfig holds the age key pair used for archives. Type is "age"
// or "none"; with "none" published archives are stored in the clear.
type EncryptionConfig struct {
	Type           string `toml:"type"`
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// DatabaseConfig represents configuration for the sync state database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// CatalogConfig controls change polling.
type CatalogConfig struct {
	MaxChanges   int    `toml:"max_changes"`
	PollInterval string `toml:"poll_interval"` // Go duration, e.g. "1m"
}

// ScheduleConfig configures the daily scheduled sync.
type ScheduleConfig struct {
	Enabled        bool   `toml:"enabled"`
	Time           string `toml:"time"`   // HH:MM local time
	Change         string `toml:"change"` // "any" or "good"
	RequireArchive bool   `toml:"require_archive"`
	ExtraOptions   string `toml:"extra_options,omitempty"` // e.g. "RunAfterSync|UseIncrementalBuilds"
}

// TelemetryConfig enables trace export.
type TelemetryConfig struct {
	Enabled   bool   `toml:"enabled"`
	TracePath string `toml:"trace_path,omitempty"`
}

// Environment variables that relocate the config file and the data directory.
const (
	EnvConfigPath = "WSYNC_CONFIG_PATH"
	EnvHome       = "WSYNC_HOME"
)

// Locations is where wsync keeps its config file and its data.
type Locations struct {
	ConfigPath string
	BaseDir    string
}

// DefaultLocations reads EnvConfigPath and EnvHome, falling back to
// ~/.config/wsync.toml and ~/.local/share/wsync.
func DefaultLocations() (Locations, error) {
	loc := Locations{
		ConfigPath: os.Getenv(EnvConfigPath),
		BaseDir:    os.Getenv(EnvHome),
	}
	if loc.ConfigPath != "" && loc.BaseDir != "" {
		return loc, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Locations{}, fmt.Errorf("determining home directory: %w", err)
	}
	if loc.ConfigPath == "" {
		loc.ConfigPath = filepath.Join(home, ".config", "wsync.toml")
	}
	if loc.BaseDir == "" {
		loc.BaseDir = filepath.Join(home, ".local", "share", "wsync")
	}
	return loc, nil
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(name, baseDir string) *Config {
	return &Config{
		Name:    name,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		VCS:     VCSConfig{Type: "perforce"},
		Archive: ArchiveConfig{
			Type:   "filesystem",
			Name:   "local",
			FSRoot: filepath.Join(baseDir, "archives"),
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "wsync.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "wsync.key"),
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Catalog:  CatalogConfig{MaxChanges: wsync.DefaultMaxChanges, PollInterval: "1m"},
		Schedule: ScheduleConfig{Time: "06:00", Change: "good"},
	}
}

// WorkspaceID returns the persistence key of the configured workspace.
func (c *Config) WorkspaceID() wsync.WorkspaceID {
	return wsync.WorkspaceID{
		Server:    c.Workspace.Server,
		DepotPath: c.Workspace.DepotPath,
		LocalRoot: c.Workspace.LocalRoot,
	}
}

// PollInterval parses Catalog.PollInterval, defaulting to one minute.
func (c *Config) PollInterval() (time.Duration, error) {
	if c.Catalog.PollInterval == "" {
		return time.Minute, nil
	}
	d, err := time.ParseDuration(c.Catalog.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid catalog.poll_interval %q: %w", c.Catalog.PollInterval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("catalog.poll_interval must be positive, got %s", d)
	}
	return d, nil
}

// RequiredArchiveTypes lists the required archive types that are looked up
// in the change catalog rather than pinned to a depot path.
func (c *Config) RequiredArchiveTypes() []string {
	var types []string
	for _, req := range c.Workspace.Archives {
		if req.Required && req.DepotPath == "" {
			types = append(types, req.Type)
		}
	}
	return types
}

// ScheduleSettings converts the schedule section into engine settings.
func (c *Config) ScheduleSettings() (wsync.ScheduleSettings, error) {
	var s wsync.ScheduleSettings
	s.Enabled = c.Schedule.Enabled
	if c.Schedule.RequireArchive {
		s.RequiredArchives = c.RequiredArchiveTypes()
		if len(s.RequiredArchives) == 0 {
			s.RequiredArchives = []string{wsync.EditorArchiveType}
		}
	}

	tod, err := parseTimeOfDay(c.Schedule.Time)
	if err != nil {
		return s, err
	}
	s.TimeOfDay = tod

	change := c.Schedule.Change
	if change == "" {
		change = "good"
	}
	if s.Change, err = wsync.ParseLatestChangeType(change); err != nil {
		return s, fmt.Errorf("invalid schedule.change: %w", err)
	}
	if s.ExtraOptions, err = wsync.ParseOptions(c.Schedule.ExtraOptions); err != nil {
		return s, fmt.Errorf("invalid schedule.extra_options: %w", err)
	}
	return s, nil
}

func parseTimeOfDay(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid schedule.time %q (want HH:MM): %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Save replaces the config file at path.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	m := &Manager{}
	if err := m.Write(&buf, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if err := atomicWriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := Save(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
