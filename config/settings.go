package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server    ServerSettings    `json:"server"`
	Transcode TranscodeSettings `json:"transcode"`
	HLS       HLSSettings       `json:"hls"`
	Library   LibrarySettings   `json:"library"`
	Players   PlayersSettings   `json:"players"`
	Security  SecuritySettings  `json:"security"`
	Log       LogConfig         `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// TranscodeSettings drives command construction and output estimation.
type TranscodeSettings struct {
	// Directory holding transcoder executables (ffmpeg, lame, ...).
	// Command templates whose executable does not resolve here, as an
	// absolute path, or on $PATH are treated as not runnable.
	Directory string `json:"directory"`

	// Command templates for synthesized rules. Placeholders documented
	// on services/transcode.Render.
	DownsampleCommand string `json:"downsampleCommand"`
	HLSCommand        string `json:"hlsCommand"`
	SplitCommand      string `json:"splitCommand"`

	// Output length estimation: estimated = (duration + TimePaddingSeconds)
	// * maxBitRate * 1000/8 + BytePadding.
	TimePaddingSeconds int   `json:"timePaddingSeconds"`
	BytePadding        int64 `json:"bytePadding"`
}

// HLSSettings controls the segmenting session manager.
type HLSSettings struct {
	TempDirectory          string `json:"tempDirectory"`
	SegmentDurationSeconds int    `json:"segmentDurationSeconds"`
	WaitTimeoutSeconds     int    `json:"waitTimeoutSeconds"`
	IdleTimeoutSeconds     int    `json:"idleTimeoutSeconds"`

	// DefaultVideoBitrates is the variant ladder used when a playlist
	// request names no explicit bitrate.
	DefaultVideoBitrates []int `json:"defaultVideoBitrates"`
}

type LibrarySettings struct {
	IndexPath      string `json:"indexPath"`
	MediaDirectory string `json:"mediaDirectory"`
}

type PlayersSettings struct {
	Directory string `json:"directory"`
}

// SecuritySettings configures signed segment/playlist URLs.
type SecuritySettings struct {
	SigningKey      string `json:"signingKey"`
	TokenTTLMinutes int    `json:"tokenTtlMinutes"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// DefaultSettings returns the configuration written on first start.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{
			Host: "0.0.0.0",
			Port: 4533,
		},
		Transcode: TranscodeSettings{
			Directory:          "transcode",
			DownsampleCommand:  "ffmpeg -i %s -map 0:0 -b:a %bk -v 0 -f %f -",
			HLSCommand:         "ffmpeg -ss %o -t %d -i %s -async 1 -b:v %vk -s %wx%h -ar 44100 -ac 2 -v 0 -c:v libx264 -preset superfast -c:a libmp3lame -threads 0 -f hls -hls_time 10 -hls_list_size 0 -hls_segment_filename %n %p",
			SplitCommand:       "ffmpeg -ss %o -t %d -i %s -c copy -v 0 -f %f -",
			TimePaddingSeconds: 2,
			BytePadding:        30000,
		},
		HLS: HLSSettings{
			TempDirectory:          filepath.Join(os.TempDir(), "airstream-hls"),
			SegmentDurationSeconds: 10,
			WaitTimeoutSeconds:     30,
			IdleTimeoutSeconds:     120,
			DefaultVideoBitrates:   []int{400, 800, 1200, 2200},
		},
		Library: LibrarySettings{
			IndexPath:      filepath.Join("cache", "library.json"),
			MediaDirectory: "media",
		},
		Players: PlayersSettings{
			Directory: "cache",
		},
		Security: SecuritySettings{
			SigningKey:      "",
			TokenTTLMinutes: 60,
		},
		Log: LogConfig{
			File:       "",
			Level:      "info",
			MaxSize:    50,
			MaxAge:     14,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// EnsureDir ensures parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads settings from disk or creates defaults if missing.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	s := DefaultSettings()
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return Settings{}, err
	}
	return normalize(s), nil
}

// normalize backfills values a hand-edited file may have zeroed out.
func normalize(s Settings) Settings {
	defaults := DefaultSettings()
	if s.Server.Port <= 0 {
		s.Server.Port = defaults.Server.Port
	}
	if s.HLS.SegmentDurationSeconds <= 0 {
		s.HLS.SegmentDurationSeconds = defaults.HLS.SegmentDurationSeconds
	}
	if s.HLS.WaitTimeoutSeconds <= 0 {
		s.HLS.WaitTimeoutSeconds = defaults.HLS.WaitTimeoutSeconds
	}
	if s.HLS.IdleTimeoutSeconds <= 0 {
		s.HLS.IdleTimeoutSeconds = defaults.HLS.IdleTimeoutSeconds
	}
	if s.HLS.TempDirectory == "" {
		s.HLS.TempDirectory = defaults.HLS.TempDirectory
	}
	if len(s.HLS.DefaultVideoBitrates) == 0 {
		s.HLS.DefaultVideoBitrates = defaults.HLS.DefaultVideoBitrates
	}
	if s.Security.TokenTTLMinutes <= 0 {
		s.Security.TokenTTLMinutes = defaults.Security.TokenTTLMinutes
	}
	return s
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}
