package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for every fd-pipeline binary. Each
// binary (capture, detect, recognize, persist, api) loads the same file
// and uses only the sections it needs.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Storage     StorageConfig     `yaml:"storage"`
	Vision      VisionConfig      `yaml:"vision"`
	Capture     CaptureConfig     `yaml:"capture"`
	Detection   DetectionConfig   `yaml:"detection"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

// MinIOConfig names the three OS buckets the pipeline writes to: raw
// captured frames, kept face crops from detection, and the recognized
// face crops recognition appends to an identity's gallery.
type MinIOConfig struct {
	Endpoint          string `yaml:"endpoint"`
	AccessKey         string `yaml:"access_key"`
	SecretKey         string `yaml:"secret_key"`
	UseSSL            bool   `yaml:"use_ssl"`
	FramesBucket      string `yaml:"frames_bucket"`
	DetectionsBucket  string `yaml:"detections_bucket"`
	RecognitionsBucket string `yaml:"recognitions_bucket"`
}

// StorageConfig holds the frame_retention setting for raw captured frames
// in the object store. It is loaded (and overridable via
// FD_STORAGE_FRAME_RETENTION), but no binary reads it and no frame cleanup
// runs.
type StorageConfig struct {
	FrameRetention int `yaml:"frame_retention"`
}

// VisionConfig locates the ONNX models shared by detect/recognize and
// bounds the thread usage of the detector and attribute sessions. The
// embedder session does not take these settings and uses ORT defaults.
type VisionConfig struct {
	ModelsDir      string `yaml:"models_dir"`
	IntraOpThreads int    `yaml:"intra_op_threads"`
	InterOpThreads int    `yaml:"inter_op_threads"`
}

// CaptureConfig mirrors spec.md's CW parameters: which source to read
// and how aggressively to throttle it.
type CaptureConfig struct {
	Source     string  `yaml:"source"` // camera index, file path, or network stream URL
	TagVideo   string  `yaml:"tag_video"`
	TargetFPS  float64 `yaml:"target_fps"`
	FrameSkip  int     `yaml:"frame_skip"`
	FrameWidth int     `yaml:"frame_width"`
	// Duration is the optional known/expected length of the source in
	// seconds (spec.md §4.1). Zero means unbounded (a live stream or
	// camera), and is carried through to every downstream message as-is.
	Duration float64 `yaml:"duration"`
}

// DetectionConfig mirrors spec.md's DW filter parameters.
type DetectionConfig struct {
	MinConfidence float64 `yaml:"min_confidence"`
	MinFaceWidth  int     `yaml:"min_face_width"`
	MinFaceHeight int     `yaml:"min_face_height"`
}

// RecognitionConfig mirrors spec.md's RW identity-resolution parameters.
type RecognitionConfig struct {
	ModelName       string  `yaml:"model_name"`
	CosineThreshold float64 `yaml:"cosine_threshold"`
	VoteRatio       float64 `yaml:"vote_ratio"`
	EmbedPoolSize   int     `yaml:"embed_pool_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.FramesBucket == "" {
		cfg.MinIO.FramesBucket = "frames"
	}
	if cfg.MinIO.DetectionsBucket == "" {
		cfg.MinIO.DetectionsBucket = "detections"
	}
	if cfg.MinIO.RecognitionsBucket == "" {
		cfg.MinIO.RecognitionsBucket = "recognitions"
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "models"
	}
	if cfg.Capture.TagVideo == "" {
		cfg.Capture.TagVideo = "default"
	}
	if cfg.Capture.TargetFPS == 0 {
		cfg.Capture.TargetFPS = 5
	}
	if cfg.Capture.FrameSkip == 0 {
		cfg.Capture.FrameSkip = 1
	}
	if cfg.Capture.FrameWidth == 0 {
		cfg.Capture.FrameWidth = 640
	}
	if cfg.Detection.MinConfidence == 0 {
		cfg.Detection.MinConfidence = 0.5
	}
	if cfg.Detection.MinFaceWidth == 0 {
		cfg.Detection.MinFaceWidth = 60
	}
	if cfg.Detection.MinFaceHeight == 0 {
		cfg.Detection.MinFaceHeight = 60
	}
	if cfg.Recognition.ModelName == "" {
		cfg.Recognition.ModelName = "arcface-r50"
	}
	if cfg.Recognition.CosineThreshold == 0 {
		cfg.Recognition.CosineThreshold = 0.4
	}
	if cfg.Recognition.VoteRatio == 0 {
		cfg.Recognition.VoteRatio = 0.20
	}
	if cfg.Recognition.EmbedPoolSize == 0 {
		cfg.Recognition.EmbedPoolSize = 4
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FD_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FD_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FD_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FD_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FD_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FD_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FD_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FD_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FD_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FD_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FD_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FD_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FD_STORAGE_FRAME_RETENTION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Storage.FrameRetention = n
		}
	}
	if v := os.Getenv("FD_CAPTURE_SOURCE"); v != "" {
		cfg.Capture.Source = v
	}
	if v := os.Getenv("FD_TAG_VIDEO"); v != "" {
		cfg.Capture.TagVideo = v
	}
	if v := os.Getenv("FD_FRAME_SKIP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Capture.FrameSkip = n
		}
	}
	if v := os.Getenv("FD_TARGET_FPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Capture.TargetFPS = f
		}
	}
	if v := os.Getenv("FD_RECOGNITION_MODEL"); v != "" {
		cfg.Recognition.ModelName = v
	}
	if v := os.Getenv("FD_COSINE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Recognition.CosineThreshold = f
		}
	}
	if v := os.Getenv("FD_VOTE_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Recognition.VoteRatio = f
		}
	}
}
