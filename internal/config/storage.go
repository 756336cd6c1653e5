package config

// ArtifactsConfig selects where diagnostic images are written.
type ArtifactsConfig struct {
	Kind  string      `yaml:"kind"` // none, dir, minio
	Dir   string      `yaml:"dir"`
	Minio MinioConfig `yaml:"minio"`
}

// MinioConfig configures an S3-compatible artifact bucket.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// HistoryConfig configures the sqlite run log.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}
