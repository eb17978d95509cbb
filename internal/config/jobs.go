package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// JobFile is the YAML document accepted by --config
type JobFile struct {
	// Database overrides the connection flags when set
	Database *DatabaseConfig `yaml:"database,omitempty"`
	// Workers and BatchSize override the global settings when non-zero
	Workers   int `yaml:"workers,omitempty"`
	BatchSize int `yaml:"batch_size,omitempty"`
	// Tables lists the columns to rewrite, in order
	Tables []TableJob `yaml:"tables"`
}

// DatabaseConfig mirrors the --db-* flags
type DatabaseConfig struct {
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Name     string `yaml:"name,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Schema   string `yaml:"schema,omitempty"`
}

// TableJob describes one geometry column to convert
type TableJob struct {
	Schema string `yaml:"schema,omitempty"`
	Table  string `yaml:"table"`
	// Key must be unique and orderable; used for keyset pagination
	Key  string `yaml:"key,omitempty"`
	Geom string `yaml:"geom,omitempty"`
	// From may be empty to take the SRID stored in the column
	From  string `yaml:"from,omitempty"`
	To    string `yaml:"to"`
	Where string `yaml:"where,omitempty"`
}

// LoadJobFile loads and validates a job file
func LoadJobFile(path string) (*JobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseJobFile(data)
}

// ParseJobFile parses YAML job file content
func ParseJobFile(data []byte) (*JobFile, error) {
	var jf JobFile
	if err := yaml.Unmarshal(data, &jf); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	for i := range jf.Tables {
		if err := jf.Tables[i].normalize(); err != nil {
			return nil, fmt.Errorf("tables[%d]: %w", i, err)
		}
	}
	return &jf, nil
}

func (j *TableJob) normalize() error {
	j.Table = strings.TrimSpace(j.Table)
	if j.Table == "" {
		return fmt.Errorf("table is required")
	}
	if strings.TrimSpace(j.To) == "" {
		return fmt.Errorf("to is required for table %s", j.Table)
	}
	if j.Key == "" {
		j.Key = "id"
	}
	if j.Geom == "" {
		j.Geom = "geom"
	}
	return nil
}

// Apply copies the file's global overrides onto cfg
func (jf *JobFile) Apply(cfg *Config) {
	if jf.Workers > 0 {
		cfg.Workers = jf.Workers
	}
	if jf.BatchSize > 0 {
		cfg.BatchSize = jf.BatchSize
	}
	db := jf.Database
	if db == nil {
		return
	}
	if db.Host != "" {
		cfg.DBHost = db.Host
	}
	if db.Port != 0 {
		cfg.DBPort = db.Port
	}
	if db.Name != "" {
		cfg.DBName = db.Name
	}
	if db.User != "" {
		cfg.DBUser = db.User
	}
	if db.Password != "" {
		cfg.DBPassword = db.Password
	}
	if db.Schema != "" {
		cfg.DBSchema = db.Schema
	}
}
