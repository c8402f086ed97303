package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// source resolves configuration keys from three layers, highest first: the
// override files (.env.{ENVIRONMENT}, then .env.local), the process
// environment, and the base .env file. Empty values count as unset.
//
// Files are read with godotenv.Read, so the process environment is never
// modified.
type source struct {
	base      map[string]string
	overrides map[string]string
}

// processEnv returns a source backed by the process environment alone.
func processEnv() *source {
	return &source{}
}

// readEnvFiles builds a source from the .env files in the working directory.
// Missing files are skipped.
func readEnvFiles() (*source, error) {
	base, err := readEnvFile(".env")
	if err != nil {
		return nil, err
	}
	src := &source{base: base, overrides: map[string]string{}}

	files := []string{".env.local"}
	if env := src.environmentName(); env != "" {
		files = append([]string{".env." + env}, files...)
	}

	for _, name := range files {
		vars, err := readEnvFile(name)
		if err != nil {
			return nil, err
		}
		maps.Copy(src.overrides, vars)
	}

	return src, nil
}

func readEnvFile(name string) (map[string]string, error) {
	vars, err := godotenv.Read(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", name, err)
	}
	return vars, nil
}

func (s *source) lookup(key string) string {
	if v := s.overrides[key]; v != "" {
		return v
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.base[key]
}

// environmentName is ENVIRONMENT, or ENV when that is unset.
func (s *source) environmentName() string {
	if env := s.lookup("ENVIRONMENT"); env != "" {
		return env
	}
	return s.lookup("ENV")
}

func (s *source) get(key, defaultValue string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return defaultValue
}

func (s *source) getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(s.lookup(key)); err == nil {
		return v
	}
	return defaultValue
}

func (s *source) getInt64(key string, defaultValue int64) int64 {
	if v, err := strconv.ParseInt(s.lookup(key), 10, 64); err == nil {
		return v
	}
	return defaultValue
}

func (s *source) getBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(s.lookup(key)); err == nil {
		return v
	}
	return defaultValue
}

func (s *source) getDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(s.lookup(key)); err == nil {
		return v
	}
	return defaultValue
}
