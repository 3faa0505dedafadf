package dotenv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// DefaultSearchDepth is how many parent directories Find climbs.
const DefaultSearchDepth = 4

// LoadFile loads KEY=VALUE pairs from a dotenv-style file into the process
// environment. Existing environment variables are preserved.
func LoadFile(path string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read env file %q: %w", path, err)
	}
	for key, val := range values {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("set env %q from %q: %w", key, path, err)
		}
	}
	return nil
}

// Find returns the nearest .env in dir or up to depth of its ancestors, or ""
// when there is none.
func Find(dir string, depth int) string {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for i := 0; i <= depth; i++ {
		candidate := filepath.Join(dir, ".env")
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// Load finds the nearest .env from the working directory and loads it. It
// returns the path it loaded, if any.
func Load() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("working directory: %w", err)
	}
	path := Find(wd, DefaultSearchDepth)
	if path == "" {
		return "", nil
	}
	return path, LoadFile(path)
}
