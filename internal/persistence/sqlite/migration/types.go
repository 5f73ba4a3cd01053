package migration

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embedded embed.FS

// Migration represents a database migration with its metadata and SQL content
type Migration struct {
	Version     string // Version identifier (e.g., "001", "002")
	Description string // Human-readable description of the migration
	SQL         string // SQL statements to execute
	FilePath    string // Path to the migration file inside the source FS
	Checksum    string // SHA-256 of the SQL content
}

// AppliedMigration represents a migration that has been successfully applied
type AppliedMigration struct {
	Version       string
	AppliedAt     time.Time
	ExecutionTime time.Duration
	Checksum      string
}

// Embedded returns the migrations compiled into the binary, ordered by version.
func Embedded() ([]Migration, error) {
	return Load(embedded, "sql")
}

// Load reads every "{version}_{description}.sql" file in dir of fsys.
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, newError("", dir, "read directory", err)
	}

	migrations := make([]Migration, 0, len(entries))
	seen := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		filePath := path.Join(dir, entry.Name())
		version, description, err := parseFileName(entry.Name())
		if err != nil {
			return nil, newError("", filePath, "parse file name", err)
		}
		if previous, ok := seen[version]; ok {
			return nil, newError(version, filePath, "load", fmt.Errorf("%w: also defined by %s", ErrDuplicateVersion, previous))
		}
		seen[version] = filePath

		content, err := fs.ReadFile(fsys, filePath)
		if err != nil {
			return nil, newError(version, filePath, "read file", err)
		}
		sum := sha256.Sum256(content)

		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			SQL:         string(content),
			FilePath:    filePath,
			Checksum:    hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func parseFileName(name string) (version, description string, err error) {
	base := strings.TrimSuffix(name, ".sql")
	version, description, found := strings.Cut(base, "_")
	if !found || version == "" || description == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidMigrationFile, name)
	}
	for _, r := range version {
		if r < '0' || r > '9' {
			return "", "", fmt.Errorf("%w: %s", ErrInvalidVersion, name)
		}
	}
	return version, strings.ReplaceAll(description, "_", " "), nil
}
