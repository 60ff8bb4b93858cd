package main

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Pattern to match migration files: 0001_name.sql
var filenamePattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// parseFilename returns the version and name encoded in a migration file name.
func parseFilename(filename string) (version int, name string, ok bool) {
	matches := filenamePattern.FindStringSubmatch(filename)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return version, matches[2], true
}

// checksum hashes the file content before placeholders are replaced, so
// the same migration applied to another project keeps its checksum.
func checksum(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}

// readMigrations reads all migration files from dir, sorted by version.
func readMigrations(dir string, replacements map[string]string, log zerolog.Logger) ([]Migration, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		// Try from parent directory (in case we're in cmd/migrate)
		alt := filepath.Join("..", "..", dir)
		if _, err := os.Stat(alt); os.IsNotExist(err) {
			return nil, fmt.Errorf("migrations directory not found: %s", dir)
		}
		dir = alt
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		version, name, ok := parseFilename(file.Name())
		if !ok {
			log.Warn().Str("file", file.Name()).Msg("Skipping file with invalid format")
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %04d: %s and %s", version, prev, file.Name())
		}
		seen[version] = file.Name()

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", file.Name(), err)
		}

		sql := string(content)
		for placeholder, value := range replacements {
			sql = strings.ReplaceAll(sql, placeholder, value)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: file.Name(),
			SQL:      sql,
			Checksum: checksum(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// pending returns the migrations not yet applied. An applied migration
// whose file has since changed is an error.
func pending(migrations []Migration, applied []AppliedMigration) ([]Migration, error) {
	done := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		done[am.Version] = am
	}

	var todo []Migration
	for _, m := range migrations {
		am, ok := done[m.Version]
		if !ok {
			todo = append(todo, m)
			continue
		}
		if am.Checksum != "" && am.Checksum != m.Checksum {
			return nil, fmt.Errorf("migration %04d_%s was modified after it was applied", m.Version, m.Name)
		}
	}
	return todo, nil
}
