// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed postgres/*.sql sqlite/*.sql
var embeddedFiles embed.FS

// Dialect selects the migration directory for a database engine.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

type File struct {
	Name     string
	SQL      string
	Checksum string // hex sha256 of SQL
}

// Ordered returns the dialect's migrations sorted by file name.
func Ordered(dialect Dialect) ([]File, error) {
	switch dialect {
	case Postgres, SQLite:
	default:
		return nil, fmt.Errorf("unknown migration dialect %q", dialect)
	}

	dir := string(dialect)
	entries, err := fs.ReadDir(embeddedFiles, dir)
	if err != nil {
		return nil, err
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		body, err := embeddedFiles.ReadFile(path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		sum := sha256.Sum256(body)
		files = append(files, File{
			Name:     entry.Name(),
			SQL:      string(body),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})

	return files, nil
}

// Pending returns the files not yet in applied, which maps recorded file
// names to their checksums. A recorded file whose checksum no longer matches
// the embedded one is an error; an empty recorded checksum predates checksum
// tracking and is accepted.
func Pending(files []File, applied map[string]string) ([]File, error) {
	pending := make([]File, 0, len(files))
	for _, f := range files {
		sum, ok := applied[f.Name]
		if !ok {
			pending = append(pending, f)
			continue
		}
		if sum != "" && sum != f.Checksum {
			return nil, fmt.Errorf("migration %s was modified after it was applied", f.Name)
		}
	}
	return pending, nil
}
