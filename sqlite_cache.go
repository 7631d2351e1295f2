// Copyright 2019 Fabian Wenzelmann
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mosaic

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteAnalysisCache implements AnalysisCache with an sqlite database, one
// row per tile. It is useful if many tile directories share one cache.
type SQLiteAnalysisCache struct {
	db *sql.DB
}

const createSignaturesSQL = `
CREATE TABLE IF NOT EXISTS signatures (
	side INTEGER NOT NULL,
	crop INTEGER NOT NULL,
	position INTEGER NOT NULL,
	path TEXT NOT NULL,
	tile_size INTEGER NOT NULL,
	signature BLOB NOT NULL,
	date_taken TEXT,
	version TEXT NOT NULL,
	PRIMARY KEY(side, crop, path)
);
CREATE INDEX IF NOT EXISTS idx_signatures_position ON signatures(side, crop, position);`

// OpenSQLiteAnalysisCache opens (and if necessary creates) the database at
// path.
func OpenSQLiteAnalysisCache(path string) (*SQLiteAnalysisCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(createSignaturesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating signature table: %w", err)
	}
	return &SQLiteAnalysisCache{db: db}, nil
}

// Close closes the database.
func (c *SQLiteAnalysisCache) Close() error {
	return c.db.Close()
}

// Load implements AnalysisCache.
func (c *SQLiteAnalysisCache) Load(side GridSide, crop bool) (*AnalysisFile, error) {
	rows, err := c.db.Query(`SELECT path, tile_size, signature, date_taken FROM signatures
		WHERE side = ? AND crop = ? AND version = ? ORDER BY position`, int(side), crop, AnalysisVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := NewAnalysisFile(side, crop, 0, -1)
	for rows.Next() {
		var entry AnalysisEntry
		var date sql.NullString
		if err := rows.Scan(&entry.Path, &res.TileSize, &entry.Signature, &date); err != nil {
			return nil, err
		}
		entry.Date = date.String
		res.Entries = append(res.Entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(res.Entries) == 0 {
		return nil, ErrNoAnalysis
	}
	return res, nil
}

// Store implements AnalysisCache. All rows for the side and crop mode of a
// are replaced.
func (c *SQLiteAnalysisCache) Store(a *AnalysisFile) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM signatures WHERE side = ? AND crop = ?", int(a.Side), a.Crop); err != nil {
		tx.Rollback()
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO signatures
		(side, crop, position, path, tile_size, signature, date_taken, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("cannot prepare statement: %w", err)
	}
	defer stmt.Close()
	for i, entry := range a.Entries {
		if _, err := stmt.Exec(int(a.Side), a.Crop, i, entry.Path, a.TileSize,
			entry.Signature, entry.Date, AnalysisVersion); err != nil {
			tx.Rollback()
			return fmt.Errorf("cannot insert data for %s: %w", entry.Path, err)
		}
	}
	return tx.Commit()
}
