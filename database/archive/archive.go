// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package archive stores raw upstream documents as received, keyed by
// (area, data type, document id). Archived payloads allow replaying
// past ingestion without re-fetching from the upstream API.
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/blinklabs-io/gridsync/market"
	badger "github.com/dgraph-io/badger/v4"
)

// Store is a badger-backed raw document archive. Uses an in-memory
// database when dataDir is empty.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// ErrNotFound is returned when a document is not in the archive.
var ErrNotFound = errors.New("document not found in archive")

// New creates a raw document archive.
func New(dataDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	logger = logger.With("component", "archive")
	var db *badger.DB
	var err error
	if dataDir == "" {
		badgerOpts := badger.DefaultOptions("").
			WithLogger(newBadgerLogger(logger)).
			// The default INFO logging is a bit verbose
			WithLoggingLevel(badger.WARNING).
			WithInMemory(true)
		db, err = badger.Open(badgerOpts)
		if err != nil {
			return nil, err
		}
	} else {
		if _, err := os.Stat(dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		archiveDir := filepath.Join(dataDir, "archive")
		badgerOpts := badger.DefaultOptions(archiveDir).
			WithLogger(newBadgerLogger(logger)).
			WithLoggingLevel(badger.WARNING)
		db, err = badger.Open(badgerOpts)
		if err != nil {
			return nil, err
		}
	}
	return &Store{
		db:     db,
		logger: logger,
	}, nil
}

func archiveKey(
	area market.Area,
	dataType market.DataType,
	documentID string,
) []byte {
	return fmt.Appendf(nil, "doc/%s/%s/%s", area, dataType, documentID)
}

// Put archives a raw document payload. Re-archiving the same document
// id overwrites the previous payload.
func (s *Store) Put(
	area market.Area,
	dataType market.DataType,
	documentID string,
	payload []byte,
) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(archiveKey(area, dataType, documentID), payload)
	})
	if err != nil {
		return fmt.Errorf("archive document %s: %w", documentID, err)
	}
	return nil
}

// Get retrieves an archived document payload.
func (s *Store) Get(
	area market.Area,
	dataType market.DataType,
	documentID string,
) ([]byte, error) {
	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(archiveKey(area, dataType, documentID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("read archived document %s: %w", documentID, err)
	}
	return payload, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger adapts slog to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func newBadgerLogger(logger *slog.Logger) *badgerLogger {
	return &badgerLogger{logger: logger}
}

func (b *badgerLogger) Errorf(format string, args ...any) {
	b.logger.Error(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Warningf(format string, args ...any) {
	b.logger.Warn(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Infof(format string, args ...any) {
	b.logger.Info(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Debugf(format string, args ...any) {
	b.logger.Debug(fmt.Sprintf(format, args...))
}
