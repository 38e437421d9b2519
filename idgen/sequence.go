// MIT License
//
// Copyright (c) 2020 codingfinest
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package idgen

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

const defaultBandwidth = 100

//Sequence hands out increasing int64 identities leased in blocks from a badger sequence,
//so identities stay unique across restarts.
type Sequence struct {
	mu       sync.Mutex
	db       *badger.DB
	sequence *badger.Sequence
	ownsDB   bool
}

//NewSequence leases identities under key in db, bandwidth at a time.
func NewSequence(db *badger.DB, key string, bandwidth uint64) (*Sequence, error) {
	if key == "" {
		return nil, errors.New("sequence key is required")
	}
	if bandwidth == 0 {
		bandwidth = defaultBandwidth
	}
	sequence, err := db.GetSequence([]byte(key), bandwidth)
	if err != nil {
		return nil, fmt.Errorf("failed to lease sequence %s: %w", key, err)
	}
	return &Sequence{db: db, sequence: sequence}, nil
}

//OpenSequence opens the badger database at path, in memory when path is empty, and leases key from it.
func OpenSequence(path string, key string, bandwidth uint64) (*Sequence, error) {
	badgerOpts := badger.DefaultOptions(path)
	if path == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	s, err := NewSequence(db, key, bandwidth)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

//NextID returns the next identity. Identities start at 1.
func (s *Sequence) NextID() (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.sequence.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to advance sequence: %w", err)
	}
	return int64(n + 1), nil
}

//Close returns the unused part of the lease and closes the database if OpenSequence opened it.
func (s *Sequence) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.sequence.Release()
	if s.ownsDB {
		if closeErr := s.db.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}
