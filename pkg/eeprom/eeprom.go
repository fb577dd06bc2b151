// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package eeprom persists the expander bus address.
//
// The record is CBOR encoded and guarded by a magic tag and a version so an
// uninitialised or foreign file reads as "no address stored".
package eeprom

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/Thermoquad/iox/pkg/exio"
)

// Record guard values
const (
	Magic   = "EXIO"
	Version = 1
)

// Record is the persisted layout.
type Record struct {
	Magic   string `cbor:"0,keyasint"`
	Version uint8  `cbor:"1,keyasint"`
	Address uint8  `cbor:"2,keyasint"`
}

// Valid reports whether the guard fields match.
func (r Record) Valid() bool {
	return r.Magic == Magic && r.Version == Version
}

// Store keeps one Record in a file.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open returns a store backed by path. The file is created on first write.
func Open(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Address returns the stored bus address. ok is false when nothing valid is
// stored.
func (s *Store) Address() (addr uint8, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "read address record")
	}

	var r Record
	if err := cbor.Unmarshal(data, &r); err != nil {
		// unreadable storage is the same as uninitialised storage
		return 0, false, nil
	}
	if !r.Valid() {
		return 0, false, nil
	}
	return r.Address, true, nil
}

// Write stores addr. Only 0x08 to 0x77 are accepted.
func (s *Store) Write(addr uint8) error {
	if addr < exio.MinAddress || addr > exio.MaxAddress {
		return errors.Errorf("address 0x%02X outside 0x%02X..0x%02X", addr, exio.MinAddress, exio.MaxAddress)
	}
	return s.save(Record{Magic: Magic, Version: Version, Address: addr})
}

// Erase zeroes the record.
func (s *Store) Erase() error {
	return s.save(Record{})
}

func (s *Store) save(r Record) error {
	data, err := cbor.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "encode address record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create record directory")
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write address record")
	}
	return errors.Wrap(os.Rename(tmp, s.path), "replace address record")
}
