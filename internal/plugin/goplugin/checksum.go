// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package goplugin

import (
	"bytes"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
)

// ChecksumPrefix is the algorithm tag of manifest checksums.
const ChecksumPrefix = "blake2b256:"

// ParseChecksum decodes a manifest checksum. An empty string yields nil.
func ParseChecksum(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	digest, ok := strings.CutPrefix(s, ChecksumPrefix)
	if !ok {
		return nil, oops.In("goplugin").With("checksum", s).Errorf("checksum must start with %s", ChecksumPrefix)
	}
	sum, err := hex.DecodeString(digest)
	if err != nil {
		return nil, oops.In("goplugin").With("checksum", s).Wrapf(err, "decode checksum")
	}
	return sum, nil
}

// FileChecksum returns the manifest-formatted BLAKE2b-256 checksum of a file.
func FileChecksum(path string) (string, error) {
	sum, err := digestFile(path)
	if err != nil {
		return "", err
	}
	return ChecksumPrefix + hex.EncodeToString(sum), nil
}

// VerifyChecksum compares a file's digest with want.
func VerifyChecksum(path string, want []byte) error {
	got, err := digestFile(path)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return oops.In("goplugin").
			With("path", path).
			With("want", hex.EncodeToString(want)).
			With("got", hex.EncodeToString(got)).
			Errorf("executable checksum mismatch")
	}
	return nil
}

func digestFile(path string) ([]byte, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, oops.In("goplugin").With("path", path).Wrap(err)
	}
	defer func() { _ = f.Close() }()

	h := newHash()
	if _, err := io.Copy(h, f); err != nil {
		return nil, oops.In("goplugin").With("path", path).Wrapf(err, "hash executable")
	}
	return h.Sum(nil), nil
}
