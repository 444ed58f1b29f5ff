package cart

import (
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/cespare/xxhash"
)

// LoadFile reads a ROM image from disk. Zip, 7z and gzip archives are
// unpacked transparently; inside an archive the first *.gb/*.gbc entry wins,
// falling back to the first file.
func LoadFile(path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return loadZip(path)
	case ".7z":
		return load7z(path)
	case ".gz":
		return loadGzip(path)
	default:
		return os.ReadFile(path)
	}
}

func loadZip(path string) ([]byte, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var pick *zip.File
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if pick == nil || isROMName(f.Name) && !isROMName(pick.Name) {
			pick = f
		}
	}
	if pick == nil {
		return nil, fmt.Errorf("no files in archive %s", path)
	}
	rc, err := pick.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func load7z(path string) ([]byte, error) {
	r, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var pick *sevenzip.File
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if pick == nil || isROMName(f.Name) && !isROMName(pick.Name) {
			pick = f
		}
	}
	if pick == nil {
		return nil, fmt.Errorf("no files in archive %s", path)
	}
	rc, err := pick.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func loadGzip(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func isROMName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".gb", ".gbc", ".bin":
		return true
	}
	return false
}

// ROMID is a stable fingerprint of a ROM image, used to match save states
// and battery files to the cartridge they came from.
func ROMID(rom []byte) uint64 { return xxhash.Sum64(rom) }
