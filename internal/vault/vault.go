// Package vault implements the content-addressed blob store (C1): every
// document is stored once under its SHA-256 hash, sharded into a two-level
// directory fan-out, with mirrored thumbnails and scratch space for
// in-flight uploads.
package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/lifearchivist/core/internal/archerr"
)

const hashChunkSize = 8 * 1024

// thumbnailExt is ".png": no pure-Go WEBP encoder exists in this stack, so
// thumbnails are written as PNG with the directory layout otherwise
// unchanged from the original WEBP contract.
const thumbnailExt = ".png"

const thumbnailSide = 256

// maxThumbnailSourceBytes skips thumbnailing for very large images rather
// than decoding them fully into memory.
const maxThumbnailSourceBytes = 50 * 1024 * 1024

// PutResult describes the outcome of Put.
type PutResult struct {
	Hash    string
	Path    string
	Size    int64
	Existed bool
}

// ClearResult summarizes a Clear call.
type ClearResult struct {
	FilesDeleted   int
	BytesReclaimed int64
	Orphans        int
	Errors         []string
}

// Stats aggregates counts/bytes per subtree.
type Stats struct {
	ContentFiles     int
	ContentBytes     int64
	ThumbnailFiles   int
	ThumbnailBytes   int64
	TempFiles        int
	TempBytes        int64
	ExportFiles      int
	ExportBytes      int64
}

// Vault is the content-addressed store rooted at a single directory.
type Vault struct {
	root string
}

// New creates a Vault rooted at root, creating the standard subtrees.
func New(root string) (*Vault, error) {
	v := &Vault{root: root}
	for _, dir := range []string{v.contentDir(), v.thumbnailDir(), v.tempDir(), v.exportsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, archerr.StorageError(archerr.CodeStorageVault, "create vault directory "+dir, err)
		}
	}
	return v, nil
}

func (v *Vault) contentDir() string   { return filepath.Join(v.root, "content") }
func (v *Vault) thumbnailDir() string { return filepath.Join(v.root, "thumbnails") }
func (v *Vault) tempDir() string      { return filepath.Join(v.root, "temp") }
func (v *Vault) exportsDir() string   { return filepath.Join(v.root, "exports") }

func shardPath(base, hash, ext string) string {
	return filepath.Join(base, hash[0:2], hash[2:4], hash[4:]+ext)
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	var size int64
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			size += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", 0, rerr
		}
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// Hash streams sourcePath through SHA-256 without storing it, for callers
// that need a dedup pre-check (e.g. the folder watcher) ahead of a Put that
// would otherwise move or copy the file.
func (v *Vault) Hash(sourcePath string) (string, error) {
	hash, _, err := hashFile(sourcePath)
	if err != nil {
		return "", archerr.StorageError(archerr.CodeStorageVault, "hash source file", err)
	}
	return hash, nil
}

// Put ingests sourcePath into the vault. If hash is empty it is computed by
// streaming the file through SHA-256. If content already exists at the
// target path, no copy is performed and Existed is true.
func (v *Vault) Put(sourcePath string, hash string) (*PutResult, error) {
	ext := strings.ToLower(filepath.Ext(sourcePath))

	if hash == "" {
		computed, _, err := hashFile(sourcePath)
		if err != nil {
			return nil, archerr.StorageError(archerr.CodeStorageVault, "hash source file", err)
		}
		hash = computed
	}

	target := shardPath(v.contentDir(), hash, ext)
	if info, err := os.Stat(target); err == nil {
		return &PutResult{Hash: hash, Path: target, Size: info.Size(), Existed: true}, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, archerr.StorageError(archerr.CodeStorageVault, "create content shard directory", err)
	}

	size, err := copyOrRename(sourcePath, target)
	if err != nil {
		return nil, archerr.StorageError(archerr.CodeStorageVault, "store content file", err)
	}

	if mime := mimeFromExt(ext); strings.HasPrefix(mime, "image/") {
		if tErr := v.generateThumbnail(target, hash); tErr != nil {
			// Thumbnail failures never fail ingestion; they are logged and skipped.
			slog.Warn("thumbnail generation skipped", slog.String("hash", hash), slog.String("error", tErr.Error()))
			_ = v.removePartialThumbnail(hash)
		}
	}

	return &PutResult{Hash: hash, Path: target, Size: size, Existed: false}, nil
}

// copyOrRename prefers an atomic rename when source and destination share a
// filesystem, falling back to a copy (e.g. across devices or when the
// caller wants to retain the source).
func copyOrRename(src, dst string) (int64, error) {
	if err := os.Rename(src, dst); err == nil {
		info, statErr := os.Stat(dst)
		if statErr != nil {
			return 0, statErr
		}
		return info.Size(), nil
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return n, nil
}

// Get returns the content path for hash/ext if it exists.
func (v *Vault) Get(hash, ext string) (string, bool) {
	path := shardPath(v.contentDir(), hash, normalizeExt(ext))
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// GetThumbnail returns the thumbnail path for hash if it exists.
func (v *Vault) GetThumbnail(hash string) (string, bool) {
	path := shardPath(v.thumbnailDir(), hash, thumbnailExt)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// Delete removes the content file (and thumbnail, if any) for hash/ext. The
// return value reflects whether the content file existed before deletion.
func (v *Vault) Delete(hash, ext string) bool {
	contentPath := shardPath(v.contentDir(), hash, normalizeExt(ext))
	_, statErr := os.Stat(contentPath)
	existed := statErr == nil

	if existed {
		_ = os.Remove(contentPath)
	}
	thumbPath := shardPath(v.thumbnailDir(), hash, thumbnailExt)
	_ = os.Remove(thumbPath)

	return existed
}

// Clear removes the given hashes (or everything, if hashes is empty) across
// content, thumbnails, temp and exports.
func (v *Vault) Clear(hashes []string) ClearResult {
	result := ClearResult{}

	if len(hashes) == 0 {
		for _, dir := range []string{v.contentDir(), v.thumbnailDir(), v.tempDir(), v.exportsDir()} {
			clearTreeInto(dir, &result)
		}
		return result
	}

	for _, hash := range hashes {
		matches, err := filepath.Glob(shardPath(v.contentDir(), hash, "*"))
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		for _, m := range matches {
			if info, statErr := os.Stat(m); statErr == nil {
				if rmErr := os.Remove(m); rmErr == nil {
					result.FilesDeleted++
					result.BytesReclaimed += info.Size()
				} else {
					result.Errors = append(result.Errors, rmErr.Error())
				}
			}
		}
		thumb := shardPath(v.thumbnailDir(), hash, thumbnailExt)
		if info, statErr := os.Stat(thumb); statErr == nil {
			if rmErr := os.Remove(thumb); rmErr == nil {
				result.FilesDeleted++
				result.BytesReclaimed += info.Size()
			}
		}
	}
	return result
}

func clearTreeInto(dir string, result *ClearResult) {
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		if rmErr := os.Remove(path); rmErr != nil {
			result.Errors = append(result.Errors, rmErr.Error())
			return nil
		}
		result.FilesDeleted++
		result.BytesReclaimed += info.Size()
		return nil
	})
}

// CleanupTemp removes temp files older than the given age.
func (v *Vault) CleanupTemp(maxAge time.Duration) (int, error) {
	removed := 0
	cutoff := time.Now().Add(-maxAge)

	err := filepath.Walk(v.tempDir(), func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return removed, archerr.StorageError(archerr.CodeStorageVault, "cleanup temp directory", err)
	}
	return removed, nil
}

// Stats aggregates file counts and sizes across every subtree.
func (v *Vault) Stats() Stats {
	var s Stats
	walkCount(v.contentDir(), &s.ContentFiles, &s.ContentBytes)
	walkCount(v.thumbnailDir(), &s.ThumbnailFiles, &s.ThumbnailBytes)
	walkCount(v.tempDir(), &s.TempFiles, &s.TempBytes)
	walkCount(v.exportsDir(), &s.ExportFiles, &s.ExportBytes)
	return s
}

func walkCount(dir string, count *int, bytes *int64) {
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		*count++
		*bytes += info.Size()
		return nil
	})
}

// TempPath returns a scratch path under temp/ for an in-flight upload,
// guarded by an advisory file lock to keep concurrent writers from
// colliding on the same session id.
func (v *Vault) TempPath(sessionID string) (string, *flock.Flock, error) {
	if err := os.MkdirAll(v.tempDir(), 0o755); err != nil {
		return "", nil, archerr.StorageError(archerr.CodeStorageVault, "create temp directory", err)
	}
	path := filepath.Join(v.tempDir(), sessionID+".upload")
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return "", nil, archerr.StorageError(archerr.CodeStorageVault, "acquire temp upload lock", err)
	}
	return path, lock, nil
}

func (v *Vault) removePartialThumbnail(hash string) error {
	return os.Remove(shardPath(v.thumbnailDir(), hash, thumbnailExt))
}

// generateThumbnail decodes the source image and writes a 256x256 PNG
// thumbnail, center-cropped after proportional scaling.
func (v *Vault) generateThumbnail(sourcePath, hash string) error {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return err
	}
	if info.Size() > maxThumbnailSourceBytes {
		return fmt.Errorf("source image too large for thumbnailing: %d bytes", info.Size())
	}

	f, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	src, _, err := image.Decode(f)
	if err != nil {
		return err
	}

	thumb := scaleToSquare(src, thumbnailSide)

	thumbPath := shardPath(v.thumbnailDir(), hash, thumbnailExt)
	if err := os.MkdirAll(filepath.Dir(thumbPath), 0o755); err != nil {
		return err
	}
	tmpPath := thumbPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if err := png.Encode(out, thumb); err != nil {
		_ = out.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, thumbPath)
}

// scaleToSquare resizes src so its shorter side is `side`, then center-crops
// to side x side, approximating the LANCZOS-resample + crop contract with a
// nearest-neighbor resample (adequate for thumbnail-scale fidelity).
func scaleToSquare(src image.Image, side int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return image.NewRGBA(image.Rect(0, 0, side, side))
	}

	var scaledW, scaledH int
	if w < h {
		scaledW = side
		scaledH = h * side / w
	} else {
		scaledH = side
		scaledW = w * side / h
	}

	scaled := image.NewRGBA(image.Rect(0, 0, scaledW, scaledH))
	for y := 0; y < scaledH; y++ {
		srcY := y * h / scaledH
		for x := 0; x < scaledW; x++ {
			srcX := x * w / scaledW
			scaled.Set(x, y, src.At(bounds.Min.X+srcX, bounds.Min.Y+srcY))
		}
	}

	cropX := (scaledW - side) / 2
	cropY := (scaledH - side) / 2
	out := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(out, out.Bounds(), scaled, image.Pt(cropX, cropY), draw.Src)
	return out
}

func normalizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	if strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}

var extMimeTable = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tiff": "image/tiff",
}

func mimeFromExt(ext string) string {
	if mime, ok := extMimeTable[strings.ToLower(ext)]; ok {
		return mime
	}
	return "application/octet-stream"
}
