package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/artcurate/artcurate/internal/uid"
)

// LocalBackend implements the BlobStore interface using the local
// filesystem. Blobs are stored as files under <root>/<tag>/. The file name
// is a random prefix followed by the caller's filename, so directory listings
// stay readable.
type LocalBackend struct {
	// RootDir is the base directory under which all blob data is stored.
	RootDir string
}

// NewLocalBackend creates a new LocalBackend rooted at the given directory.
// It creates the root, per-tag and temp directories if they do not exist.
func NewLocalBackend(rootDir string) (*LocalBackend, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root directory %q: %w", rootDir, err)
	}
	for _, dir := range []string{".tmp", string(TagOriginal), string(TagTransformed)} {
		p := filepath.Join(rootDir, dir)
		if err := os.MkdirAll(p, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %q: %w", p, err)
		}
	}
	return &LocalBackend{RootDir: rootDir}, nil
}

// CleanTempFiles removes all files in the .tmp directory. This is called on
// startup as part of crash-only recovery. Any temp files left behind indicate
// incomplete writes from a previous crash.
func (b *LocalBackend) CleanTempFiles() error {
	tmpDir := filepath.Join(b.RootDir, ".tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading temp directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(tmpDir, entry.Name()))
		}
	}
	return nil
}

// blobPath returns the full filesystem path for a blob ID.
func (b *LocalBackend) blobPath(id string) (string, error) {
	tag, name, err := splitBlobID(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.RootDir, string(tag), name), nil
}

// tempPath returns a unique temporary file path in the .tmp directory.
func (b *LocalBackend) tempPath() string {
	return filepath.Join(b.RootDir, ".tmp", "tmp-"+uid.New())
}

// sanitizeFilename reduces a caller-supplied filename to a single safe path
// element.
func sanitizeFilename(filename string) string {
	name := filepath.Base(filepath.Clean("/" + filename))
	name = strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(name)
	if name == "." || name == "_" {
		return ""
	}
	return name
}

// localName builds the on-disk name "<random>-<filename>".
func localName(filename string) string {
	name := newBlobName()
	if f := sanitizeFilename(filename); f != "" {
		name += "-" + f
	}
	return name
}

// Put writes blob data to a file on the local filesystem using the
// crash-only atomic write pattern: write to temp file, fsync, rename.
func (b *LocalBackend) Put(ctx context.Context, data []byte, tag Tag, filename string) (string, error) {
	if err := checkTag(tag); err != nil {
		return "", err
	}

	id := blobID(tag, localName(filename))
	finalPath, err := b.blobPath(id)
	if err != nil {
		return "", err
	}

	tmpPath := b.tempPath()
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing blob data: %w", err)
	}

	// Fsync before rename to guarantee durability.
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("syncing temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming temp file to final path: %w", err)
	}

	return id, nil
}

// Get reads the blob file.
func (b *LocalBackend) Get(ctx context.Context, id string) ([]byte, error) {
	path, err := b.blobPath(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", notFound(id), err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("reading blob file %q: %w", id, err)
	}
	return data, nil
}

// Delete removes the blob file from the local filesystem.
// Idempotent: deleting a non-existent file is not an error.
func (b *LocalBackend) Delete(ctx context.Context, id string) error {
	path, err := b.blobPath(id)
	if err != nil {
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing blob file %q: %w", id, err)
	}
	return nil
}

// List returns every file under the tag directory, sorted by ID.
func (b *LocalBackend) List(ctx context.Context, tag Tag) ([]BlobInfo, error) {
	if err := checkTag(tag); err != nil {
		return nil, err
	}

	dir := filepath.Join(b.RootDir, string(tag))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s directory: %w", tag, err)
	}

	var out []BlobInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		_, filename, _ := strings.Cut(entry.Name(), "-")
		out = append(out, BlobInfo{
			ID:       blobID(tag, entry.Name()),
			Tag:      tag,
			Filename: filename,
			Size:     info.Size(),
			Created:  info.ModTime().UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// HealthCheck verifies that the local storage root directory is accessible.
func (b *LocalBackend) HealthCheck(ctx context.Context) error {
	_, err := os.Stat(b.RootDir)
	return err
}

// Close is a no-op for the filesystem backend.
func (b *LocalBackend) Close() error {
	return nil
}

// Ensure LocalBackend implements BlobStore at compile time.
var _ BlobStore = (*LocalBackend)(nil)
