package backup

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ArchiveWriter writes a tar stream through the configured codec into a
// temporary file, promoting it to the final artifact path only on a clean
// Close. A crash mid-write leaves a ".partial" file that list operations
// never pick up.
type ArchiveWriter struct {
	path    string
	tmpPath string
	file    *os.File
	comp    io.WriteCloser
	tw      *tar.Writer
	enc     *EncryptionManager
	closed  bool
}

// NewArchiveWriter creates a writer for the artifact at path. The path must
// already carry the codec's extension (and EncryptedExtension when sealing).
func NewArchiveWriter(path string, compressor Compressor, enc *EncryptionManager) (*ArchiveWriter, error) {
	tmpPath := path + ".partial"
	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, NewStorageError("failed to create archive file", err).WithContext("path", tmpPath)
	}

	comp, err := compressor.WrapWriter(file)
	if err != nil {
		file.Close()
		os.Remove(tmpPath)
		return nil, err
	}

	return &ArchiveWriter{
		path:    path,
		tmpPath: tmpPath,
		file:    file,
		comp:    comp,
		tw:      tar.NewWriter(comp),
		enc:     enc,
	}, nil
}

// AddFile streams the file at diskPath into the archive under name
func (w *ArchiveWriter) AddFile(diskPath, name string) error {
	info, err := os.Stat(diskPath)
	if err != nil {
		return NewStorageError("failed to stat file", err).WithContext("path", diskPath)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return NewStorageError("failed to build tar header", err).WithContext("path", diskPath)
	}
	header.Name = filepath.ToSlash(name)

	if err := w.tw.WriteHeader(header); err != nil {
		return NewStorageError("failed to write tar header", err).WithContext("path", diskPath)
	}

	file, err := os.Open(diskPath)
	if err != nil {
		return NewStorageError("failed to open file for archiving", err).WithContext("path", diskPath)
	}
	defer file.Close()

	if _, err := io.Copy(w.tw, file); err != nil {
		return NewStorageError("failed to copy file into archive", err).WithContext("path", diskPath)
	}

	return nil
}

// AddBytes writes an in-memory entry into the archive
func (w *ArchiveWriter) AddBytes(name string, data []byte, modTime time.Time) error {
	header := &tar.Header{
		Name:    filepath.ToSlash(name),
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: modTime,
	}
	if err := w.tw.WriteHeader(header); err != nil {
		return NewStorageError("failed to write tar header", err).WithContext("name", name)
	}
	if _, err := w.tw.Write(data); err != nil {
		return NewStorageError("failed to write archive entry", err).WithContext("name", name)
	}
	return nil
}

// WriteManifest serializes the manifest as the archive's metadata entry.
// Call it last so the manifest only exists in archives whose payload was
// fully written.
func (w *ArchiveWriter) WriteManifest(manifest *Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return NewValidationError("failed to serialize manifest", err)
	}
	return w.AddBytes(ManifestName, data, manifest.CreatedAt)
}

// Close finalizes the archive and promotes it to the final path, sealing
// the whole artifact first when encryption is enabled.
func (w *ArchiveWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.tw.Close(); err != nil {
		w.file.Close()
		os.Remove(w.tmpPath)
		return NewStorageError("failed to finalize tar stream", err)
	}
	if err := w.comp.Close(); err != nil {
		w.file.Close()
		os.Remove(w.tmpPath)
		return NewCompressionError("failed to finalize compressed stream", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return NewStorageError("failed to close archive file", err)
	}

	if w.enc != nil && w.enc.IsEnabled() {
		plain, err := os.ReadFile(w.tmpPath)
		if err != nil {
			os.Remove(w.tmpPath)
			return NewStorageError("failed to read archive for sealing", err)
		}
		sealed, err := w.enc.Seal(plain)
		if err != nil {
			os.Remove(w.tmpPath)
			return err
		}
		if err := os.WriteFile(w.path, sealed, 0o600); err != nil {
			os.Remove(w.tmpPath)
			return NewStorageError("failed to write sealed archive", err)
		}
		os.Remove(w.tmpPath)
		return nil
	}

	if err := os.Rename(w.tmpPath, w.path); err != nil {
		os.Remove(w.tmpPath)
		return NewStorageError("failed to promote archive file", err)
	}
	return nil
}

// Abort discards the in-progress archive
func (w *ArchiveWriter) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.tw.Close()
	w.comp.Close()
	w.file.Close()
	os.Remove(w.tmpPath)
}

// ArchiveReader iterates entries of a backup archive
type ArchiveReader struct {
	tr      *tar.Reader
	closers []io.Closer
}

// OpenArchive opens an artifact for reading, resolving the codec from the
// file name and transparently opening sealed archives.
func OpenArchive(path string, cm *CompressionManager, enc *EncryptionManager) (*ArchiveReader, error) {
	name := path
	sealed := strings.HasSuffix(name, EncryptedExtension)
	if sealed {
		name = strings.TrimSuffix(name, EncryptedExtension)
	}

	compressor, err := cm.CompressorForExtension(name)
	if err != nil {
		return nil, err
	}

	var raw io.Reader
	var closers []io.Closer

	if sealed {
		if enc == nil || !enc.IsEnabled() {
			return nil, NewEncryptionError("archive is encrypted but encryption is not configured", nil).WithContext("path", path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, NewStorageError("failed to read archive", err).WithContext("path", path)
		}
		plain, err := enc.Open(data)
		if err != nil {
			return nil, err
		}
		raw = bytes.NewReader(plain)
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, NewStorageError("failed to open archive", err).WithContext("path", path)
		}
		raw = file
		closers = append(closers, file)
	}

	comp, err := compressor.WrapReader(raw)
	if err != nil {
		for _, c := range closers {
			c.Close()
		}
		return nil, err
	}
	closers = append([]io.Closer{comp}, closers...)

	return &ArchiveReader{
		tr:      tar.NewReader(comp),
		closers: closers,
	}, nil
}

// Next advances to the next archive entry
func (r *ArchiveReader) Next() (*tar.Header, error) {
	return r.tr.Next()
}

// Read reads the current entry's contents
func (r *ArchiveReader) Read(p []byte) (int, error) {
	return r.tr.Read(p)
}

// Close releases the underlying streams
func (r *ArchiveReader) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// IsDirectoryBackup reports whether the artifact at path is an uncompressed
// directory-tree backup rather than an archive file.
func IsDirectoryBackup(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ReadManifest loads the manifest from an artifact of either form. An
// unreadable or manifest-less artifact yields a corruption error.
func ReadManifest(path string, cm *CompressionManager, enc *EncryptionManager) (*Manifest, error) {
	if IsDirectoryBackup(path) {
		data, err := os.ReadFile(filepath.Join(path, ManifestName))
		if err != nil {
			return nil, NewCorruptionError("backup manifest is missing", err).WithContext("path", path)
		}
		return decodeManifest(data, path)
	}

	reader, err := OpenArchive(path, cm, enc)
	if err != nil {
		return nil, NewCorruptionError("failed to open backup archive", err).WithContext("path", path)
	}
	defer reader.Close()

	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, NewCorruptionError("failed to read backup archive", err).WithContext("path", path)
		}
		if filepath.Base(header.Name) == ManifestName {
			data, err := io.ReadAll(reader)
			if err != nil {
				return nil, NewCorruptionError("failed to read backup manifest", err).WithContext("path", path)
			}
			return decodeManifest(data, path)
		}
	}

	return nil, NewCorruptionError("backup manifest is missing", nil).WithContext("path", path)
}

func decodeManifest(data []byte, path string) (*Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, NewCorruptionError("backup manifest is not valid JSON", err).WithContext("path", path)
	}
	return &manifest, nil
}

// ListArchiveMembers returns the data entries of an artifact, excluding the
// embedded manifest, with path separators normalized to forward slashes.
func ListArchiveMembers(path string, cm *CompressionManager, enc *EncryptionManager) ([]string, error) {
	if IsDirectoryBackup(path) {
		var members []string
		err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(path, p)
			if err != nil {
				return err
			}
			if filepath.Base(rel) == ManifestName {
				return nil
			}
			members = append(members, filepath.ToSlash(rel))
			return nil
		})
		if err != nil {
			return nil, NewStorageError("failed to walk backup directory", err).WithContext("path", path)
		}
		return members, nil
	}

	reader, err := OpenArchive(path, cm, enc)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var members []string
	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, NewCorruptionError("failed to read backup archive", err).WithContext("path", path)
		}
		if header.Typeflag == tar.TypeDir {
			continue
		}
		if filepath.Base(header.Name) == ManifestName {
			continue
		}
		members = append(members, filepath.ToSlash(header.Name))
	}
	return members, nil
}
