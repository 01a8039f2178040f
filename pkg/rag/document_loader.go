package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LoaderConfig controls directory scanning for batch ingestion.
type LoaderConfig struct {
	// Extensions limit which files are picked up. Lowercase with dot.
	Extensions []string `json:"extensions"`

	// MaxFileSize skips files larger than this many bytes.
	MaxFileSize int64 `json:"max_file_size"`

	Recursive bool `json:"recursive"`
}

func getDefaultLoaderConfig() *LoaderConfig {
	return &LoaderConfig{
		Extensions:  []string{".pdf", ".docx", ".txt"},
		MaxFileSize: 50 * 1024 * 1024,
		Recursive:   true,
	}
}

// DocumentLoader scans a local directory and turns eligible files into
// ingestion inputs for the pipeline.
type DocumentLoader struct {
	config *LoaderConfig
	logger *slog.Logger
}

// NewDocumentLoader creates a loader with the given configuration.
func NewDocumentLoader(config *LoaderConfig) *DocumentLoader {
	if config == nil {
		config = getDefaultLoaderConfig()
	}
	return &DocumentLoader{
		config: config,
		logger: slog.Default().With("component", "document-loader"),
	}
}

// LoadDirectory walks root and returns one IngestionInput per eligible file.
// Unreadable files are skipped with a warning rather than failing the batch.
func (dl *DocumentLoader) LoadDirectory(ctx context.Context, root, organizationID, uploadedBy string) ([]*IngestionInput, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", root, err)
	}
	if !info.IsDir() {
		input, err := dl.loadFile(root, organizationID, uploadedBy)
		if err != nil {
			return nil, err
		}
		return []*IngestionInput{input}, nil
	}

	var inputs []*IngestionInput
	err = filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() {
			if !dl.config.Recursive && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !dl.eligible(path) {
			return nil
		}

		input, err := dl.loadFile(path, organizationID, uploadedBy)
		if err != nil {
			dl.logger.Warn("Skipping unreadable file", "path", path, "error", err)
			return nil
		}
		inputs = append(inputs, input)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	dl.logger.Info("Directory scan finished", "root", root, "files", len(inputs))
	return inputs, nil
}

func (dl *DocumentLoader) eligible(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range dl.config.Extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func (dl *DocumentLoader) loadFile(path, organizationID, uploadedBy string) (*IngestionInput, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if dl.config.MaxFileSize > 0 && info.Size() > dl.config.MaxFileSize {
		return nil, fmt.Errorf("file %s exceeds size limit (%d bytes)", path, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return &IngestionInput{
		Bytes:          data,
		Filename:       filepath.Base(path),
		MimeType:       mimeForExtension(filepath.Ext(path)),
		OrganizationID: organizationID,
		UploadedBy:     uploadedBy,
	}, nil
}

func mimeForExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return MimePDF
	case ".docx":
		return MimeDOCX
	case ".txt":
		return MimePlainText
	default:
		return ""
	}
}
