package export

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ShakeRunner invokes the external shake command on exported inputs and
// archives the products it leaves behind.
type ShakeRunner struct {
	command string
	log     *zap.Logger
	now     func() time.Time
}

// NewShakeRunner builds a runner for the given shake executable.
func NewShakeRunner(command string, log *zap.Logger) *ShakeRunner {
	if command == "" {
		command = "shake"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ShakeRunner{command: command, log: log, now: time.Now}
}

// Trigger runs the shake pipeline for one augmented event id. The module
// list mirrors the production profile: select through gridxml.
func (s *ShakeRunner) Trigger(ctx context.Context, augmentedID string) error {
	args := []string{"--force", "-d", augmentedID,
		"select", "assemble", "-c", "pyFinder",
		"model", "contour", "mapping", "stations", "gridxml"}
	cmd := exec.CommandContext(ctx, s.command, args...)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	s.log.Info("triggering shakemap",
		zap.String("augmented_id", augmentedID),
		zap.String("command", s.command+" "+strings.Join(args, " ")))
	if err := cmd.Run(); err != nil {
		s.log.Error("shake command failed",
			zap.String("augmented_id", augmentedID),
			zap.String("output", tail(output.String(), 2048)),
			zap.Error(err))
		return fmt.Errorf("shake run for %s: %w", augmentedID, err)
	}
	return nil
}

// ArchiveProducts collects the JSON and JPG products under productDir into
// shakemap_products/shakemap_output_<timestamp>.zip under destRoot and
// returns the archive path. No products is not an error; the archive is
// simply not created.
func (s *ShakeRunner) ArchiveProducts(productDir, destRoot string) (string, error) {
	var files []string
	err := filepath.WalkDir(productDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json", ".jpg", ".jpeg":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan products under %s: %w", productDir, err)
	}
	if len(files) == 0 {
		s.log.Warn("no shakemap products to archive", zap.String("dir", productDir))
		return "", nil
	}

	archiveDir := filepath.Join(destRoot, "shakemap_products")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	name := fmt.Sprintf("shakemap_output_%s.zip", s.now().UTC().Format("20060102_150405"))
	archivePath := filepath.Join(archiveDir, name)

	f, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, path := range files {
		rel, err := filepath.Rel(productDir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		if err := addToZip(zw, path, rel); err != nil {
			zw.Close()
			return "", err
		}
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("finalize archive: %w", err)
	}

	s.log.Info("archived shakemap products",
		zap.String("archive", archivePath),
		zap.Int("files", len(files)))
	return archivePath, nil
}

func addToZip(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open product %s: %w", path, err)
	}
	defer src.Close()

	dst, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("add %s to archive: %w", name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy %s into archive: %w", name, err)
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
