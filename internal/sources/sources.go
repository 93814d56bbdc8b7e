// Package sources turns command-line paths into upload tasks.
package sources

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/bookintake/internal/errors"
	"github.com/Lllllllleong/bookintake/internal/services"
)

// PDFMode selects how a PDF scan becomes uploads.
type PDFMode string

const (
	// PDFImages uploads the images embedded in the scan, page by page.
	PDFImages PDFMode = "images"
	// PDFPages uploads one single-page PDF per page.
	PDFPages PDFMode = "pages"
	// PDFWhole uploads the PDF as it is.
	PDFWhole PDFMode = "whole"
)

// ParsePDFMode validates a mode name. Empty means PDFImages.
func ParsePDFMode(name string) (PDFMode, error) {
	switch mode := PDFMode(strings.ToLower(strings.TrimSpace(name))); mode {
	case "":
		return PDFImages, nil
	case PDFImages, PDFPages, PDFWhole:
		return mode, nil
	default:
		return "", errors.NewValidationError("pdf_mode", fmt.Sprintf("unknown pdf mode %q", name))
	}
}

// Options configures Collect.
type Options struct {
	PDFMode PDFMode
	// WorkDir holds expanded PDFs. A temporary directory is created when empty.
	WorkDir string
	Logger  *slog.Logger
}

// Set is the result of Collect. Tasks read from the work directory, so
// Cleanup must run only after the upload batch finished.
type Set struct {
	Tasks   []*services.UploadTask
	workDir string
	ownsDir bool
}

// Cleanup removes the expanded files.
func (s *Set) Cleanup() error {
	if s == nil || !s.ownsDir || s.workDir == "" {
		return nil
	}
	return os.RemoveAll(s.workDir)
}

// Collect builds one task per input file, expanding PDF scans per opts.
// Directories are rejected.
func Collect(paths []string, opts Options) (*Set, error) {
	if len(paths) == 0 {
		return nil, errors.NewValidationError("files", "no files selected")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mode, err := ParsePDFMode(string(opts.PDFMode))
	if err != nil {
		return nil, err
	}

	set := &Set{workDir: opts.WorkDir}
	for _, path := range paths {
		task, err := FileTask(path)
		if err != nil {
			_ = set.Cleanup()
			return nil, err
		}
		if task.ContentType != "application/pdf" || mode == PDFWhole {
			set.Tasks = append(set.Tasks, task)
			continue
		}
		if err := set.ensureWorkDir(); err != nil {
			_ = set.Cleanup()
			return nil, err
		}
		expanded, err := expandPDF(path, set.workDir, mode)
		if err != nil {
			_ = set.Cleanup()
			return nil, fmt.Errorf("failed to expand %s: %w", path, err)
		}
		if len(expanded) == 0 {
			logger.Warn("PDF had nothing to extract, uploading it whole.", "file", path, "mode", mode)
			set.Tasks = append(set.Tasks, task)
			continue
		}
		logger.Info("PDF expanded.", "file", path, "mode", mode, "files", len(expanded))
		set.Tasks = append(set.Tasks, expanded...)
	}
	return set, nil
}

func (s *Set) ensureWorkDir() error {
	if s.workDir != "" {
		return os.MkdirAll(s.workDir, 0o755)
	}
	dir, err := os.MkdirTemp("", "bookintake-")
	if err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}
	s.workDir, s.ownsDir = dir, true
	return nil
}

// FileTask creates a task for one file, detecting its content type.
// Directories are rejected before anything is read.
func FileTask(path string) (*services.UploadTask, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, errors.NewValidationError("file", path+" is a directory")
	}
	contentType, err := DetectContentType(path)
	if err != nil {
		return nil, err
	}
	return services.NewFileTask(path, filepath.Base(path), contentType)
}

// DetectContentType uses the extension and falls back to sniffing the first
// 512 bytes.
func DetectContentType(path string) (string, error) {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
			return mediaType, nil
		}
		return ct, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	mediaType, _, _ := mime.ParseMediaType(http.DetectContentType(head[:n]))
	return mediaType, nil
}

func pdfConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// expandPDF writes the per-page output of path under workDir and returns a
// task per output file in page order.
func expandPDF(path, workDir string, mode PDFMode) ([]*services.UploadTask, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	outDir, err := os.MkdirTemp(workDir, stem+"-")
	if err != nil {
		return nil, err
	}

	switch mode {
	case PDFPages:
		optimized := filepath.Join(outDir, stem+".pdf")
		if err := api.OptimizeFile(path, optimized, pdfConfig()); err != nil {
			return nil, fmt.Errorf("failed to validate/optimize PDF: %w", err)
		}
		pageCount, err := api.PageCountFile(optimized)
		if err != nil {
			return nil, fmt.Errorf("failed to get page count: %w", err)
		}
		if err := api.SplitFile(optimized, outDir, 1, pdfConfig()); err != nil {
			return nil, fmt.Errorf("failed to split PDF: %w", err)
		}
		tasks := make([]*services.UploadTask, 0, pageCount)
		for page := 1; page <= pageCount; page++ {
			pagePath := filepath.Join(outDir, fmt.Sprintf("%s_%d.pdf", stem, page))
			task, err := services.NewFileTask(pagePath, fmt.Sprintf("%s_%05d.pdf", stem, page), "application/pdf")
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
		return tasks, nil

	case PDFImages:
		if err := api.ExtractImagesFile(path, outDir, nil, pdfConfig()); err != nil {
			return nil, fmt.Errorf("failed to extract images: %w", err)
		}
		entries, err := os.ReadDir(outDir)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			if !entry.IsDir() {
				names = append(names, entry.Name())
			}
		}
		slices.SortFunc(names, naturalCompare)
		tasks := make([]*services.UploadTask, 0, len(names))
		for _, name := range names {
			task, err := FileTask(filepath.Join(outDir, name))
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
		return tasks, nil
	}
	return nil, fmt.Errorf("unsupported pdf mode %q", mode)
}

// naturalCompare orders names so that "p_2" sorts before "p_10".
func naturalCompare(a, b string) int {
	for a != "" && b != "" {
		if isDigit(a[0]) && isDigit(b[0]) {
			na, restA := leadingNumber(a)
			nb, restB := leadingNumber(b)
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
			a, b = restA, restB
			continue
		}
		if a[0] != b[0] {
			if a[0] < b[0] {
				return -1
			}
			return 1
		}
		a, b = a[1:], b[1:]
	}
	return len(a) - len(b)
}

func leadingNumber(s string) (int, string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		n = 0
	}
	return n, s[i:]
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
