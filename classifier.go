// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const (
	DefaultLargeThreshold   int64 = 50 * 1024 * 1024
	DefaultPreviewThreshold int64 = 1024 * 1024
	DefaultDownloadDir            = "downloads"

	filePrefixExport    = "export"
	filePrefixLargeJSON = "large_json"
	timestampLayout     = "20060102_150405"
	sniffLen            = 3072
)

// Classifier turns raw responses into outcomes. Files are written below Dir.
type Classifier struct {
	LargeThreshold   int64
	PreviewThreshold int64
	Dir              string

	logger Logger
	now    func() time.Time
}

func NewClassifier() *Classifier {
	return &Classifier{
		LargeThreshold:   DefaultLargeThreshold,
		PreviewThreshold: DefaultPreviewThreshold,
		Dir:              DefaultDownloadDir,
		logger:           NewNoopLogger(),
		now:              time.Now,
	}
}

func (c *Classifier) SetLogger(logger Logger) {
	c.logger = logger
}

// Classify reads and closes resp.Body. It never panics on I/O errors; they
// become Failure outcomes.
func (c *Classifier) Classify(resp *http.Response, t *RequestTemplate, paramValue string, elapsedMs int64) Outcome {
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if t.Download || !isJSONContentType(contentType) {
		return c.download(resp.Body, resp.StatusCode, t, paramValue, elapsedMs, contentType)
	}
	if resp.ContentLength > c.LargeThreshold {
		return c.largeJSON(resp, t, paramValue, elapsedMs, contentType)
	}
	return c.normalJSON(resp, paramValue, elapsedMs)
}

func (c *Classifier) download(body io.Reader, status int, t *RequestTemplate, paramValue string, elapsedMs int64, contentType string) Outcome {
	ext := t.FileExtension
	if ext == "" {
		ext = GuessExtension(contentType)
	}
	if ext == ".bin" {
		// content type says nothing useful, sniff the first bytes
		br := bufio.NewReaderSize(body, sniffLen)
		head, _ := br.Peek(sniffLen)
		if sniffed := mimetype.Detect(head).Extension(); sniffed != "" {
			ext = sniffed
		}
		body = br
	}
	filename, size, err := c.writeFile(filePrefixExport, paramValue, ext, body)
	if err != nil {
		c.logger.Error("[Classify] download failed for %s: %v", paramValue, err)
		return failureOutcome(paramValue, FailureOther, elapsedMs, "file download failed: %v", err)
	}
	c.logger.Info("[Classify] downloaded %s (%d bytes) for %s", filename, size, paramValue)
	return successOutcome(&Success{
		ParamValue:  paramValue,
		StatusCode:  status,
		ElapsedMs:   elapsedMs,
		Message:     "file downloaded",
		Filename:    filename,
		Size:        size,
		ContentType: contentType,
	})
}

func (c *Classifier) largeJSON(resp *http.Response, t *RequestTemplate, paramValue string, elapsedMs int64, contentType string) Outcome {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return failureOutcome(paramValue, FailureOther, elapsedMs, "large JSON response read failed: %v", err)
	}
	doc, err := DecodeJSON(raw)
	if err != nil {
		c.logger.Warning("[Classify] large response for %s is not valid JSON, saving as file: %v", paramValue, err)
		return c.download(bytes.NewReader(raw), resp.StatusCode, t, paramValue, elapsedMs, contentType)
	}
	filename, size, err := c.writeFile(filePrefixLargeJSON, paramValue, ".json", bytes.NewReader(raw))
	if err != nil {
		return failureOutcome(paramValue, FailureOther, elapsedMs, "large JSON backup failed: %v", err)
	}
	return successOutcome(&Success{
		ParamValue:    paramValue,
		StatusCode:    resp.StatusCode,
		ElapsedMs:     elapsedMs,
		Message:       "large JSON response saved to backup file",
		Content:       doc,
		Preview:       c.preview(raw),
		ContentLength: int64(len(raw)),
		Filename:      filename,
		Size:          size,
		ContentType:   contentType,
		Large:         true,
	})
}

func (c *Classifier) normalJSON(resp *http.Response, paramValue string, elapsedMs int64) Outcome {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return failureOutcome(paramValue, FailureOther, elapsedMs, "response read failed: %v", err)
	}
	s := &Success{
		ParamValue: paramValue,
		StatusCode: resp.StatusCode,
		ElapsedMs:  elapsedMs,
	}
	if doc, err := DecodeJSON(raw); err == nil {
		s.Content = doc
	} else {
		c.logger.Debug("[Classify] response for %s is not valid JSON, keeping text", paramValue)
		s.Content = strings.ToValidUTF8(string(raw), "�")
	}
	if int64(len(raw)) > c.PreviewThreshold {
		s.Preview = c.preview(raw)
		s.ContentLength = int64(len(raw))
		s.Message = fmt.Sprintf("response exceeds %d bytes, preview truncated", c.PreviewThreshold)
	}
	return successOutcome(s)
}

// preview returns at most PreviewThreshold bytes, invalid UTF-8 replaced.
func (c *Classifier) preview(raw []byte) string {
	n := int64(len(raw))
	if n > c.PreviewThreshold {
		n = c.PreviewThreshold
	}
	return strings.ToValidUTF8(string(raw[:n]), "�")
}

// writeFile stores body as <Dir>/<prefix>_<value>_<timestamp><ext>. A numeric
// suffix is added when the name is taken.
func (c *Classifier) writeFile(prefix, paramValue, ext string, body io.Reader) (string, int64, error) {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return "", 0, err
	}
	stem := fmt.Sprintf("%s_%s_%s", prefix, SanitizeFilename(paramValue), c.now().Format(timestampLayout))

	var f *os.File
	var name string
	for i := 0; ; i++ {
		name = filepath.Join(c.Dir, stem+ext)
		if i > 0 {
			name = filepath.Join(c.Dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		}
		var err error
		f, err = os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) || i >= 1000 {
			return "", 0, err
		}
	}

	size, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(name)
		return "", 0, err
	}
	return name, size, nil
}

// GuessExtension maps a content type to a file extension.
func GuessExtension(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "excel") || strings.Contains(ct, "spreadsheet"):
		return ".xlsx"
	case strings.Contains(ct, "csv"):
		return ".csv"
	case strings.Contains(ct, "pdf"):
		return ".pdf"
	case strings.Contains(ct, "zip"):
		return ".zip"
	case strings.Contains(ct, "json"):
		return ".json"
	default:
		return ".bin"
	}
}

// SanitizeFilename replaces characters that are unsafe in file names.
func SanitizeFilename(s string) string {
	const maxLen = 80
	var b strings.Builder
	for _, r := range s {
		switch {
		case r < 0x20 || r == 0x7f:
			b.WriteByte('_')
		case strings.ContainsRune(`<>:"/\|?* `, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
		if b.Len() >= maxLen {
			break
		}
	}
	if b.Len() == 0 {
		return "empty"
	}
	return b.String()
}

func isJSONContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "application/json")
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// ClassifyTransportError maps an error from the HTTP client to a failure kind.
func ClassifyTransportError(err error) FailureKind {
	if errors.Is(err, context.Canceled) {
		return FailureCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return FailureConnection
	}
	return FailureOther
}
