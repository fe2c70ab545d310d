package upload

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxBytes is the largest accepted upload.
const DefaultMaxBytes int64 = 16 << 20

// sniffLen is how much of the payload is inspected when the declared type is missing.
const sniffLen = 3072

var (
	// ErrUnsupportedType is returned for files outside the allowed image types.
	ErrUnsupportedType = errors.New("unsupported image type")
	// ErrTooLarge is returned for files over the configured size limit.
	ErrTooLarge = errors.New("image too large")
)

// DefaultAllowedTypes lists the accepted MIME types.
var DefaultAllowedTypes = []string{"image/jpeg", "image/jpg", "image/png"}

// ValidationError carries a user-facing message alongside the error kind.
type ValidationError struct {
	Kind     error
	MimeType string
	Size     int64
	Message  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: type=%q size=%d", e.Kind, e.MimeType, e.Size)
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// Image is a validated upload. It is owned by the caller for one analysis.
type Image struct {
	Filename  string
	MimeType  string
	SizeBytes int64
	Bytes     []byte
}

// PreviewDataURI returns the image as a data URI usable as an <img> source.
func (i *Image) PreviewDataURI() string {
	return "data:" + i.MimeType + ";base64," + base64.StdEncoding.EncodeToString(i.Bytes)
}

// DisplaySize formats the size in megabytes with two decimals.
func (i *Image) DisplaySize() string {
	return fmt.Sprintf("%.2f MB", float64(i.SizeBytes)/1024/1024)
}

// Validator accepts or rejects candidate files by type and size.
type Validator struct {
	maxBytes int64
	allowed  map[string]struct{}
}

// NewValidator builds a validator. Zero or empty arguments select the defaults.
func NewValidator(maxBytes int64, allowedTypes []string) *Validator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(allowedTypes) == 0 {
		allowedTypes = DefaultAllowedTypes
	}
	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[normalizeType(t)] = struct{}{}
	}
	return &Validator{maxBytes: maxBytes, allowed: allowed}
}

// MaxBytes returns the configured size limit.
func (v *Validator) MaxBytes() int64 {
	return v.maxBytes
}

// ValidateFileHeader validates a multipart upload.
func (v *Validator) ValidateFileHeader(fh *multipart.FileHeader) (*Image, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	return v.Validate(fh.Filename, fh.Header.Get("Content-Type"), fh.Size, src)
}

// Validate checks the type first, then the size, and reads the payload only
// once both pass. A negative size means unknown; the reader is then bounded
// by the limit. An empty or generic declared type is sniffed from content.
func (v *Validator) Validate(filename, declaredType string, size int64, r io.Reader) (*Image, error) {
	mimeType := normalizeType(declaredType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		head := make([]byte, sniffLen)
		n, err := io.ReadFull(r, head)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read upload: %w", err)
		}
		head = head[:n]
		mimeType = normalizeType(mimetype.Detect(head).String())
		r = io.MultiReader(bytes.NewReader(head), r)
	}

	if _, ok := v.allowed[mimeType]; !ok {
		return nil, &ValidationError{
			Kind:     ErrUnsupportedType,
			MimeType: mimeType,
			Size:     size,
			Message:  "Please upload a valid image file (JPG, PNG)",
		}
	}
	if size > v.maxBytes {
		return nil, v.tooLarge(mimeType, size)
	}

	data, err := io.ReadAll(io.LimitReader(r, v.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > v.maxBytes {
		return nil, v.tooLarge(mimeType, int64(len(data)))
	}

	return &Image{
		Filename:  filename,
		MimeType:  mimeType,
		SizeBytes: int64(len(data)),
		Bytes:     data,
	}, nil
}

// LimitError builds the TooLarge error for a payload rejected before it
// reached the validator, e.g. by a request body limit.
func (v *Validator) LimitError(size int64) error {
	return v.tooLarge("", size)
}

func (v *Validator) tooLarge(mimeType string, size int64) error {
	return &ValidationError{
		Kind:     ErrTooLarge,
		MimeType: mimeType,
		Size:     size,
		Message:  fmt.Sprintf("File size too large. Please choose a file smaller than %dMB.", v.maxBytes>>20),
	}
}

// UserMessage extracts the user-facing message from a validation error.
func UserMessage(err error) string {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Message
	}
	return "Unable to read the uploaded image"
}

func normalizeType(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(t); err == nil {
		return strings.ToLower(parsed)
	}
	return strings.ToLower(t)
}
