package panel

import (
	"encoding/base64"
	"math"
	"mime"
	"path/filepath"
	"strconv"
	"strings"
)

// MaxFileSize is the largest accepted upload in bytes (2 MiB)
const MaxFileSize = 2 * 1024 * 1024

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// File is the image currently chosen by the user
type File struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// NewFile creates a File whose size is the length of data
func NewFile(name, contentType string, data []byte) *File {
	return &File{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Data:        data,
	}
}

// FileInfo describes the selected file for display
type FileInfo struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	SizeLabel   string `json:"size_label"`
	Extension   string `json:"extension"`
}

// NormalizeContentType lower-cases a media type and drops its parameters
func NormalizeContentType(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		return mediaType
	}
	return contentType
}

// Validate checks the size limit first, then the media type
func Validate(f *File) error {
	if f.Size > MaxFileSize {
		return &ValidationError{File: f.Name, Err: ErrFileTooLarge}
	}
	if !allowedTypes[NormalizeContentType(f.ContentType)] {
		return &ValidationError{File: f.Name, Err: ErrUnsupportedType}
	}
	return nil
}

// DataURL encodes the file the way a browser FileReader would
func DataURL(f *File) string {
	return "data:" + f.ContentType + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}

// FormatFileSize renders a byte count as "0 Bytes", "512 Bytes", "1.5 KB", "2 MB"
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}

	const k = 1024
	sizes := []string{"Bytes", "KB", "MB"}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(k)))
	i = min(i, len(sizes)-1)

	value := float64(bytes) / math.Pow(k, float64(i))
	value = math.Round(value*100) / 100
	return strconv.FormatFloat(value, 'f', -1, 64) + " " + sizes[i]
}

// FileExtension returns the media subtype upper-cased ("PNG"), falling back
// to the filename extension when no type was declared
func FileExtension(f *File) string {
	if f.ContentType != "" {
		if _, subtype, ok := strings.Cut(f.ContentType, "/"); ok {
			return strings.ToUpper(subtype)
		}
		return strings.ToUpper(f.ContentType)
	}
	if ext := filepath.Ext(f.Name); ext != "" {
		return strings.ToUpper(strings.TrimPrefix(ext, "."))
	}
	return strings.ToUpper(f.Name)
}

func fileInfo(f *File) *FileInfo {
	if f == nil {
		return nil
	}
	return &FileInfo{
		Name:        f.Name,
		ContentType: f.ContentType,
		Size:        f.Size,
		SizeLabel:   FormatFileSize(f.Size),
		Extension:   FileExtension(f),
	}
}
