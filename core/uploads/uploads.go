package uploads

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	_ "golang.org/x/image/webp"
)

type Kind string

const (
	KindImage    Kind = "image"
	KindDocument Kind = "document"
)

// Error is a user-correctable upload failure.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

// Incoming is a submitted file part before validation.
type Incoming struct {
	Filename string
	Body     io.Reader
}

// Accepted is a validated upload ready to be stored.
type Accepted struct {
	Data        []byte
	ContentType string
	Ext         string
}

type Validator struct {
	maxBytes int64
	allowed  map[string]struct{}
}

func NewValidator(maxBytes int64, allowedTypes []string) *Validator {
	v := &Validator{maxBytes: maxBytes, allowed: map[string]struct{}{}}
	for _, t := range allowedTypes {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			v.allowed[t] = struct{}{}
		}
	}
	return v
}

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// Check reads at most maxBytes+1, sniffs the content type from the bytes and
// makes sure images actually decode. The client's filename and type are ignored.
func (v *Validator) Check(in *Incoming, kind Kind) (*Accepted, error) {
	if in == nil || in.Body == nil {
		return nil, &Error{Reason: "no file was uploaded"}
	}
	data, err := io.ReadAll(io.LimitReader(in.Body, v.maxBytes+1))
	if err != nil {
		return nil, &Error{Reason: "the upload could not be read"}
	}
	if len(data) == 0 {
		return nil, &Error{Reason: "the uploaded file is empty"}
	}
	if int64(len(data)) > v.maxBytes {
		return nil, &Error{Reason: fmt.Sprintf("file is too large (limit %s)", humanize.IBytes(uint64(v.maxBytes)))}
	}
	ctype := strings.ToLower(strings.TrimSpace(strings.SplitN(http.DetectContentType(data), ";", 2)[0]))
	if _, ok := v.allowed[ctype]; !ok {
		return nil, &Error{Reason: fmt.Sprintf("file type %s is not allowed", ctype)}
	}
	ext, ok := extensions[ctype]
	if !ok {
		return nil, &Error{Reason: fmt.Sprintf("file type %s is not allowed", ctype)}
	}
	isImage := strings.HasPrefix(ctype, "image/")
	if kind == KindImage && !isImage {
		return nil, &Error{Reason: "an image file is required"}
	}
	if isImage {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
			return nil, &Error{Reason: "the image appears to be corrupted"}
		}
	}
	return &Accepted{Data: data, ContentType: ctype, Ext: ext}, nil
}
