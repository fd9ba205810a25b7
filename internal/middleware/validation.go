package middleware

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/capitalize-ai/companion-relay/internal/model"
)

// MaxImageBytes bounds the decoded size of an attached image.
const MaxImageBytes = 8 << 20

var (
	// ErrMessageRequired is returned when a request has neither text nor image.
	ErrMessageRequired = errors.New("Message is required")
	// ErrInvalidImage is returned when the image is not a base64 image data URL.
	ErrInvalidImage = errors.New("image must be a base64 data URL of a supported image type")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var allowedImageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// ValidateChatRequest checks a chat request's shape. An attached image is
// sniffed and its data URL rewritten to carry the detected content type, since
// upstreams reject a declared type that disagrees with the bytes.
func ValidateChatRequest(req *model.ChatRequest) error {
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" && req.Image == "" {
		return ErrMessageRequired
	}
	if !utf8.ValidString(req.Message) {
		return errors.New("message must be valid UTF-8")
	}

	if err := validate.Struct(req); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return fmt.Errorf("invalid %s", strings.ToLower(ve[0].Namespace()))
		}
		return err
	}

	for _, turn := range req.History {
		if !turn.Role.Valid() {
			return fmt.Errorf("invalid history role %q", turn.Role)
		}
	}

	if req.Image != "" {
		mt, err := SniffImage(req.Image)
		if err != nil {
			return err
		}
		_, payload, _ := strings.Cut(req.Image, ",")
		req.Image = "data:" + mt + ";base64," + payload
	}
	return nil
}

// SniffImage decodes a data URL and returns the detected image MIME type.
func SniffImage(dataURL string) (string, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", ErrInvalidImage
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return "", ErrInvalidImage
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxImageBytes {
		return "", fmt.Errorf("%w: larger than %d bytes", ErrInvalidImage, MaxImageBytes)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	mt := mimetype.Detect(data)
	if !mimetype.EqualsAny(mt.String(), allowedImageTypes...) {
		return "", fmt.Errorf("%w: got %s", ErrInvalidImage, mt.String())
	}
	return mt.String(), nil
}

// MaxBodySize limits request bodies to n bytes.
func MaxBodySize(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
