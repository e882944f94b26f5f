package cloudinary

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Archive stores essay scans on Cloudinary.
type Archive struct {
	client *cloudinary.Cloudinary
	folder string
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// New constructs a Cloudinary scan archive.
func New(cfg Config, logger zerolog.Logger) (*Archive, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &Archive{
		client: cld,
		folder: strings.Trim(cfg.Folder, "/"),
		logger: logger.With().Str("component", "cloudinary_archive").Logger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

// Store uploads a scanned essay image and returns its secure URL.
func (a *Archive) Store(ctx context.Context, name string, image []byte) (string, error) {
	params := uploader.UploadParams{
		Folder:       a.folder,
		PublicID:     buildPublicID(name, a.now(), a.newID()),
		ResourceType: "image",
		Tags:         api.CldAPIArray{"essay-scan"},
	}

	result, err := a.client.Upload.Upload(ctx, bytes.NewReader(image), params)
	if err != nil {
		return "", fmt.Errorf("failed to upload scan: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("failed to upload scan: %s", result.Error.Message)
	}

	a.logger.Info().Str("public_id", result.PublicID).Int("bytes", len(image)).Msg("essay scan archived")

	return result.SecureURL, nil
}

// buildPublicID derives a readable public id from the upload name. unique keeps two scans
// with the same name in the same second apart.
func buildPublicID(name string, at time.Time, unique string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, base)

	base = strings.Trim(base, "-")
	if base == "" {
		base = "scan"
	}

	return fmt.Sprintf("%s-%d-%s", base, at.Unix(), unique)
}
