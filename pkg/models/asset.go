// Package models contains shared data models used across the describer codebase.
package models

import (
	"errors"
	"regexp"

	"github.com/google/uuid"
)

// Asset is one library image as seen by this engine: its identifier, the
// path of its preview file on disk, and whether a description already exists.
type Asset struct {
	ID             uuid.UUID
	PreviewPath    string
	HasDescription bool
}

// ErrInvalidAssetFilename is returned when a filename carries no asset UUID.
var ErrInvalidAssetFilename = errors.New("no asset UUID in filename")

var (
	previewPattern = regexp.MustCompile(`([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})-preview`)
	uuidPattern    = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
)

// AssetIDFromFilename extracts the asset UUID from an Immich preview
// filename ("<uuid>-preview.<ext>"), falling back to any embedded UUID.
func AssetIDFromFilename(filename string) (uuid.UUID, error) {
	if m := previewPattern.FindStringSubmatch(filename); m != nil {
		id, err := uuid.Parse(m[1])
		if err == nil {
			return id, nil
		}
	}
	if m := uuidPattern.FindString(filename); m != "" {
		id, err := uuid.Parse(m)
		if err == nil {
			return id, nil
		}
	}
	return uuid.Nil, ErrInvalidAssetFilename
}
