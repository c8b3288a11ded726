package imagery

import (
	"context"

	"github.com/couchcryptid/fire-perimeter-service/internal/domain"
)

// Fetcher builds the composite for a scene and fetches its classification and preview rasters.
type Fetcher struct {
	client *Client
}

// NewFetcher wraps a client.
func NewFetcher(client *Client) *Fetcher {
	return &Fetcher{client: client}
}

// FetchClassification decodes the scene's raw fire classification and writes it
// to path as a mask raster with a world file.
func (f *Fetcher) FetchClassification(ctx context.Context, scene domain.Scene, path string) error {
	composite := NewComposite(scene.WindowStart, scene.WindowDays, scene.CloudCover)
	mask, err := f.client.FetchMask(ctx, FireClassification(composite), scene.Box, scene.Width, scene.Height)
	if err != nil {
		return err
	}
	return mask.WriteFile(path)
}

// FetchPreview writes the false-colour RGB preview raster for the scene.
func (f *Fetcher) FetchPreview(ctx context.Context, scene domain.Scene, path string) error {
	composite := NewComposite(scene.WindowStart, scene.WindowDays, scene.CloudCover)
	_, err := f.client.FetchRaster(ctx, RGBComposite(composite), scene.Box, scene.Width, scene.Height, path)
	return err
}
