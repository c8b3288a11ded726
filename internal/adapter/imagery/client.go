package imagery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	earthengine "google.golang.org/api/earthengine/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/couchcryptid/fire-perimeter-service/internal/domain"
	"github.com/couchcryptid/fire-perimeter-service/internal/observability"
	"github.com/couchcryptid/fire-perimeter-service/internal/raster"
)

// ErrNoData is returned when the imagery service answers with a non-2xx status.
var ErrNoData = errors.New("imagery service returned no data")

// File formats requested from computePixels.
const (
	FormatGeoTIFF = "GEO_TIFF"
	FormatNPY     = "NPY"
)

// Request kinds, used for logging and metric labels.
const (
	KindClassification = "classification"
	KindPreview        = "preview"
)

// Request is one computePixels evaluation: an expression graph, the bands to
// return, the file format and, for rendered output, visualization options.
type Request struct {
	Kind          string
	Expression    *earthengine.Expression
	Bands         []string
	Format        string
	Visualization *earthengine.VisualizationOptions
}

// Raster describes a raster written to disk.
type Raster struct {
	Path         string
	Width        int
	Height       int
	GeoTransform raster.GeoTransform
	Bytes        int64
}

// Client evaluates expressions through the imagery service's computePixels method.
type Client struct {
	service  *earthengine.Service
	project  string
	maxBytes int64
	limiter  *rate.Limiter
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewClient creates an imagery client for project, given as an id or as
// projects/<id>. ratePerSecond paces requests; maxBytes caps the response size.
func NewClient(ctx context.Context, baseURL, project string, tokens oauth2.TokenSource, timeout time.Duration, ratePerSecond float64, maxBytes int64, metrics *observability.Metrics, logger *slog.Logger) (*Client, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxResponseBytes
	}
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &oauth2.Transport{
			Source: tokens,
			Base:   &rawBodyTransport{base: http.DefaultTransport, maxBytes: maxBytes},
		},
	}
	service, err := earthengine.NewService(ctx,
		option.WithHTTPClient(httpClient),
		option.WithEndpoint(strings.TrimRight(baseURL, "/")+"/"),
	)
	if err != nil {
		return nil, fmt.Errorf("create imagery service: %w", err)
	}
	if !strings.HasPrefix(project, "projects/") {
		project = "projects/" + project
	}
	return &Client{
		service:  service,
		project:  project,
		maxBytes: maxBytes,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		metrics:  metrics,
		logger:   logger,
	}, nil
}

// FetchRaster evaluates req over box at the requested size and writes the
// payload to path with a world file beside it. Oversized requests are scaled
// down to fit the response budget.
func (c *Client) FetchRaster(ctx context.Context, req Request, box domain.BoundingBox, width, height int, path string) (Raster, error) {
	data, gt, w, h, err := c.compute(ctx, req, box, width, height)
	if err != nil {
		return Raster{}, err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		_ = os.Remove(path)
		return Raster{}, fmt.Errorf("write raster file: %w", err)
	}
	if err := raster.WriteWorldFile(path, gt); err != nil {
		_ = os.Remove(path)
		return Raster{}, err
	}

	c.logger.Debug("raster written", "kind", req.Kind, "path", path, "bytes", len(data), "width", w, "height", h)
	return Raster{Path: path, Width: w, Height: h, GeoTransform: gt, Bytes: int64(len(data))}, nil
}

// FetchMask evaluates a single-band NPY request over box and decodes it into a fire mask.
func (c *Client) FetchMask(ctx context.Context, req Request, box domain.BoundingBox, width, height int) (*raster.Mask, error) {
	if req.Format != FormatNPY {
		return nil, fmt.Errorf("%s request format %s cannot be decoded into a mask", req.Kind, req.Format)
	}
	data, gt, _, _, err := c.compute(ctx, req, box, width, height)
	if err != nil {
		return nil, err
	}
	mask, err := raster.DecodeNPYMask(bytes.NewReader(data), gt)
	if err != nil {
		return nil, fmt.Errorf("%s raster: %w", req.Kind, err)
	}
	return mask, nil
}

func (c *Client) compute(ctx context.Context, req Request, box domain.BoundingBox, width, height int) ([]byte, raster.GeoTransform, int, int, error) {
	w, h := FitToBudget(width, height, len(req.Bands), c.maxBytes)
	if w != width || h != height {
		c.logger.Info("raster scaled to fit response budget",
			"kind", req.Kind, "requested_width", width, "requested_height", height, "width", w, "height", h)
	}
	gt := raster.GeoTransformFor(box, w, h)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, gt, w, h, fmt.Errorf("wait for rate limiter: %w", err)
	}

	body, err := c.service.Projects.Image.ComputePixels(c.project, computePixelsRequest(req, gt, w, h)).Context(ctx).Do()
	if err != nil {
		c.metrics.ImageryRequests.WithLabelValues(req.Kind, "error").Inc()
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			c.logger.Warn("imagery request failed", "kind", req.Kind, "status", apiErr.Code, "message", apiErr.Message, "body", apiErr.Body)
			return nil, gt, w, h, fmt.Errorf("%w: status %d", ErrNoData, apiErr.Code)
		}
		return nil, gt, w, h, fmt.Errorf("%s raster request: %w", req.Kind, err)
	}

	data, err := base64.StdEncoding.DecodeString(body.Data)
	if err != nil {
		c.metrics.ImageryRequests.WithLabelValues(req.Kind, "error").Inc()
		return nil, gt, w, h, fmt.Errorf("decode %s payload: %w", req.Kind, err)
	}
	if int64(len(data)) > c.maxBytes {
		c.metrics.ImageryRequests.WithLabelValues(req.Kind, "error").Inc()
		return nil, gt, w, h, fmt.Errorf("%s raster exceeds %d bytes", req.Kind, c.maxBytes)
	}

	c.metrics.ImageryRequests.WithLabelValues(req.Kind, "success").Inc()
	c.metrics.RasterBytes.WithLabelValues(req.Kind).Add(float64(len(data)))
	return data, gt, w, h, nil
}

func computePixelsRequest(req Request, gt raster.GeoTransform, w, h int) *earthengine.ComputePixelsRequest {
	return &earthengine.ComputePixelsRequest{
		Expression: req.Expression,
		FileFormat: req.Format,
		BandIds:    req.Bands,
		Grid: &earthengine.PixelGrid{
			Dimensions: &earthengine.GridDimensions{Width: int64(w), Height: int64(h)},
			AffineTransform: &earthengine.AffineTransform{
				TranslateX: gt[0],
				ScaleX:     gt[1],
				ShearX:     gt[2],
				TranslateY: gt[3],
				ShearY:     gt[4],
				ScaleY:     gt[5],
			},
			CrsCode: fmt.Sprintf("EPSG:%d", domain.SRID),
		},
		VisualizationOptions: req.Visualization,
	}
}

// rawBodyTransport wraps a raw pixel payload in the HttpBody JSON envelope the
// generated client decodes. computePixels streams pixels with their own content
// type; JSON and error responses pass through untouched. At most maxBytes+1
// bytes are read so the client can reject oversized payloads.
type rawBodyTransport struct {
	base     http.RoundTripper
	maxBytes int64
}

func (t *rawBodyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, err
	}
	contentType := resp.Header.Get("Content-Type")
	if mediaType, _, _ := mime.ParseMediaType(contentType); mediaType == "application/json" {
		return resp, nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read raster payload: %w", err)
	}
	envelope, err := json.Marshal(&earthengine.HttpBody{
		ContentType: contentType,
		Data:        base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return nil, fmt.Errorf("wrap raster payload: %w", err)
	}

	resp.Header = resp.Header.Clone()
	resp.Header.Set("Content-Type", "application/json")
	resp.Header.Del("Content-Length")
	resp.ContentLength = int64(len(envelope))
	resp.Body = io.NopCloser(bytes.NewReader(envelope))
	return resp, nil
}
