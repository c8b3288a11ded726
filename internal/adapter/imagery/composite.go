package imagery

import (
	"time"

	earthengine "google.golang.org/api/earthengine/v1"

	"github.com/couchcryptid/fire-perimeter-service/internal/domain"
	"github.com/couchcryptid/fire-perimeter-service/internal/raster"
)

// Sentinel-2 surface reflectance compositing parameters.
const (
	SurfaceReflectance = "COPERNICUS/S2_SR"
	CloudProperty      = "CLOUDY_PIXEL_PERCENTAGE"
	QualityBand        = "QA60"
	CloudBit           = 10
	CirrusBit          = 11
	ReflectanceScale   = 10000
)

// Ancillary layers used by the classification rule.
const (
	LandCoverCollection = "ESA/WorldCover/v100"
	LandCoverBand       = "Map"
	ElevationImage      = "NASA/NASADEM_HGT/001"
	ElevationBand       = "elevation"
)

// WorldCover classes that are never burned area: built-up (50), snow and ice (70), permanent water (80).
const (
	LandCoverBuiltUp  = 50
	LandCoverSnowIce  = 70
	LandCoverWater    = 80
	MaxFireElevationM = 1500
)

// FireRule marks pixels where shortwave infrared dominates, excluding
// non-burnable land cover and high terrain. The assignment names the output band.
const FireRule = raster.FireBand + " = R > G && R > B && LC != 80 && LC != 50 && LC != 70 && DEM < 1500"

// PreviewBands are the false-colour preview bands (SWIR2, SWIR1, water vapour).
var PreviewBands = []string{"B12", "B11", "B9"}

// Composite is a cloud-masked mean of surface reflectance scenes over a date window.
// Scenes with CloudProperty at or above MaxCloudCover are dropped, then pixels
// whose QualityBand has any MaskBits set are masked, reflectance is divided by
// Scale, and the remaining pixels are averaged.
type Composite struct {
	Collection    string
	Start         string
	End           string
	CloudProperty string
	MaxCloudCover float64
	MaskBand      string
	MaskBits      []int
	Scale         float64
}

// NewComposite builds the composite for [start, start+windowDays].
func NewComposite(start time.Time, windowDays int, cloudCover float64) Composite {
	start = domain.CivilDate(start)
	return Composite{
		Collection:    SurfaceReflectance,
		Start:         domain.FormatDate(start),
		End:           domain.FormatDate(start.AddDate(0, 0, windowDays)),
		CloudProperty: CloudProperty,
		MaxCloudCover: cloudCover,
		MaskBand:      QualityBand,
		MaskBits:      []int{CloudBit, CirrusBit},
		Scale:         ReflectanceScale,
	}
}

// mapVar is the argument name of the per-image cloud mask function.
const mapVar = "_MAPPING_VAR_0_0"

// expressionImageArg is the implicit image argument of Image.parseExpression.
const expressionImageArg = "DEFAULT_EXPRESSION_IMAGE"

// node builds load, filterDate, cloud filter, per-image QA mask and mean.
func (c Composite) node(g *graph) *earthengine.ValueNode {
	col := invoke("ImageCollection.load", args{"id": constant(c.Collection)})
	col = invoke("Collection.filter", args{
		"collection": col,
		"filter": invoke("Filter.dateRangeContains", args{
			"leftValue": invoke("DateRange", args{
				"start": invoke("Date", args{"value": constant(c.Start)}),
				"end":   invoke("Date", args{"value": constant(c.End)}),
			}),
			"rightField": constant("system:time_start"),
		}),
	})
	col = invoke("Collection.filter", args{
		"collection": col,
		"filter": invoke("Filter.lessThan", args{
			"leftField":  constant(c.CloudProperty),
			"rightValue": constant(c.MaxCloudCover),
		}),
	})
	col = invoke("Collection.map", args{
		"collection":    col,
		"baseAlgorithm": c.maskFunction(g),
	})
	return invoke("reduce.mean", args{"collection": col})
}

// maskFunction masks pixels with any quality bit set and scales reflectance.
func (c Composite) maskFunction(g *graph) *earthengine.ValueNode {
	image := argument(mapVar)
	qa := selectBands(image, c.MaskBand)

	var unmasked *earthengine.ValueNode
	for _, bit := range c.MaskBits {
		bitClear := imageOp("eq", imageOp("bitwiseAnd", qa, imageConstant(1<<bit)), imageConstant(0))
		if unmasked == nil {
			unmasked = bitClear
		} else {
			unmasked = imageOp("and", unmasked, bitClear)
		}
	}
	if unmasked != nil {
		image = invoke("Image.updateMask", args{"image": image, "mask": unmasked})
	}
	body := imageOp("divide", image, imageConstant(c.Scale))
	return function(g, []string{mapVar}, body)
}

// FireClassification returns a single-band request where 1 marks burned area.
// The band is returned as raw samples with no visualization so pixel values
// reach the decoder unchanged. There is no confidence score and an empty
// composite is not guarded against.
func FireClassification(c Composite) Request {
	g := newGraph()
	data := g.ref(c.node(g))

	landCover := selectBands(
		invoke("Collection.first", args{"collection": invoke("ImageCollection.load", args{"id": constant(LandCoverCollection)})}),
		LandCoverBand)
	dem := selectBands(invoke("Image.load", args{"id": constant(ElevationImage)}), ElevationBand)

	rule := g.add(invoke("Image.parseExpression", args{
		"expression": constant(FireRule),
		"argName":    constant(expressionImageArg),
		"vars":       stringList(expressionImageArg, "R", "G", "B", "LC", "DEM"),
	}))
	fire := call(rule, args{
		expressionImageArg: data,
		"R":                selectBands(data, "B12"),
		"G":                selectBands(data, "B11"),
		"B":                selectBands(data, "B9"),
		"LC":               landCover,
		"DEM":              dem,
	})

	return Request{
		Kind:       KindClassification,
		Expression: g.expression(fire),
		Bands:      []string{raster.FireBand},
		Format:     FormatNPY,
	}
}

// RGBComposite returns the false-colour preview rendered to 8 bits over reflectance [0, 1].
func RGBComposite(c Composite) Request {
	g := newGraph()
	ranges := make([]*earthengine.DoubleRange, len(PreviewBands))
	for i := range ranges {
		ranges[i] = &earthengine.DoubleRange{Min: 0, Max: 1, ForceSendFields: []string{"Min"}}
	}
	return Request{
		Kind:          KindPreview,
		Expression:    g.expression(c.node(g)),
		Bands:         append([]string(nil), PreviewBands...),
		Format:        FormatGeoTIFF,
		Visualization: &earthengine.VisualizationOptions{Ranges: ranges},
	}
}
