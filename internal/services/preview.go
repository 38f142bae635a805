package services

import domain "github.com/pv-frame/api/internal/domain"

type planeSize struct{ width, height float64 }

var artPlanes = map[string]planeSize{
	"1:1":  {3, 3},
	"2:3":  {2, 3},
	"3:2":  {4.5, 3},
	"4:5":  {3.2, 4},
	"16:9": {4, 2.25},
}

var defaultArtPlane = planeSize{3, 4}

// PreviewGeometry converts a configuration into scene units for the 3D preview.
// Frame measurements are millimetres / 100 and the matte is centimetres / 10; a disabled matte is 0.
func PreviewGeometry(cfg Configuration) domain.PreviewGeometry {
	plane, ok := artPlanes[cfg.Art.Ratio]
	if !ok {
		plane = defaultArtPlane
	}
	geometry := domain.PreviewGeometry{
		ArtWidth:       plane.width,
		ArtHeight:      plane.height,
		FrameThickness: float64(cfg.Frame.ThicknessMm) / 100,
		FrameDepth:     float64(cfg.Frame.DepthMm) / 100,
		FrameColor:     cfg.Frame.Color,
		MatteColor:     cfg.Matte.Color,
	}
	if cfg.Matte.Enabled {
		geometry.MatteWidth = float64(cfg.Matte.WidthCm) / 10
	}
	return geometry
}
