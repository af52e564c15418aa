package ride

type MapType string

const (
	MapStandard  MapType = "standard"
	MapSatellite MapType = "satellite"
	MapHybrid    MapType = "hybrid"
)

// Tint is the accent color used for the controls drawn over the map.
type Tint string

const (
	TintDefault Tint = "default"
	TintWhite   Tint = "white"
)

type MapMode struct {
	Selector int     `json:"selector"`
	Type     MapType `json:"type"`
	Tint     Tint    `json:"tint"`
}

var mapModes = [...]MapMode{
	{Selector: 0, Type: MapStandard, Tint: TintDefault},
	{Selector: 1, Type: MapSatellite, Tint: TintWhite},
	{Selector: 2, Type: MapHybrid, Tint: TintWhite},
}

func MapModeFor(selector int) (MapMode, error) {
	if selector < 0 || selector >= len(mapModes) {
		return MapMode{}, ErrInvalidMapMode
	}
	return mapModes[selector], nil
}
