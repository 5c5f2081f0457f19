package model

// Area is a hierarchical container of sub-areas, assets and potentials.
// The root of an energy system is a single Area with an empty ParentID.
type Area struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ParentID     string    `json:"parentId,omitempty"`
	SubAreaIDs   []string  `json:"subAreas,omitempty"`
	AssetIDs     []string  `json:"assets,omitempty"`
	PotentialIDs []string  `json:"potentials,omitempty"`
	Geometry     *Geometry `json:"geometry,omitempty"`
}

// Clone returns a deep copy of the area.
func (a *Area) Clone() *Area {
	if a == nil {
		return nil
	}
	out := *a
	out.SubAreaIDs = append([]string(nil), a.SubAreaIDs...)
	out.AssetIDs = append([]string(nil), a.AssetIDs...)
	out.PotentialIDs = append([]string(nil), a.PotentialIDs...)
	out.Geometry = a.Geometry.Clone()
	return &out
}

// EnergySystem identifies one loaded model.
type EnergySystem struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	RootAreaID string `json:"rootAreaId"`
}
