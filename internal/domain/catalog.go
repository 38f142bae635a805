package domain

// SizeOption is a preset print size offered by the catalog.
type SizeOption struct {
	WidthCm  float64
	HeightCm float64
	Label    string
	Ratio    string
}

// Swatch is a named colour offered for frames or mattes.
type Swatch struct {
	Name  string
	Value string
}

// Option describes a selectable material or glass tier.
type Option struct {
	ID          string
	Name        string
	Description string
}

// Artwork is an entry of the curated art library.
type Artwork struct {
	ID    string
	Title string
	URL   string
	Ratio string
}
