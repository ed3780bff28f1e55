package assets

import "time"

// EntityType identifies what kind of library item an asset belongs to.
type EntityType string

const (
	EntityTypeMovie   EntityType = "movie"
	EntityTypeSeries  EntityType = "series"
	EntityTypeSeason  EntityType = "season"
	EntityTypeEpisode EntityType = "episode"
	EntityTypePerson  EntityType = "person"
)

// AssetType identifies the artwork slot a candidate competes for.
type AssetType string

const (
	AssetTypePoster     AssetType = "poster"
	AssetTypeFanart     AssetType = "fanart"
	AssetTypeBanner     AssetType = "banner"
	AssetTypeLogo       AssetType = "logo"
	AssetTypeThumb      AssetType = "thumb"
	AssetTypeActorThumb AssetType = "actor_thumb"
)

// Candidate is one piece of artwork offered by a provider for an entity.
// Structural fields (dimensions, hashes, alpha) are filled in after download.
type Candidate struct {
	ID              int64
	EntityType      EntityType
	EntityID        int64
	AssetType       AssetType
	URL             string
	FilePath        string
	Width           int
	Height          int
	Language        string
	Provider        string
	ProviderMeta    string
	ContentHash     string
	PerceptualHash  string
	DifferenceHash  string
	HasAlpha        bool
	ForegroundRatio float64
	Downloaded      bool
	Selected        bool
	Score           float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Area returns the pixel area, zero when dimensions are unknown.
func (c *Candidate) Area() int {
	if c.Width <= 0 || c.Height <= 0 {
		return 0
	}
	return c.Width * c.Height
}

// CacheEntry tracks one content-addressed file in the artwork cache.
type CacheEntry struct {
	ContentHash    string
	CachePath      string
	FileSizeBytes  int64
	ReferenceCount int
	CreatedAt      time.Time
}
