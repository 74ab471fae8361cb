package domain

// CatalogEntry is a published workshop document and the image it runs.
type CatalogEntry struct {
	ID          string `json:"id" yaml:"id"`
	Image       string `json:"image" yaml:"image"`
	ImageDigest string `json:"image_digest" yaml:"image_digest"`
}
