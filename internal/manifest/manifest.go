// Package manifest models the application/firmware bundle description fetched
// during registration. A manifest is immutable once fetched and is keyed in the
// cache by its source URL.
package manifest

import (
	"encoding/json"
	"fmt"
)

// ContentKind declares how a download item's body is decoded and canonically
// encoded for hashing.
type ContentKind string

const (
	ContentJSON   ContentKind = "json"
	ContentText   ContentKind = "text"
	ContentBinary ContentKind = "binary"
)

func (k *ContentKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch ContentKind(s) {
	case ContentJSON, ContentText, ContentBinary:
		*k = ContentKind(s)
		return nil
	}
	return fmt.Errorf("unsupported content type: %q", s)
}

// DownloadItem is one file of the application bundle.
type DownloadItem struct {
	Name        string      `json:"name"`
	URL         string      `json:"url"`
	ContentType ContentKind `json:"contentType,omitempty"`
	SHA256      string      `json:"sha256,omitempty"`
}

// Kind returns the item's content kind, defaulting to binary.
func (d DownloadItem) Kind() ContentKind {
	if d.ContentType == "" {
		return ContentBinary
	}
	return d.ContentType
}

// TMVersion pins the Thing Model version a manifest was built against.
type TMVersion struct {
	Instance string `json:"instance"`
	Model    string `json:"model"`
}

// TMRef points at the Thing Model the manifest's bundle implements.
type TMRef struct {
	Title   string    `json:"title,omitempty"`
	Href    string    `json:"href"`
	Version TMVersion `json:"version"`
}

// Manifest describes one application bundle: a non-empty ordered download list
// plus the Thing Model reference.
type Manifest struct {
	Download []DownloadItem `json:"download"`
	WoT      struct {
		TM TMRef `json:"tm"`
	} `json:"wot"`
}

// Parse schema-validates and decodes a fetched manifest document.
func Parse(raw []byte) (*Manifest, error) {
	if err := ValidateDocument(raw); err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("malformed manifest document: %w", err)
	}
	return &m, nil
}

// FileNames returns the logical names of every download item, in order.
func (m *Manifest) FileNames() []string {
	names := make([]string, len(m.Download))
	for i, item := range m.Download {
		names[i] = item.Name
	}
	return names
}
