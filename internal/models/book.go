// internal/models/book.go
package models

// CurrentFormatVersion is the newest book format ("savefile") this runtime can play.
const CurrentFormatVersion = 2

// MinFormatVersion is the oldest supported format. Version 1 never existed publicly.
const MinFormatVersion = 2

// Book is the serialized story document.
type Book struct {
	ID        string      `json:"id,omitempty"`
	IFID      string      `json:"ifid,omitempty"`
	Name      string      `json:"name"`
	Author    string      `json:"author,omitempty"`
	Blurb     string      `json:"blurb,omitempty"`
	Genres    []string    `json:"genres,omitempty"`
	Pages     []Page      `json:"pages"`
	StartPage string      `json:"startpage"`
	Savefile  *int        `json:"savefile"`        // format version, not a save game
	Cover     *TitlePage  `json:"cover,omitempty"` // title page descriptor; name kept for compatibility
	Theme     *Theme      `json:"theme,omitempty"`
	Media     MediaLookup `json:"media,omitempty"`
	Created   any         `json:"created,omitempty"`  // string or epoch number
	Modified  any         `json:"modified,omitempty"` // string or epoch number
	Public    bool        `json:"public,omitempty"`
}

// TitlePage describes the optional title page shown before the start page.
type TitlePage struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Author   string `json:"author,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
	Verb     string `json:"verb,omitempty"`
}

// Theme holds presentation hints passed through to the renderer untouched.
type Theme struct {
	BgColor   string `json:"bgColor,omitempty"`
	Font      string `json:"font,omitempty"`
	TextColor string `json:"textColor,omitempty"`
}

// MediaAsset is one uploaded image in its rendered sizes.
type MediaAsset struct {
	Medium    string `json:"medium"`
	Original  string `json:"original"`
	Thumbnail string `json:"thumbnail"`
}

// MediaLookup maps asset ids to their URLs.
type MediaLookup map[string]MediaAsset

// FindPage returns the page with the given id, or nil.
func (b *Book) FindPage(id string) *Page {
	if b == nil {
		return nil
	}
	for i := range b.Pages {
		if b.Pages[i].ID == id {
			return &b.Pages[i]
		}
	}
	return nil
}
