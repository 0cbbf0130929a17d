package idx

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rules is the declarative part of extraction: ordered selector candidates
// per field plus the word lists the validators and image filter use.
// A selector may end in "@attr" to read an attribute instead of text.
type Rules struct {
	Address []string `yaml:"address"`
	Price   []string `yaml:"price"`
	Beds    []string `yaml:"beds"`
	Baths   []string `yaml:"baths"`
	Sqft    []string `yaml:"sqft"`
	MLSID   []string `yaml:"mls_id"`

	// MLSParams are URL query parameters checked, in order, before the DOM.
	MLSParams []string `yaml:"mls_params"`
	// Boilerplate phrases that disqualify an address or a title.
	Boilerplate []string `yaml:"boilerplate"`
	// PhotoHints mark an image (URL, alt text or ancestor class) as a listing photo.
	PhotoHints []string `yaml:"photo_hints"`
	// ImageExcludes drop an image outright.
	ImageExcludes []string `yaml:"image_excludes"`

	MinAddressLength int `yaml:"min_address_length"`
	MaxImages        int `yaml:"max_images"`
}

// DefaultRules covers the iHomeFinder widget markup and the common
// schema.org fallbacks.
func DefaultRules() Rules {
	return Rules{
		Address: []string{
			".ihf-address",
			".ihf-detail-address",
			"[data-ihf-address]",
			".listing-address",
			".property-address",
			"[itemprop='streetAddress']",
			"h1.address",
		},
		Price: []string{
			".ihf-price",
			".ihf-detail-price",
			"[data-ihf-price]",
			".listing-price",
			".property-price",
			"[itemprop='price']@content",
			".price",
		},
		Beds: []string{
			".ihf-beds",
			".ihf-detail-beds",
			"[data-ihf-beds]",
			".listing-beds",
			".beds",
			"[itemprop='numberOfRooms']",
		},
		Baths: []string{
			".ihf-baths",
			".ihf-detail-baths",
			"[data-ihf-baths]",
			".listing-baths",
			".baths",
		},
		Sqft: []string{
			".ihf-sqft",
			".ihf-detail-sqft",
			"[data-ihf-sqft]",
			".listing-sqft",
			".sqft",
			"[itemprop='floorSize']",
		},
		MLSID: []string{
			".ihf-mls-number",
			".ihf-listing-number",
			"[data-ihf-mls]",
			"[data-mls-id]@data-mls-id",
			".mls-number",
			".listing-id",
		},
		MLSParams: []string{"id", "mlsId", "listingId"},
		Boilerplate: []string{
			"welcome", "sign in", "sign up", "log in", "login", "register",
			"search", "menu", "home", "loading", "property details",
			"contact", "my account", "saved searches",
		},
		PhotoHints:       []string{"photo", "gallery", "carousel", "slide", "listing", "property", "ihf", "mls", "idx"},
		ImageExcludes:    []string{"logo", "icon", "sprite", "avatar"},
		MinAddressLength: 10,
		MaxImages:        20,
	}
}

// LoadRules reads a YAML rules file over the defaults. A non-empty list in
// the file replaces the default list for that field; absent keys keep the
// defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("selectors: read %q: %w", path, err)
	}

	var file Rules
	if err := yaml.Unmarshal(b, &file); err != nil {
		return rules, fmt.Errorf("selectors: parse %q: %w", path, err)
	}
	return rules.Merge(file), nil
}

// Merge returns r with every non-empty setting of o applied.
func (r Rules) Merge(o Rules) Rules {
	pick := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = src
		}
	}
	pick(&r.Address, o.Address)
	pick(&r.Price, o.Price)
	pick(&r.Beds, o.Beds)
	pick(&r.Baths, o.Baths)
	pick(&r.Sqft, o.Sqft)
	pick(&r.MLSID, o.MLSID)
	pick(&r.MLSParams, o.MLSParams)
	pick(&r.Boilerplate, o.Boilerplate)
	pick(&r.PhotoHints, o.PhotoHints)
	pick(&r.ImageExcludes, o.ImageExcludes)
	if o.MinAddressLength > 0 {
		r.MinAddressLength = o.MinAddressLength
	}
	if o.MaxImages > 0 {
		r.MaxImages = o.MaxImages
	}
	return r
}

func (r Rules) selectors(f Field) []string {
	switch f {
	case FieldAddress:
		return r.Address
	case FieldPrice:
		return r.Price
	case FieldBeds:
		return r.Beds
	case FieldBaths:
		return r.Baths
	case FieldSqft:
		return r.Sqft
	case FieldMLSID:
		return r.MLSID
	}
	return nil
}
