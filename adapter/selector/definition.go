// Package selector implements a storefront adapter driven entirely by CSS
// selectors, so a new shop with server-rendered pages needs configuration
// rather than code.
package selector

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Definition describes one storefront.
type Definition struct {
	Shop       string           `mapstructure:"shop" yaml:"shop"`
	BaseURL    string           `mapstructure:"base_url" yaml:"base_url"`
	Categories []Category       `mapstructure:"categories" yaml:"categories"`
	Location   LocationEndpoint `mapstructure:"location" yaml:"location"`
	Listing    ListingSelectors `mapstructure:"listing" yaml:"listing"`
	Detail     DetailSelectors  `mapstructure:"detail" yaml:"detail"`
	// MaxPages caps pagination per category; 0 follows next links until
	// they run out.
	MaxPages int `mapstructure:"max_pages" yaml:"max_pages"`
}

// Category is a named listing entry point.
type Category struct {
	Name string `mapstructure:"name" yaml:"name"`
	URL  string `mapstructure:"url" yaml:"url"`
}

// LocationEndpoint is where the delivery address is submitted. The form
// carries the fields city, address, lat and lon.
type LocationEndpoint struct {
	URL    string `mapstructure:"url" yaml:"url"`
	Method string `mapstructure:"method" yaml:"method"`
}

// ListingSelectors locate fields inside one product card of a listing page.
// All selectors except Item are relative to the card.
type ListingSelectors struct {
	Item     string `mapstructure:"item" yaml:"item"`
	ID       string `mapstructure:"id" yaml:"id"`
	IDAttr   string `mapstructure:"id_attr" yaml:"id_attr"`
	Name     string `mapstructure:"name" yaml:"name"`
	Price    string `mapstructure:"price" yaml:"price"`
	Link     string `mapstructure:"link" yaml:"link"`
	Photo    string `mapstructure:"photo" yaml:"photo"`
	Portion  string `mapstructure:"portion" yaml:"portion"`
	Kcal     string `mapstructure:"kcal" yaml:"kcal"`
	Protein  string `mapstructure:"protein" yaml:"protein"`
	Fat      string `mapstructure:"fat" yaml:"fat"`
	Carb     string `mapstructure:"carb" yaml:"carb"`
	Tags     string `mapstructure:"tags" yaml:"tags"`
	NextPage string `mapstructure:"next_page" yaml:"next_page"`
}

// DetailSelectors locate fields on a product page.
type DetailSelectors struct {
	Portion     string `mapstructure:"portion" yaml:"portion"`
	Kcal        string `mapstructure:"kcal" yaml:"kcal"`
	Protein     string `mapstructure:"protein" yaml:"protein"`
	Fat         string `mapstructure:"fat" yaml:"fat"`
	Carb        string `mapstructure:"carb" yaml:"carb"`
	Composition string `mapstructure:"composition" yaml:"composition"`
	Tags        string `mapstructure:"tags" yaml:"tags"`
	Photo       string `mapstructure:"photo" yaml:"photo"`
}

func (d DetailSelectors) empty() bool {
	return d == DetailSelectors{}
}

// Validate checks that the definition can drive a crawl.
func (d Definition) Validate() error {
	var errs []error
	if strings.TrimSpace(d.Shop) == "" {
		errs = append(errs, errors.New("shop name is required"))
	}
	if u, err := url.Parse(d.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("base_url %q must be an absolute URL", d.BaseURL))
	}
	if d.Listing.Item == "" || d.Listing.Name == "" {
		errs = append(errs, errors.New("listing.item and listing.name selectors are required"))
	}
	if len(d.Categories) == 0 {
		errs = append(errs, errors.New("at least one category is required"))
	}
	for i, c := range d.Categories {
		if c.Name == "" || c.URL == "" {
			errs = append(errs, fmt.Errorf("category %d needs both name and url", i))
		}
	}
	if d.MaxPages < 0 {
		errs = append(errs, errors.New("max_pages must not be negative"))
	}
	return errors.Join(errs...)
}
