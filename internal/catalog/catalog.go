// Package catalog holds the read-only reference data the shop sells against:
// VPS plans, OS images, payment channels and coupons. It is loaded once from a
// YAML file at startup; management of this data lives outside this service.
package catalog

import (
	"fmt"
	"os"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

type Plan struct {
	ID           string  `yaml:"id"`
	Name         string  `yaml:"name"`
	CPU          int     `yaml:"cpu"`
	MemoryMB     int     `yaml:"memory_mb"`
	DiskGB       int     `yaml:"disk_gb"`
	Region       string  `yaml:"region"`
	MonthlyPrice float64 `yaml:"monthly_price"`
}

type Image struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Slug string `yaml:"slug"`
}

// PaymentChannel describes a gateway payment method and its fee structure.
// Fee = FlatFee + amount * PercentFee / 100, charged on top of the invoice.
type PaymentChannel struct {
	Code       string  `yaml:"code"`
	Name       string  `yaml:"name"`
	FlatFee    float64 `yaml:"flat_fee"`
	PercentFee float64 `yaml:"percent_fee"`
	Active     bool    `yaml:"active"`
}

type Coupon struct {
	Code       string  `yaml:"code"`
	PercentOff float64 `yaml:"percent_off"`
}

type Catalog struct {
	plans    map[string]Plan
	images   map[string]Image
	channels []PaymentChannel
	coupons  map[string]Coupon
}

type Document struct {
	Plans           []Plan           `yaml:"plans"`
	Images          []Image          `yaml:"images"`
	PaymentChannels []PaymentChannel `yaml:"payment_channels"`
	Coupons         []Coupon         `yaml:"coupons"`
}

// Load reads the catalog document from path.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}

	return New(doc)
}

func New(doc Document) (*Catalog, error) {
	if len(doc.Plans) == 0 {
		return nil, fmt.Errorf("catalog has no plans")
	}
	if len(doc.Images) == 0 {
		return nil, fmt.Errorf("catalog has no images")
	}

	c := &Catalog{
		plans:    make(map[string]Plan, len(doc.Plans)),
		images:   make(map[string]Image, len(doc.Images)),
		channels: doc.PaymentChannels,
		coupons:  make(map[string]Coupon, len(doc.Coupons)),
	}
	for _, p := range doc.Plans {
		c.plans[p.ID] = p
	}
	for _, img := range doc.Images {
		c.images[img.ID] = img
	}
	for _, coupon := range doc.Coupons {
		c.coupons[coupon.Code] = coupon
	}

	return c, nil
}

func (c *Catalog) Plan(id string) (Plan, bool) {
	p, ok := c.plans[id]
	return p, ok
}

func (c *Catalog) Image(id string) (Image, bool) {
	img, ok := c.images[id]
	return img, ok
}

func (c *Catalog) Coupon(code string) (Coupon, bool) {
	coupon, ok := c.coupons[code]
	return coupon, ok
}

// Channel returns an active payment channel by code.
func (c *Catalog) Channel(code string) (PaymentChannel, bool) {
	return lo.Find(c.channels, func(ch PaymentChannel) bool {
		return ch.Code == code && ch.Active
	})
}

// Channels lists the active payment channels.
func (c *Catalog) Channels() []PaymentChannel {
	return lo.Filter(c.channels, func(ch PaymentChannel, _ int) bool {
		return ch.Active
	})
}
