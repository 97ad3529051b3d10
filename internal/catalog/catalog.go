// Package catalog registers the entity types served by datagate.
package catalog

import (
	"time"

	"github.com/and161185/datagate/internal/entity"
)

// Type names.
const (
	TypeCountry = "Country"
	TypeCity    = "City"
)

// Country is a sample reference type.
type Country struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Code       string    `json:"code"`
	Population int64     `json:"population"`
	AreaKm2    float64   `json:"areaKm2"`
	UNMember   bool      `json:"unMember"`
	Founded    time.Time `json:"founded"`
	entity.Timestamps
}

func (c *Country) Key() string                { return c.ID }
func (c *Country) SetKey(id string)           { c.ID = id }
func (c *Country) Stamps() *entity.Timestamps { return &c.Timestamps }

// City belongs to a country by id. It is a system type: Admin gets no
// implicit All on it, only SiteAdmin or explicit claims do.
type City struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CountryID  string `json:"countryId"`
	Population int64  `json:"population"`
	entity.Timestamps
}

func (c *City) Key() string                { return c.ID }
func (c *City) SetKey(id string)           { c.ID = id }
func (c *City) Stamps() *entity.Timestamps { return &c.Timestamps }

// Register adds every catalog type to r.
func Register(r *entity.Registry) error {
	if err := r.Register(countryDescriptor()); err != nil {
		return err
	}
	return r.Register(cityDescriptor())
}

func countryDescriptor() entity.Descriptor {
	return entity.Descriptor{
		Name: TypeCountry,
		New:  func() entity.Entity { return &Country{} },
		Fields: []entity.FieldAccessor{
			entity.StringField("Name", true,
				func(c *Country) string { return c.Name }, func(c *Country, v string) { c.Name = v }),
			entity.StringField("Code", true,
				func(c *Country) string { return c.Code }, func(c *Country, v string) { c.Code = v }),
			entity.IntField("Population", false,
				func(c *Country) int64 { return c.Population }, func(c *Country, v int64) { c.Population = v }),
			entity.FloatField("AreaKm2", false,
				func(c *Country) float64 { return c.AreaKm2 }, func(c *Country, v float64) { c.AreaKm2 = v }),
			entity.BoolField("UNMember", false,
				func(c *Country) bool { return c.UNMember }, func(c *Country, v bool) { c.UNMember = v }),
			entity.TimeField("Founded", true,
				func(c *Country) time.Time { return c.Founded }, func(c *Country, v time.Time) { c.Founded = v }),
		},
	}
}

func cityDescriptor() entity.Descriptor {
	return entity.Descriptor{
		Name:   TypeCity,
		System: true,
		New:    func() entity.Entity { return &City{} },
		Fields: []entity.FieldAccessor{
			entity.StringField("Name", true,
				func(c *City) string { return c.Name }, func(c *City, v string) { c.Name = v }),
			entity.StringField("CountryID", false,
				func(c *City) string { return c.CountryID }, func(c *City, v string) { c.CountryID = v }),
			entity.IntField("Population", false,
				func(c *City) int64 { return c.Population }, func(c *City, v int64) { c.Population = v }),
		},
	}
}
