// Copyright © 2025-2026 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package db

import (
	"context"
	"time"

	"github.com/go-core-stack/throttle/errors"
	"github.com/go-core-stack/throttle/rate"
)

// Profile is a named set of rate parameters, applied to the limiter
// registered under the same name
type Profile struct {
	Name           string    `bson:"_id" json:"name" yaml:"name"`
	BytesPerSecond int64     `bson:"bytesPerSecond" json:"bytesPerSecond" yaml:"bytesPerSecond"`
	MinTake        int64     `bson:"minTake" json:"minTake" yaml:"minTake"`
	MaxTake        int64     `bson:"maxTake" json:"maxTake" yaml:"maxTake"`
	UpdatedAt      time.Time `bson:"updatedAt" json:"updatedAt" yaml:"updatedAt"`
}

// profileData is the updatable part of a profile, the key is stored as _id
type profileData struct {
	BytesPerSecond int64     `bson:"bytesPerSecond"`
	MinTake        int64     `bson:"minTake"`
	MaxTake        int64     `bson:"maxTake"`
	UpdatedAt      time.Time `bson:"updatedAt"`
}

// Validate checks the same constraints the allocator enforces
func (p *Profile) Validate() error {
	if p.Name == "" {
		return errors.Wrap(errors.InvalidArgument, "profile name must not be empty")
	}
	if p.BytesPerSecond < 0 {
		return errors.Wrapf(errors.InvalidArgument, "profile %q: bytesPerSecond must be >= 0", p.Name)
	}
	if p.MinTake <= 0 {
		return errors.Wrapf(errors.InvalidArgument, "profile %q: minTake must be > 0", p.Name)
	}
	if p.MaxTake < p.MinTake {
		return errors.Wrapf(errors.InvalidArgument, "profile %q: maxTake must be >= minTake", p.Name)
	}
	return nil
}

// ProfileTable stores rate profiles keyed by name
type ProfileTable struct {
	col StoreCollection
	now func() time.Time
}

// NewProfileTable returns a table on top of an arbitrary collection
func NewProfileTable(col StoreCollection) *ProfileTable {
	return &ProfileTable{col: col}
}

func (t *ProfileTable) timestamp() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now().UTC()
}

// Upsert validates and stores the profile, replacing any previous version
func (t *ProfileTable) Upsert(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdatedAt = t.timestamp()
	return t.col.UpdateOne(ctx, p.Name, &profileData{
		BytesPerSecond: p.BytesPerSecond,
		MinTake:        p.MinTake,
		MaxTake:        p.MaxTake,
		UpdatedAt:      p.UpdatedAt,
	}, true)
}

// Find returns the profile stored under name
func (t *ProfileTable) Find(ctx context.Context, name string) (*Profile, error) {
	p := &Profile{}
	if err := t.col.FindOne(ctx, name, p); err != nil {
		return nil, err
	}
	return p, nil
}

// List returns all stored profiles ordered by name
func (t *ProfileTable) List(ctx context.Context) ([]*Profile, error) {
	var list []*Profile
	if err := t.col.FindMany(ctx, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Delete removes the profile stored under name
func (t *ProfileTable) Delete(ctx context.Context, name string) error {
	return t.col.DeleteOne(ctx, name)
}

// Apply registers a limiter for every stored profile, or reconfigures the
// limiter if one with the same name already exists. Invalid profiles are
// skipped and reported in the returned slice.
func (t *ProfileTable) Apply(ctx context.Context, mgr *rate.LimitManager) ([]string, error) {
	list, err := t.List(ctx)
	if err != nil {
		return nil, err
	}
	var skipped []string
	for _, p := range list {
		if err := p.Validate(); err != nil {
			skipped = append(skipped, p.Name)
			continue
		}
		err := mgr.Configure(p.Name, p.BytesPerSecond, p.MinTake, p.MaxTake)
		if errors.IsNotFound(err) {
			_, err = mgr.NewLimiter(p.Name, p.BytesPerSecond, p.MinTake, p.MaxTake)
		}
		if err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}
