package search

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/memvault/internal/model"
)

const (
	ScopeSelf = "self"

	DefaultMaxTargets     = 25
	DefaultPerTargetLimit = 5
	DefaultMaxTotal       = 20
	fanOut                = 4
)

// ManyRequest searches several users on behalf of Actor.
type ManyRequest struct {
	Actor   string
	Targets []string
	Query   string
	// Allowed is the tier set the caller grants across targets.
	Allowed        model.CategorySet
	Scope          string
	PerTargetLimit int
	MaxTotal       int
}

// Hit is a Result attributed to the user it came from.
type Hit struct {
	Result
	SourceUser string `json:"source_user"`
}

// Aggregator fans one query out across users.
type Aggregator struct {
	engine     *Engine
	maxTargets int
}

// NewAggregator wraps engine. maxTargets bounds how many users one call
// may touch; <= 0 uses DefaultMaxTargets.
func NewAggregator(engine *Engine, maxTargets int) *Aggregator {
	if maxTargets <= 0 {
		maxTargets = DefaultMaxTargets
	}
	return &Aggregator{engine: engine, maxTargets: maxTargets}
}

// SearchMany runs the query against each target and merges the hits.
// Outside the "self" scope ULTRA_SECRET is never searched.
func (a *Aggregator) SearchMany(ctx context.Context, req ManyRequest) ([]Hit, error) {
	allowed := req.Allowed
	if allowed == nil {
		allowed = model.BaselineCategories()
	}
	if req.Scope != ScopeSelf {
		allowed = allowed.Without(model.UltraSecret)
	}
	perTarget := req.PerTargetLimit
	if perTarget <= 0 {
		perTarget = DefaultPerTargetLimit
	}
	maxTotal := req.MaxTotal
	if maxTotal <= 0 {
		maxTotal = DefaultMaxTotal
	}

	targets := a.targets(req.Targets)
	perUser := make([][]Result, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)
	for i, u := range targets {
		g.Go(func() error {
			res, err := a.engine.Search(gctx, Query{
				UserID:  u,
				Text:    req.Query,
				Limit:   perTarget,
				Allowed: allowed,
			})
			if err != nil {
				return err
			}
			perUser[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var hits []Hit
	for i, res := range perUser {
		for _, r := range res {
			hits = append(hits, Hit{Result: r, SourceUser: targets[i]})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Timestamp.After(hits[j].Timestamp)
	})
	if len(hits) > maxTotal {
		hits = hits[:maxTotal]
	}

	a.engine.log.Debug().
		Str("actor", req.Actor).
		Str("scope", req.Scope).
		Int("targets", len(targets)).
		Int("hits", len(hits)).
		Msg("search_many")
	return hits, nil
}

// targets drops blanks and duplicates and enforces the target bound.
func (a *Aggregator) targets(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, u := range in {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
		if len(out) == a.maxTargets {
			break
		}
	}
	return out
}
