package ics

import (
	"context"
	"fmt"
	"time"

	"ttcal/internal/model"
)

// TimetableOptions configures a TimetableSource.
type TimetableOptions struct {
	Source Source
	// User is the viewing user's display name attached to every snapshot.
	User string

	Location     *time.Location
	HorizonDays  int
	BackfillDays int

	// Now defaults to time.Now.
	Now func() time.Time
}

// TimetableSource produces reconciliation snapshots from an ICS timetable
// feed.
type TimetableSource struct {
	fetcher *Fetcher
	opts    TimetableOptions
}

func NewTimetableSource(fetcher *Fetcher, opts TimetableOptions) *TimetableSource {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 28
	}
	if opts.BackfillDays < 0 {
		opts.BackfillDays = 0
	}
	return &TimetableSource{fetcher: fetcher, opts: opts}
}

// Fetch downloads, parses and expands the feed into a Snapshot.
func (s *TimetableSource) Fetch(ctx context.Context) (model.Snapshot, error) {
	res, err := s.fetcher.FetchOne(ctx, s.opts.Source)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("fetch %s: %w", s.opts.Source.ID, err)
	}

	parsed, err := ParseICS(res.Source, res.Body)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("parse %s: %w", s.opts.Source.ID, err)
	}

	now := s.opts.Now().In(s.opts.Location)
	expanded, err := ExpandOccurrences(parsed, ExpandConfig{
		DisplayLocation: s.opts.Location,
		RangeStart:      now.AddDate(0, 0, -s.opts.BackfillDays),
		RangeEnd:        now.AddDate(0, 0, s.opts.HorizonDays),
	})
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("expand %s: %w", s.opts.Source.ID, err)
	}

	return model.Snapshot{
		SourceID:  s.opts.Source.URL,
		UserID:    s.opts.User,
		Entries:   expanded.Entries,
		FetchedAt: now,
	}, nil
}
