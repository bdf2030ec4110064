package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	appLog "daybook/internal/log"
	"daybook/internal/model"
)

// SeedFile is the YAML import format.
//
//	timezone: Europe/Rome
//	events:
//	  - id: standup
//	    title: Standup
//	    start: 2024-05-13T09:00:00+02:00
//	    end: 2024-05-13T09:15:00+02:00
//	    recurrence: {frequency: weekly, interval: 1, days_of_week: [1, 3, 5]}
//	payments:
//	  - id: rent
//	    title: Rent
//	    amount_cents: 90000
//	    due_date: 2024-06-01T00:00:00+02:00
//	    recurrence: {frequency: monthly, interval: 1}
type SeedFile struct {
	// Timezone names the zone recurring items are expanded in. YAML
	// timestamps only carry an offset.
	Timezone string          `yaml:"timezone"`
	Events   []model.Event   `yaml:"events"`
	Payments []model.Payment `yaml:"payments"`
}

type SeedResult struct {
	Events   int
	Payments int
}

// Seed imports a SeedFile in one transaction. Any invalid entry aborts the
// whole import. def is used when the file names no timezone.
func (s *Store) Seed(ctx context.Context, r io.Reader, def *time.Location) (SeedResult, error) {
	var res SeedResult

	var file SeedFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return res, fmt.Errorf("decode seed: %w", err)
	}

	loc := def
	if loc == nil {
		loc = time.UTC
	}
	if file.Timezone != "" {
		l, err := time.LoadLocation(file.Timezone)
		if err != nil {
			return res, fmt.Errorf("seed timezone: %w", err)
		}
		loc = l
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	for _, ev := range file.Events {
		ev.Start = ev.Start.In(loc)
		ev.End = ev.End.In(loc)
		if err := saveEvent(ctx, tx, ev); err != nil {
			return res, fmt.Errorf("seed event %q: %w", ev.ID, err)
		}
		res.Events++
	}
	for _, p := range file.Payments {
		p.DueDate = p.DueDate.In(loc)
		if err := savePayment(ctx, tx, p); err != nil {
			return res, fmt.Errorf("seed payment %q: %w", p.ID, err)
		}
		res.Payments++
	}

	if err := tx.Commit(); err != nil {
		return SeedResult{}, fmt.Errorf("commit seed: %w", err)
	}
	appLog.Info("seed imported", "events", res.Events, "payments", res.Payments, "tz", loc.String())
	return res, nil
}
