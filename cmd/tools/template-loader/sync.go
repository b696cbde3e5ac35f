package main

import (
	"context"
	"fmt"

	"portal-mailer/internal/email"
	"portal-mailer/pkg/registry"
)

type templateWriter interface {
	Upsert(ctx context.Context, t email.Template) error
	DeactivateExcept(ctx context.Context, keep []string) ([]string, error)
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, names ...string) error
}

type syncReport struct {
	Upserted    []string
	Deactivated []string
}

// syncTemplates writes every registry template to the store and, with prune,
// deactivates stored templates the registry no longer lists. Cached copies of
// every touched template are dropped afterwards.
func syncTemplates(ctx context.Context, store templateWriter, cache cacheInvalidator, reg *registry.TemplateRegistry, prune bool) (*syncReport, error) {
	report := &syncReport{}

	for _, t := range reg.ToTemplates() {
		if err := store.Upsert(ctx, t); err != nil {
			return report, err
		}
		report.Upserted = append(report.Upserted, t.Name)
	}

	if prune {
		deactivated, err := store.DeactivateExcept(ctx, reg.Names())
		if err != nil {
			return report, err
		}
		report.Deactivated = deactivated
	}

	if cache != nil {
		touched := append(append([]string{}, report.Upserted...), report.Deactivated...)
		if err := cache.Invalidate(ctx, touched...); err != nil {
			return report, fmt.Errorf("invalidate template cache: %w", err)
		}
	}

	return report, nil
}
