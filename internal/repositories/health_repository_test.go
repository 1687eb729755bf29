package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/h7-ecom/api/internal/domain"
)

func TestProbeHealthRepositoryAllHealthy(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewProbeHealthRepository([]Probe{
		{Name: "postgres", Check: func(context.Context) error { return nil }},
		{Name: "relay", Check: func(context.Context) error { return nil }},
	}, WithProbeClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}
	if report.GeneratedAt != now {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
}

func TestProbeHealthRepositoryDegraded(t *testing.T) {
	boom := errors.New("connection refused")
	repo, err := NewProbeHealthRepository([]Probe{
		{Name: "postgres", Check: func(context.Context) error { return boom }},
		{Name: "pubsub", Check: func(context.Context) error { return nil }},
	})
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if got := report.Checks["postgres"].Error; got != boom.Error() {
		t.Fatalf("expected error %q, got %q", boom.Error(), got)
	}
}

func TestProbeHealthRepositoryTimeout(t *testing.T) {
	repo, err := NewProbeHealthRepository([]Probe{{
		Name:    "redis",
		Timeout: 5 * time.Millisecond,
		Check: func(ctx context.Context) error {
			select {
			case <-time.After(50 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}})
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error status, got %s", report.Status)
	}
	if detail := report.Checks["redis"].Detail; detail != "timeout" {
		t.Fatalf("expected timeout detail, got %s", detail)
	}
}

func TestNewProbeHealthRepositoryRejectsInvalidProbes(t *testing.T) {
	if _, err := NewProbeHealthRepository(nil); err == nil {
		t.Fatalf("expected error for empty probe set")
	}
	if _, err := NewProbeHealthRepository([]Probe{{Name: "x"}}); err == nil {
		t.Fatalf("expected error for probe without check")
	}
}
