package domain_test

import (
	"errors"
	"testing"

	"github.com/evetabi/contract/internal/domain"
	"github.com/google/uuid"
)

func TestDefaultSchedule(t *testing.T) {
	s := domain.DefaultSchedule()
	opts := s.Options()
	if len(opts) != 9 {
		t.Fatalf("options = %d, want 9", len(opts))
	}
	for i := 1; i < len(opts); i++ {
		if opts[i-1].Duration >= opts[i].Duration {
			t.Errorf("options not sorted at %d: %d >= %d", i, opts[i-1].Duration, opts[i].Duration)
		}
	}

	p, ok := s.ProfitabilityFor(30)
	if !ok || !p.Equal(dec("20")) {
		t.Errorf("30s profitability = %s (%v), want 20", p, ok)
	}
	p, ok = s.ProfitabilityFor(620)
	if !ok || !p.Equal(dec("90")) {
		t.Errorf("620s profitability = %s (%v), want 90", p, ok)
	}
}

func TestScheduleCheck(t *testing.T) {
	s := domain.DefaultSchedule()

	if err := s.Check(60, dec("25")); err != nil {
		t.Errorf("60s/25%% should pass, got %v", err)
	}
	if err := s.Check(45, dec("25")); !domain.IsValidation(err) {
		t.Errorf("45s should be a validation error, got %v", err)
	}

	err := s.Check(60, dec("30"))
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if ve.Field != "profitability" {
		t.Errorf("field = %q, want profitability", ve.Field)
	}
}

func TestNewScheduleRejectsBadInput(t *testing.T) {
	bad := [][]domain.DurationOption{
		nil,
		{{Duration: 0, Profitability: dec("10")}},
		{{Duration: 30, Profitability: dec("-1")}},
		{{Duration: 30, Profitability: dec("100")}},
		{{Duration: 30, Profitability: dec("10")}, {Duration: 30, Profitability: dec("20")}},
	}
	for i, opts := range bad {
		if _, err := domain.NewSchedule(opts); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestErrorPredicates(t *testing.T) {
	wrapped := errors.Join(errors.New("ctx"), domain.ErrPositionNotFound)
	if !domain.IsNotFound(wrapped) {
		t.Error("IsNotFound should see through errors.Join")
	}
	if !domain.IsConflict(domain.ErrOpenPositionExists) {
		t.Error("ErrOpenPositionExists should be a conflict")
	}
	if domain.IsConflict(domain.ErrInsufficientBalance) {
		t.Error("ErrInsufficientBalance is not a conflict")
	}

	f := domain.SettlementFailure{PositionID: uuid.New(), Err: domain.ErrTransientStorage}
	if !f.Retryable() {
		t.Error("transient failure should be retryable")
	}
	if !domain.IsTransient(f) {
		t.Error("IsTransient should unwrap SettlementFailure")
	}
}
