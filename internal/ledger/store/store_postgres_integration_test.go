//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"lifetag/internal/ledger/models"
	"lifetag/internal/ledger/store"
	id "lifetag/pkg/domain"
	"lifetag/pkg/platform/sentinel"
	"lifetag/pkg/testutil/containers"
)

type PostgresLedgerSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	owner    id.AccountID
	base     time.Time
}

func TestPostgresLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresLedgerSuite))
}

func (s *PostgresLedgerSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresLedgerSuite) SetupTest() {
	// TRUNCATE bypasses the row-level immutability trigger.
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_entries"))
	s.owner = id.AccountID(uuid.New())
	s.base = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
}

func (s *PostgresLedgerSuite) entry(offset time.Duration, outcome models.Outcome, fields ...string) models.Entry {
	owner := s.owner
	profile := id.NewProfileID()
	return models.Entry{
		ID:              id.NewAuditEntryID(),
		TagID:           "T1",
		ProfileID:       &profile,
		OwnerID:         &owner,
		Outcome:         outcome,
		DisclosedFields: fields,
		FieldTiers:      map[string]string{"bloodType": "public"},
		Origin:          "203.0.113.0/24",
		UserAgentClass:  "mobile/Safari",
		RequestID:       "req-1",
		Timestamp:       s.base.Add(offset),
	}
}

func (s *PostgresLedgerSuite) TestAppendAndPage() {
	ctx := context.Background()
	for i := range 4 {
		s.Require().NoError(s.store.Append(ctx, s.entry(time.Duration(i)*time.Minute, models.OutcomeGranted, "bloodType")))
	}
	s.Require().NoError(s.store.Append(ctx, s.entry(10*time.Minute, models.OutcomeDeniedSuspended)))

	first, err := s.store.Page(ctx, s.owner, models.Filter{Outcomes: []models.Outcome{models.OutcomeGranted}}, nil, 3)
	s.Require().NoError(err)
	s.Require().Len(first, 3)
	s.Equal(s.base.Add(3*time.Minute), first[0].Timestamp)
	s.Equal("public", first[0].FieldTiers["bloodType"])

	rest, err := s.store.Page(ctx, s.owner, models.Filter{Outcomes: []models.Outcome{models.OutcomeGranted}}, models.CursorOf(first[2]), 3)
	s.Require().NoError(err)
	s.Require().Len(rest, 1)
	s.Equal(s.base, rest[0].Timestamp)

	byField, err := s.store.Page(ctx, s.owner, models.Filter{Query: "BLOOD"}, nil, 10)
	s.Require().NoError(err)
	s.Len(byField, 4)
}

func (s *PostgresLedgerSuite) TestDuplicateAndImmutability() {
	ctx := context.Background()
	e := s.entry(0, models.OutcomeGranted, "bloodType")
	s.Require().NoError(s.store.Append(ctx, e))
	s.ErrorIs(s.store.Append(ctx, e), sentinel.ErrConflict)

	_, err := s.postgres.DB.ExecContext(ctx, `UPDATE audit_entries SET outcome = 'invalid_tag'`)
	s.Error(err)
	_, err = s.postgres.DB.ExecContext(ctx, `DELETE FROM audit_entries`)
	s.Error(err)
}

func (s *PostgresLedgerSuite) TestStatsAndGrantedBetween() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, s.entry(0, models.OutcomeGranted, "bloodType")))
	s.Require().NoError(s.store.Append(ctx, s.entry(time.Minute, models.OutcomeDeniedRevoked)))

	stats, err := s.store.Stats(ctx, s.owner, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)
	s.Equal(models.Stats{TotalGranted: 1, GrantedThisMonth: 1, FailedAttempts: 1, DistinctOrigins: 1}, stats)

	granted, err := s.store.GrantedBetween(ctx, s.base.Add(-time.Hour), s.base.Add(time.Hour), nil, 10)
	s.Require().NoError(err)
	s.Len(granted, 1)
}
