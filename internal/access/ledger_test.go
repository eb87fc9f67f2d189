package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"medvault/internal/domain"
	dErrors "medvault/pkg/domain-errors"
)

type stubAdmins map[domain.Identity]bool

func (s stubAdmins) IsAdmin(_ context.Context, id domain.Identity) bool {
	return s[id]
}

type LedgerSuite struct {
	suite.Suite
	ledger *Ledger
	now    time.Time
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

const (
	owner   = domain.Identity("0xowner")
	admin   = domain.Identity("0xadmin")
	viewer  = domain.Identity("0xviewer")
	someone = domain.Identity("0xsomeone")

	recordID = uint64(1)
)

func (s *LedgerSuite) SetupTest() {
	s.ledger = NewLedger(NewInMemoryStore(), stubAdmins{admin: true})
	s.now = time.Now()
}

func (s *LedgerSuite) TestGrantAuthorization() {
	ctx := context.Background()

	s.Run("owner may grant", func() {
		_, err := s.ledger.Grant(ctx, owner, recordID, owner, viewer, domain.AccessViewOnly, s.now)
		s.Require().NoError(err)
	})

	s.Run("admin may grant", func() {
		_, err := s.ledger.Grant(ctx, admin, recordID, owner, viewer, domain.AccessRestricted, s.now)
		s.Require().NoError(err)
	})

	s.Run("anyone else is rejected", func() {
		_, err := s.ledger.Grant(ctx, someone, recordID, owner, viewer, domain.AccessFull, s.now)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("none is not a grantable level", func() {
		_, err := s.ledger.Grant(ctx, owner, recordID, owner, viewer, domain.AccessNone, s.now)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *LedgerSuite) TestEffective() {
	ctx := context.Background()

	s.Run("owner implicitly holds full", func() {
		level, err := s.ledger.Effective(ctx, recordID, owner, owner)
		s.Require().NoError(err)
		s.Equal(domain.AccessFull, level)
	})

	s.Run("admin implicitly holds full", func() {
		level, err := s.ledger.Effective(ctx, recordID, owner, admin)
		s.Require().NoError(err)
		s.Equal(domain.AccessFull, level)
	})

	s.Run("no grant resolves to none", func() {
		level, err := s.ledger.Effective(ctx, recordID, owner, someone)
		s.Require().NoError(err)
		s.Equal(domain.AccessNone, level)
	})

	s.Run("latest grant wins by creation order, not level value", func() {
		_, err := s.ledger.Grant(ctx, owner, recordID, owner, viewer, domain.AccessFull, s.now)
		s.Require().NoError(err)
		_, err = s.ledger.Grant(ctx, owner, recordID, owner, viewer, domain.AccessRestricted, s.now.Add(time.Second))
		s.Require().NoError(err)

		level, err := s.ledger.Effective(ctx, recordID, owner, viewer)
		s.Require().NoError(err)
		s.Equal(domain.AccessRestricted, level, "later restricted grant supersedes earlier full grant")
	})
}

func (s *LedgerSuite) TestRevoke() {
	ctx := context.Background()

	s.Run("revocation supersedes any grant history", func() {
		_, err := s.ledger.Grant(ctx, owner, recordID, owner, viewer, domain.AccessFull, s.now)
		s.Require().NoError(err)
		_, err = s.ledger.Grant(ctx, owner, recordID, owner, viewer, domain.AccessViewOnly, s.now)
		s.Require().NoError(err)

		_, err = s.ledger.Revoke(ctx, owner, recordID, owner, viewer, s.now.Add(time.Second))
		s.Require().NoError(err)

		level, err := s.ledger.Effective(ctx, recordID, owner, viewer)
		s.Require().NoError(err)
		s.Equal(domain.AccessNone, level)
	})

	s.Run("re-grant after revocation restores access", func() {
		_, err := s.ledger.Revoke(ctx, owner, recordID, owner, viewer, s.now)
		s.Require().NoError(err)
		_, err = s.ledger.Grant(ctx, owner, recordID, owner, viewer, domain.AccessViewOnly, s.now.Add(time.Second))
		s.Require().NoError(err)

		level, err := s.ledger.Effective(ctx, recordID, owner, viewer)
		s.Require().NoError(err)
		s.Equal(domain.AccessViewOnly, level)
	})

	s.Run("non-owner may not revoke", func() {
		_, err := s.ledger.Revoke(ctx, someone, recordID, owner, viewer, s.now)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("history is preserved for audit", func() {
		_, err := s.ledger.Grant(ctx, owner, recordID, owner, viewer, domain.AccessFull, s.now)
		s.Require().NoError(err)
		_, err = s.ledger.Revoke(ctx, owner, recordID, owner, viewer, s.now)
		s.Require().NoError(err)

		history, err := s.ledger.ListByRecord(ctx, recordID)
		s.Require().NoError(err)
		s.Len(history, 2)
		s.False(history[0].Revoked)
		s.True(history[1].Revoked)
	})
}
