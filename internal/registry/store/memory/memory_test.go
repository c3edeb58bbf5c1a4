package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"idregistry/internal/provenance"
	"idregistry/internal/registry/models"
	"idregistry/internal/registry/store"
	"idregistry/pkg/domerrors"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = New()
	s.ctx = context.Background()
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) date(value string) time.Time {
	t, err := time.Parse("2006-01-02", value)
	s.Require().NoError(err)
	return t
}

func (s *MemoryStoreSuite) addCluster(uuid string) {
	_, err := s.store.AddUniqueIdentity(s.ctx, uuid)
	s.Require().NoError(err)
}

// TestOrganizations verifies uniqueness and the cascading delete.
func (s *MemoryStoreSuite) TestOrganizations() {
	s.Run("enforces name uniqueness", func() {
		_, err := s.store.AddOrganization(s.ctx, "Acme")
		s.Require().NoError(err)

		_, err = s.store.AddOrganization(s.ctx, "Acme")
		s.Require().Error(err)
		s.True(domerrors.Is(err, domerrors.CodeDuplicate))
	})

	s.Run("delete cascades to domains and enrollments", func() {
		_, err := s.store.AddOrganization(s.ctx, "Globex")
		s.Require().NoError(err)
		_, err = s.store.AddDomain(s.ctx, "Globex", "globex.com", true)
		s.Require().NoError(err)
		_, err = s.store.AddDomain(s.ctx, "Globex", "globex.org", false)
		s.Require().NoError(err)

		s.addCluster("u1")
		s.Require().NoError(s.store.AddEnrollment(s.ctx, models.Enrollment{
			UUID: "u1", Organization: "Globex",
			Start: models.MinPeriodDate, End: models.MaxPeriodDate,
		}))

		cascade, err := s.store.DeleteOrganization(s.ctx, "Globex")
		s.Require().NoError(err)
		s.Equal(2, cascade.Domains)
		s.Equal(1, cascade.Enrollments)

		_, err = s.store.FindDomain(s.ctx, "globex.com")
		s.Require().Error(err)
		s.True(domerrors.Is(err, domerrors.CodeNotFound))

		uid, err := s.store.FindUniqueIdentity(s.ctx, "u1")
		s.Require().NoError(err)
		s.Empty(uid.Enrollments)
	})

	s.Run("a domain belongs to one organization", func() {
		_, err := s.store.AddOrganization(s.ctx, "Initech")
		s.Require().NoError(err)
		_, err = s.store.AddOrganization(s.ctx, "Initrode")
		s.Require().NoError(err)

		_, err = s.store.AddDomain(s.ctx, "Initech", "example.com", false)
		s.Require().NoError(err)
		_, err = s.store.AddDomain(s.ctx, "Initrode", "example.com", false)
		s.Require().Error(err)
		s.True(domerrors.Is(err, domerrors.CodeDuplicate))
	})
}

// TestUniqueIdentities verifies cluster assembly and cascades.
func (s *MemoryStoreSuite) TestUniqueIdentities() {
	s.Run("creates an empty profile alongside the cluster", func() {
		uid, err := s.store.AddUniqueIdentity(s.ctx, "u1")
		s.Require().NoError(err)
		s.Require().NotNil(uid.Profile)
		s.Equal("u1", uid.Profile.UUID)
	})

	s.Run("rejects a duplicate uuid", func() {
		s.addCluster("u2")
		_, err := s.store.AddUniqueIdentity(s.ctx, "u2")
		s.Require().Error(err)
		s.True(domerrors.Is(err, domerrors.CodeDuplicate))
	})

	s.Run("delete cascades to identities, profile and enrollments", func() {
		s.addCluster("u3")
		s.Require().NoError(s.store.AddIdentity(s.ctx, &models.Identity{
			ID: "i1", Source: "git", Name: models.StringPtr("Alice"), UUID: "u3",
		}))
		_, err := s.store.AddOrganization(s.ctx, "Acme3")
		s.Require().NoError(err)
		s.Require().NoError(s.store.AddEnrollment(s.ctx, models.Enrollment{
			UUID: "u3", Organization: "Acme3",
			Start: models.MinPeriodDate, End: models.MaxPeriodDate,
		}))

		s.Require().NoError(s.store.DeleteUniqueIdentity(s.ctx, "u3"))

		_, err = s.store.FindIdentity(s.ctx, "i1")
		s.Require().Error(err)
		s.True(domerrors.Is(err, domerrors.CodeNotFound))
	})

	s.Run("assembles identities and enrollments in stable order", func() {
		s.addCluster("u4")
		s.Require().NoError(s.store.AddIdentity(s.ctx, &models.Identity{ID: "zz", Source: "git", Name: models.StringPtr("Z"), UUID: "u4"}))
		s.Require().NoError(s.store.AddIdentity(s.ctx, &models.Identity{ID: "aa", Source: "scm", Name: models.StringPtr("A"), UUID: "u4"}))

		uid, err := s.store.FindUniqueIdentity(s.ctx, "u4")
		s.Require().NoError(err)
		s.Require().Len(uid.Identities, 2)
		s.Equal("aa", uid.Identities[0].ID)
		s.Equal("zz", uid.Identities[1].ID)
	})
}

// TestIdentities verifies tuple uniqueness and re-parenting.
func (s *MemoryStoreSuite) TestIdentities() {
	s.Run("rejects a duplicate source tuple", func() {
		s.addCluster("u1")
		identity := &models.Identity{ID: "i1", Source: "git", Name: models.StringPtr("Alice"), UUID: "u1"}
		s.Require().NoError(s.store.AddIdentity(s.ctx, identity))

		clone := *identity
		clone.ID = "i2"
		err := s.store.AddIdentity(s.ctx, &clone)
		s.Require().Error(err)
		s.True(domerrors.Is(err, domerrors.CodeDuplicate))
	})

	s.Run("moves an identity between clusters", func() {
		s.addCluster("u2")
		s.addCluster("u3")
		s.Require().NoError(s.store.AddIdentity(s.ctx, &models.Identity{ID: "i3", Source: "git", Name: models.StringPtr("Bob"), UUID: "u2"}))

		s.Require().NoError(s.store.MoveIdentity(s.ctx, "i3", "u3"))

		moved, err := s.store.FindIdentity(s.ctx, "i3")
		s.Require().NoError(err)
		s.Equal("u3", moved.UUID)
	})
}

// TestEnrollments verifies interval search boundaries and duplicates.
func (s *MemoryStoreSuite) TestEnrollments() {
	s.Run("search intersects boundaries inclusively", func() {
		s.addCluster("u1")
		_, err := s.store.AddOrganization(s.ctx, "Acme")
		s.Require().NoError(err)
		s.Require().NoError(s.store.AddEnrollment(s.ctx, models.Enrollment{
			UUID: "u1", Organization: "Acme",
			Start: s.date("2010-01-01"), End: s.date("2015-01-01"),
		}))

		found, err := s.store.SearchEnrollments(s.ctx, "u1", "Acme", s.date("2015-01-01"), s.date("2020-01-01"))
		s.Require().NoError(err)
		s.Len(found, 1)

		found, err = s.store.SearchEnrollments(s.ctx, "u1", "Acme", s.date("2005-01-01"), s.date("2010-01-01"))
		s.Require().NoError(err)
		s.Len(found, 1)

		found, err = s.store.SearchEnrollments(s.ctx, "u1", "Acme", s.date("2016-01-01"), s.date("2020-01-01"))
		s.Require().NoError(err)
		s.Empty(found)
	})

	s.Run("rejects an exact duplicate interval only", func() {
		s.addCluster("u2")
		_, err := s.store.AddOrganization(s.ctx, "Globex")
		s.Require().NoError(err)
		enr := models.Enrollment{
			UUID: "u2", Organization: "Globex",
			Start: s.date("2010-01-01"), End: s.date("2015-01-01"),
		}
		s.Require().NoError(s.store.AddEnrollment(s.ctx, enr))

		err = s.store.AddEnrollment(s.ctx, enr)
		s.Require().Error(err)
		s.True(domerrors.Is(err, domerrors.CodeDuplicate))

		overlap := enr
		overlap.End = s.date("2016-01-01")
		s.Require().NoError(s.store.AddEnrollment(s.ctx, overlap))
	})
}

// TestTransactionality verifies the all-or-nothing behavior of RunInTx.
func (s *MemoryStoreSuite) TestTransactionality() {
	s.Run("rolls back every mutation when fn fails", func() {
		_, err := s.store.AddOrganization(s.ctx, "Kept")
		s.Require().NoError(err)

		err = s.store.RunInTx(s.ctx, func(ctx context.Context) error {
			if _, err := s.store.AddOrganization(ctx, "Discarded"); err != nil {
				return err
			}
			if _, err := s.store.AddUniqueIdentity(ctx, "gone"); err != nil {
				return err
			}
			return domerrors.New(domerrors.CodeInvalidValue, "boom")
		})
		s.Require().Error(err)

		_, err = s.store.FindOrganization(s.ctx, "Kept")
		s.Require().NoError(err)
		_, err = s.store.FindOrganization(s.ctx, "Discarded")
		s.Require().Error(err)
		s.True(domerrors.Is(err, domerrors.CodeNotFound))
		_, err = s.store.FindUniqueIdentity(s.ctx, "gone")
		s.Require().Error(err)
		s.True(domerrors.Is(err, domerrors.CodeNotFound))
	})

	s.Run("commits every mutation when fn succeeds", func() {
		err := s.store.RunInTx(s.ctx, func(ctx context.Context) error {
			_, err := s.store.AddOrganization(ctx, "Committed")
			return err
		})
		s.Require().NoError(err)

		_, err = s.store.FindOrganization(s.ctx, "Committed")
		s.Require().NoError(err)
	})
}

// TestProvenanceStore verifies the audit log and the orphaning rule.
func (s *MemoryStoreSuite) TestProvenanceStore() {
	addContext := func(op provenance.Operation, at time.Time) string {
		opCtx := &provenance.Context{CUID: provenance.NewCUID(), Operation: op, Timestamp: at}
		s.Require().NoError(s.store.AddContext(s.ctx, opCtx))
		return opCtx.CUID
	}

	s.Run("deleting a context orphans its transactions", func() {
		cuid := addContext(provenance.OpAddIdentity, s.date("2020-01-01"))
		txn := &provenance.Transaction{
			TUID: provenance.NewTUID(), Change: provenance.ChangeAdd,
			Entity: provenance.EntityIdentity, ContextID: &cuid,
			Timestamp: s.date("2020-01-01"),
		}
		s.Require().NoError(s.store.AddTransaction(s.ctx, txn))

		s.Require().NoError(s.store.DeleteContext(s.ctx, cuid))

		_, err := s.store.FindContext(s.ctx, cuid)
		s.Require().Error(err)
		s.True(domerrors.Is(err, domerrors.CodeNotFound))

		orphans, total, err := s.store.ListTransactions(s.ctx, store.TransactionFilter{TUID: txn.TUID}, 0, 10)
		s.Require().NoError(err)
		s.Equal(1, total)
		s.Require().Len(orphans, 1)
		s.Nil(orphans[0].ContextID)
	})

	s.Run("filters contexts by operation and time range", func() {
		addContext(provenance.OpEnroll, s.date("2021-01-01"))
		addContext(provenance.OpEnroll, s.date("2022-01-01"))
		addContext(provenance.OpWithdraw, s.date("2021-06-01"))

		from := s.date("2020-12-01")
		to := s.date("2021-12-31")
		got, total, err := s.store.ListContexts(s.ctx, store.ContextFilter{
			Operation: provenance.OpEnroll, From: &from, To: &to,
		}, 0, 10)
		s.Require().NoError(err)
		s.Equal(1, total)
		s.Require().Len(got, 1)
		s.Equal(provenance.OpEnroll, got[0].Operation)
	})

	s.Run("paginates deterministically", func() {
		for i := 0; i < 5; i++ {
			addContext(provenance.OpAddOrganization, s.date("2023-01-01").Add(time.Duration(i)*time.Hour))
		}

		first, total, err := s.store.ListContexts(s.ctx, store.ContextFilter{Operation: provenance.OpAddOrganization}, 0, 2)
		s.Require().NoError(err)
		s.Equal(5, total)
		s.Require().Len(first, 2)

		second, _, err := s.store.ListContexts(s.ctx, store.ContextFilter{Operation: provenance.OpAddOrganization}, 2, 2)
		s.Require().NoError(err)
		s.Require().Len(second, 2)
		s.NotEqual(first[0].CUID, second[0].CUID)
		s.NotEqual(first[1].CUID, second[1].CUID)
	})
}

// TestMatchingExclusions verifies exact-match blacklist semantics.
func (s *MemoryStoreSuite) TestMatchingExclusions() {
	s.Run("add, lookup and delete by exact string", func() {
		_, err := s.store.AddMatchingExclusion(s.ctx, "root@example.com")
		s.Require().NoError(err)

		found, err := s.store.HasMatchingExclusion(s.ctx, "root@example.com")
		s.Require().NoError(err)
		s.True(found)

		found, err = s.store.HasMatchingExclusion(s.ctx, "ROOT@example.com")
		s.Require().NoError(err)
		s.False(found)

		s.Require().NoError(s.store.DeleteMatchingExclusion(s.ctx, "root@example.com"))
		err = s.store.DeleteMatchingExclusion(s.ctx, "root@example.com")
		s.Require().Error(err)
		s.True(domerrors.Is(err, domerrors.CodeNotFound))
	})
}
