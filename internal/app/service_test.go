package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/api/internal/config"
	"taskboard/api/internal/email"
	"taskboard/api/internal/events"
	"taskboard/api/internal/keyspace"
	"taskboard/api/internal/occ"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return New(config.Defaults(), Deps{Store: st}), st
}

func codeOf(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

func mustBoard(t *testing.T, s *Service, owner string) store.Board {
	t.Helper()
	b, err := s.CreateBoard(context.Background(), owner, CreateBoardInput{Name: "Roadmap"})
	require.NoError(t, err)
	return b
}

func mustColumn(t *testing.T, s *Service, caller, boardID, name string, p Placement) store.Column {
	t.Helper()
	c, err := s.CreateColumn(context.Background(), caller, boardID, CreateColumnInput{Name: name, Placement: p})
	require.NoError(t, err)
	return c
}

func addMember(t *testing.T, s *Service, boardID, userID string, role rbac.Role) {
	t.Helper()
	_, err := s.AddMember(context.Background(), "u1", boardID, AddMemberInput{UserID: userID, Role: string(role)})
	require.NoError(t, err)
}

func columnNames(view BoardView) []string {
	out := make([]string, len(view.Columns))
	for i, c := range view.Columns {
		out[i] = c.Name
	}
	return out
}

func TestBoardLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)

	board := mustBoard(t, s, "u1")
	c1 := mustColumn(t, s, "u1", board.ID, "C1", Placement{})
	c2 := mustColumn(t, s, "u1", board.ID, "C2", Placement{AfterID: c1.ID})

	view, err := s.GetBoard(ctx, "u1", board.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"C1", "C2"}, columnNames(view))
	assert.Equal(t, rbac.RoleAdmin, view.Role)

	k1, err := s.CreateCard(ctx, "u1", board.ID, c1.ID, CreateCardInput{Title: "K1"})
	require.NoError(t, err)
	moved, err := s.MoveCard(ctx, "u1", board.ID, k1.ID, MoveCardInput{ToColumnID: c2.ID})
	require.NoError(t, err)
	assert.Equal(t, c2.ID, moved.ColumnID)
	assert.Equal(t, k1.Version+1, moved.Version)

	view, err = s.GetBoard(ctx, "u1", board.ID)
	require.NoError(t, err)
	assert.Empty(t, view.Columns[0].Cards)
	require.Len(t, view.Columns[1].Cards, 1)
	assert.Equal(t, k1.ID, view.Columns[1].Cards[0].ID)

	_, err = s.ChangeMemberRole(ctx, "u1", board.ID, "u1", "writer", occ.Any())
	assert.Equal(t, CodeLastAdminRequired, codeOf(err))

	addMember(t, s, board.ID, "u2", rbac.RoleAdmin)
	demoted, err := s.ChangeMemberRole(ctx, "u1", board.ID, "u1", "writer", occ.Any())
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleWriter, demoted.Role)

	members, err := s.ListMembers(ctx, "u2", board.ID)
	require.NoError(t, err)
	var admins []string
	for _, m := range members {
		if m.Role == rbac.RoleAdmin {
			admins = append(admins, m.UserID)
		}
	}
	assert.Equal(t, []string{"u2"}, admins)
}

func TestUpdateBoardVersioning(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	board := mustBoard(t, s, "u1")
	name := "Renamed"

	updated, err := s.UpdateBoard(ctx, "u1", board.ID, BoardPatch{Name: &name}, occ.Exactly(board.Version))
	require.NoError(t, err)
	assert.Equal(t, board.Version+1, updated.Version)
	assert.Equal(t, "Renamed", updated.Name)

	other := "Again"
	_, err = s.UpdateBoard(ctx, "u1", board.ID, BoardPatch{Name: &other}, occ.Exactly(board.Version))
	assert.Equal(t, CodePreconditionFailed, codeOf(err))

	view, err := s.GetBoard(ctx, "u1", board.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Version, view.Board.Version)
	assert.Equal(t, "Renamed", view.Board.Name)
}

func TestUpdateRequiresIfMatch(t *testing.T) {
	s, _ := newTestService(t)
	board := mustBoard(t, s, "u1")
	name := "x"
	_, err := s.UpdateBoard(context.Background(), "u1", board.ID, BoardPatch{Name: &name}, occ.Any())
	assert.Equal(t, CodePreconditionRequired, codeOf(err))
}

func TestForbiddenIsCheckedBeforeVersion(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	board := mustBoard(t, s, "u1")
	addMember(t, s, board.ID, "reader", rbac.RoleReader)
	col := mustColumn(t, s, "u1", board.ID, "Todo", Placement{})

	name := "hijack"
	stale := occ.Exactly(board.Version + 7)
	_, err := s.UpdateBoard(ctx, "reader", board.ID, BoardPatch{Name: &name}, stale)
	assert.Equal(t, CodeForbidden, codeOf(err))
	_, err = s.UpdateBoard(ctx, "stranger", board.ID, BoardPatch{Name: &name}, stale)
	assert.Equal(t, CodeForbidden, codeOf(err))
	_, err = s.UpdateColumn(ctx, "reader", board.ID, col.ID, name, occ.Exactly(col.Version+1))
	assert.Equal(t, CodeForbidden, codeOf(err))
	err = s.DeleteBoard(ctx, "reader", board.ID, stale)
	assert.Equal(t, CodeForbidden, codeOf(err))
}

func TestCreateValidatesNames(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	_, err := s.CreateBoard(ctx, "u1", CreateBoardInput{Name: "   "})
	assert.Equal(t, CodeValidation, codeOf(err))

	board := mustBoard(t, s, "u1")
	long := make([]byte, maxColumnName+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = s.CreateColumn(ctx, "u1", board.ID, CreateColumnInput{Name: string(long)})
	assert.Equal(t, CodeValidation, codeOf(err))
}

func TestColumnAnchors(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	board := mustBoard(t, s, "u1")
	a := mustColumn(t, s, "u1", board.ID, "A", Placement{})
	c := mustColumn(t, s, "u1", board.ID, "C", Placement{AfterID: a.ID})
	mustColumn(t, s, "u1", board.ID, "B", Placement{AfterID: a.ID, BeforeID: c.ID})
	mustColumn(t, s, "u1", board.ID, "Z", Placement{BeforeID: a.ID})

	view, err := s.GetBoard(ctx, "u1", board.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Z", "A", "B", "C"}, columnNames(view))

	_, err = s.MoveColumn(ctx, "u1", board.ID, a.ID, MoveColumnInput{Placement: Placement{AfterID: a.ID}})
	assert.Equal(t, CodeInvalidAnchor, codeOf(err))

	otherBoard := mustBoard(t, s, "u1")
	foreign := mustColumn(t, s, "u1", otherBoard.ID, "Elsewhere", Placement{})
	_, err = s.CreateColumn(ctx, "u1", board.ID, CreateColumnInput{Name: "D", Placement: Placement{AfterID: foreign.ID}})
	assert.Equal(t, CodeInvalidAnchor, codeOf(err))

	moved, err := s.MoveColumn(ctx, "u1", board.ID, c.ID, MoveColumnInput{Placement: Placement{BeforeID: a.ID}})
	require.NoError(t, err)
	assert.Equal(t, c.Version+1, moved.Version)
	view, err = s.GetBoard(ctx, "u1", board.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Z", "C", "A", "B"}, columnNames(view))
}

func TestEntitySpecificAnchors(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	board := mustBoard(t, s, "u1")
	a := mustColumn(t, s, "u1", board.ID, "A", Placement{})

	b, err := s.CreateColumn(ctx, "u1", board.ID, CreateColumnInput{Name: "B", AfterColumnID: a.ID})
	require.NoError(t, err)
	_, err = s.CreateColumn(ctx, "u1", board.ID, CreateColumnInput{Name: "Z", Placement: Placement{BeforeID: a.ID}, BeforeColumnID: a.ID})
	require.NoError(t, err)
	_, err = s.CreateColumn(ctx, "u1", board.ID, CreateColumnInput{Name: "X", Placement: Placement{AfterID: a.ID}, AfterColumnID: b.ID})
	assert.Equal(t, CodeValidation, codeOf(err))

	_, err = s.MoveColumn(ctx, "u1", board.ID, b.ID, MoveColumnInput{BeforeColumnID: a.ID})
	require.NoError(t, err)
	view, err := s.GetBoard(ctx, "u1", board.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Z", "B", "A"}, columnNames(view))

	k1, err := s.CreateCard(ctx, "u1", board.ID, a.ID, CreateCardInput{Title: "K1"})
	require.NoError(t, err)
	k0, err := s.CreateCard(ctx, "u1", board.ID, a.ID, CreateCardInput{Title: "K0", BeforeCardID: k1.ID})
	require.NoError(t, err)
	assert.Less(t, k0.SortKey, k1.SortKey)

	_, err = s.MoveCard(ctx, "u1", board.ID, k0.ID, MoveCardInput{ToColumnID: a.ID, Placement: Placement{AfterID: k1.ID}, AfterCardID: k0.ID})
	assert.Equal(t, CodeValidation, codeOf(err))
	moved, err := s.MoveCard(ctx, "u1", board.ID, k0.ID, MoveCardInput{ToColumnID: a.ID, AfterCardID: k1.ID})
	require.NoError(t, err)
	assert.Greater(t, moved.SortKey, k1.SortKey)
}

func TestMoveWithStaleExpectedVersion(t *testing.T) {
	ctx := context.Background()
	s, st := newTestService(t)
	board := mustBoard(t, s, "u1")
	a := mustColumn(t, s, "u1", board.ID, "A", Placement{})
	b := mustColumn(t, s, "u1", board.ID, "B", Placement{})

	stale := a.Version + 3
	_, err := s.MoveColumn(ctx, "u1", board.ID, a.ID, MoveColumnInput{Placement: Placement{AfterID: b.ID}, ExpectedVersion: &stale})
	assert.Equal(t, CodePreconditionFailed, codeOf(err))

	after, err := st.GetColumn(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Version, after.Version)
	assert.Equal(t, a.SortKey, after.SortKey)
}

// gatedStore holds every armed ListCards caller until all of them have read
// the scope, so their inserts race on the same snapshot.
type gatedStore struct {
	store.Store
	armed   atomic.Bool
	arrived sync.WaitGroup
}

func (g *gatedStore) ListCards(ctx context.Context, columnID string) ([]store.Card, error) {
	cards, err := g.Store.ListCards(ctx, columnID)
	if g.armed.Load() {
		g.arrived.Done()
		g.arrived.Wait()
	}
	return cards, err
}

func TestConcurrentCardInsertsOnSameAnchors(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	gated := &gatedStore{Store: mem}
	s := New(config.Defaults(), Deps{Store: gated})
	board := mustBoard(t, s, "u1")
	col := mustColumn(t, s, "u1", board.ID, "Todo", Placement{})
	left, err := s.CreateCard(ctx, "u1", board.ID, col.ID, CreateCardInput{Title: "left"})
	require.NoError(t, err)
	right, err := s.CreateCard(ctx, "u1", board.ID, col.ID, CreateCardInput{Title: "right"})
	require.NoError(t, err)

	const writers = 2
	gated.arrived.Add(writers)
	gated.armed.Store(true)
	var wg sync.WaitGroup
	created := make([]store.Card, writers)
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created[i], errs[i] = s.CreateCard(ctx, "u1", board.ID, col.ID, CreateCardInput{
				Title:     "middle",
				Placement: Placement{AfterID: left.ID, BeforeID: right.ID},
			})
		}(i)
	}
	wg.Wait()
	gated.armed.Store(false)
	for _, err := range errs {
		require.NoError(t, err)
	}

	raw, err := keyspace.Base36().Midpoint(left.SortKey, right.SortKey)
	require.NoError(t, err)
	keys := []string{created[0].SortKey, created[1].SortKey}
	assert.NotEqual(t, keys[0], keys[1])
	assert.Contains(t, keys, raw, "one insert keeps the computed key")
	for _, k := range keys {
		assert.Greater(t, k, left.SortKey)
		assert.Less(t, k, right.SortKey)
	}

	cards, err := mem.ListCards(ctx, col.ID)
	require.NoError(t, err)
	assert.Len(t, cards, 4)
}

func TestDeleteColumnCascadesCards(t *testing.T) {
	ctx := context.Background()
	s, st := newTestService(t)
	board := mustBoard(t, s, "u1")
	col := mustColumn(t, s, "u1", board.ID, "Todo", Placement{})
	card, err := s.CreateCard(ctx, "u1", board.ID, col.ID, CreateCardInput{Title: "x"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteColumn(ctx, "u1", board.ID, col.ID, occ.Exactly(col.Version)))
	_, err = st.GetCard(ctx, card.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.DeleteBoard(ctx, "u1", board.ID, occ.Exactly(board.Version)))
	_, err = s.GetBoard(ctx, "u1", board.ID)
	assert.Equal(t, CodeNotFound, codeOf(err))
	members, err := st.ListMemberships(ctx, board.ID)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestLastAdminGuard(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	board := mustBoard(t, s, "u1")
	addMember(t, s, board.ID, "u2", rbac.RoleAdmin)
	addMember(t, s, board.ID, "u3", rbac.RoleWriter)

	// u1 stays owner but steps down, leaving u2 as the only admin.
	_, err := s.ChangeMemberRole(ctx, "u1", board.ID, "u1", "writer", occ.Any())
	require.NoError(t, err)

	_, err = s.ChangeMemberRole(ctx, "u2", board.ID, "u2", "reader", occ.Any())
	assert.Equal(t, CodeLastAdminRequired, codeOf(err))
	err = s.RemoveMember(ctx, "u2", board.ID, "u2", occ.Any())
	assert.Equal(t, CodeLastAdminRequired, codeOf(err))
	err = s.LeaveBoard(ctx, "u2", board.ID)
	assert.Equal(t, CodeLastAdminRequired, codeOf(err))

	_, err = s.ChangeMemberRole(ctx, "u2", board.ID, "u3", "admin", occ.Any())
	require.NoError(t, err)
	require.NoError(t, s.LeaveBoard(ctx, "u2", board.ID))

	err = s.RemoveMember(ctx, "u3", board.ID, "u1", occ.Any())
	assert.Equal(t, CodeValidation, codeOf(err), "the owner cannot be removed")
}

func TestOwnerDeparture(t *testing.T) {
	ctx := context.Background()
	s, st := newTestService(t)

	t.Run("sole admin owner", func(t *testing.T) {
		board := mustBoard(t, s, "u1")
		err := s.LeaveBoard(ctx, "u1", board.ID)
		assert.Equal(t, CodeLastAdminRequired, codeOf(err))
		err = s.RemoveMember(ctx, "u1", board.ID, "u1", occ.Any())
		assert.Equal(t, CodeLastAdminRequired, codeOf(err))

		members, err := st.ListMemberships(ctx, board.ID)
		require.NoError(t, err)
		assert.Len(t, members, 1)
	})

	t.Run("owner without a row is the implicit admin", func(t *testing.T) {
		board := mustBoard(t, s, "u1")
		addMember(t, s, board.ID, "u2", rbac.RoleWriter)
		allow := func(store.Board, []store.Membership, store.Membership) error { return nil }
		require.NoError(t, st.DeleteMembership(ctx, board.ID, "u1", occ.Any(), allow))

		err := s.LeaveBoard(ctx, "u1", board.ID)
		assert.Equal(t, CodeLastAdminRequired, codeOf(err))
	})

	t.Run("owner with another admin must transfer first", func(t *testing.T) {
		board := mustBoard(t, s, "u1")
		addMember(t, s, board.ID, "u2", rbac.RoleAdmin)

		err := s.LeaveBoard(ctx, "u1", board.ID)
		assert.Equal(t, CodeValidation, codeOf(err))
		err = s.RemoveMember(ctx, "u2", board.ID, "u1", occ.Any())
		assert.Equal(t, CodeValidation, codeOf(err))
	})
}

func TestTransferOwnership(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	board := mustBoard(t, s, "u1")

	_, err := s.TransferOwnership(ctx, "u1", board.ID, "nobody", occ.Any())
	assert.Equal(t, CodeValidation, codeOf(err))

	_, err = s.AddMember(ctx, "u1", board.ID, AddMemberInput{UserID: "pending", Role: "writer", Pending: true})
	require.NoError(t, err)
	_, err = s.TransferOwnership(ctx, "u1", board.ID, "pending", occ.Any())
	assert.Equal(t, CodeValidation, codeOf(err), "pending members cannot receive a board")

	addMember(t, s, board.ID, "u2", rbac.RoleReader)
	_, err = s.TransferOwnership(ctx, "u2", board.ID, "u2", occ.Any())
	assert.Equal(t, CodeForbidden, codeOf(err))

	_, err = s.TransferOwnership(ctx, "u1", board.ID, "u2", occ.Exactly(board.Version+1))
	assert.Equal(t, CodePreconditionFailed, codeOf(err))

	moved, err := s.TransferOwnership(ctx, "u1", board.ID, "u2", occ.Exactly(board.Version))
	require.NoError(t, err)
	assert.Equal(t, "u2", moved.OwnerID)
	assert.Equal(t, board.Version+1, moved.Version)

	// u2 owns the board but holds a reader row, so u1 is still the only admin.
	err = s.LeaveBoard(ctx, "u1", board.ID)
	assert.Equal(t, CodeLastAdminRequired, codeOf(err))
	_, err = s.ChangeMemberRole(ctx, "u1", board.ID, "u2", "admin", occ.Any())
	require.NoError(t, err)
	require.NoError(t, s.LeaveBoard(ctx, "u1", board.ID))
}

func TestPendingMembershipGrantsNothing(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	board := mustBoard(t, s, "u1")
	_, err := s.AddMember(ctx, "u1", board.ID, AddMemberInput{UserID: "u2", Role: "writer", Pending: true})
	require.NoError(t, err)

	_, err = s.GetBoard(ctx, "u2", board.ID)
	assert.Equal(t, CodeForbidden, codeOf(err))

	m, err := s.AcceptMembership(ctx, "u2", board.ID)
	require.NoError(t, err)
	assert.Equal(t, store.MembershipActive, m.Status)
	view, err := s.GetBoard(ctx, "u2", board.ID)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleWriter, view.Role)

	_, err = s.AcceptMembership(ctx, "u2", board.ID)
	assert.Equal(t, CodeValidation, codeOf(err))
	_, err = s.AddMember(ctx, "u1", board.ID, AddMemberInput{UserID: "u2", Role: "admin"})
	assert.Equal(t, CodeValidation, codeOf(err))
}

type fakeMailer struct {
	sent chan string
}

func (f *fakeMailer) IsConfigured() bool { return true }

func (f *fakeMailer) SendInvitation(to string, _ email.InvitationData) error {
	f.sent <- to
	return nil
}

func TestInvitationFlow(t *testing.T) {
	ctx := context.Background()
	mailer := &fakeMailer{sent: make(chan string, 1)}
	s := New(config.Defaults(), Deps{Store: store.NewMemoryStore(), Mailer: mailer})
	board := mustBoard(t, s, "u1")

	_, err := s.InviteByEmail(ctx, "u1", board.ID, InviteInput{Email: "not an address", Role: "writer"})
	assert.Equal(t, CodeValidation, codeOf(err))

	created, err := s.InviteByEmail(ctx, "u1", board.ID, InviteInput{Email: "Dana <Dana@Example.com>", Role: "writer"})
	require.NoError(t, err)
	assert.True(t, created.Emailed)
	assert.Equal(t, "dana@example.com", created.Invitation.Email)
	assert.Contains(t, created.AcceptURL, "/invitations/accept?token=")
	assert.NotEqual(t, created.Token, created.Invitation.TokenHash)
	select {
	case to := <-mailer.sent:
		assert.Equal(t, "dana@example.com", to)
	case <-time.After(time.Second):
		t.Fatal("invitation email was not sent")
	}

	invs, err := s.ListInvitations(ctx, "u1", board.ID)
	require.NoError(t, err)
	require.Len(t, invs, 1)

	accepted, err := s.AcceptInvitation(ctx, "dana", created.Token)
	require.NoError(t, err)
	assert.Equal(t, store.InvitationAccepted, accepted.Invitation.Status)
	assert.Equal(t, rbac.RoleWriter, accepted.Membership.Role)
	assert.True(t, accepted.Membership.Active())

	_, err = s.AcceptInvitation(ctx, "dana", created.Token)
	assert.Equal(t, CodeValidation, codeOf(err))
	_, err = s.AcceptInvitation(ctx, "dana", "bogus")
	assert.Equal(t, CodeNotFound, codeOf(err))
}

func TestExpiredAndRevokedInvitations(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	board := mustBoard(t, s, "u1")

	expiring, err := s.InviteByEmail(ctx, "u1", board.ID, InviteInput{Email: "a@example.com", Role: "reader"})
	require.NoError(t, err)
	revoked, err := s.InviteByEmail(ctx, "u1", board.ID, InviteInput{Email: "b@example.com", Role: "reader"})
	require.NoError(t, err)

	inv, err := s.RevokeInvitation(ctx, "u1", board.ID, revoked.Invitation.ID)
	require.NoError(t, err)
	assert.Equal(t, store.InvitationRevoked, inv.Status)
	_, err = s.AcceptInvitation(ctx, "b", revoked.Token)
	assert.Equal(t, CodeValidation, codeOf(err))

	later := time.Now().Add(s.cfg.InvitationTTL + time.Hour)
	s.now = func() time.Time { return later }
	_, err = s.AcceptInvitation(ctx, "a", expiring.Token)
	assert.Equal(t, CodeValidation, codeOf(err))
	_, err = s.GetBoard(ctx, "a", board.ID)
	assert.Equal(t, CodeForbidden, codeOf(err))
}

func TestListBoardsPaginates(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	for range 3 {
		mustBoard(t, s, "u1")
	}
	mustBoard(t, s, "u2")

	first, err := s.ListBoards(ctx, "u1", 2, "")
	require.NoError(t, err)
	require.Len(t, first.Boards, 2)
	require.NotEmpty(t, first.NextCursor)

	second, err := s.ListBoards(ctx, "u1", 2, first.NextCursor)
	require.NoError(t, err)
	require.Len(t, second.Boards, 1)
	assert.Empty(t, second.NextCursor)

	seen := map[string]bool{}
	for _, b := range append(first.Boards, second.Boards...) {
		assert.False(t, seen[b.ID])
		seen[b.ID] = true
		assert.Equal(t, "u1", b.OwnerID)
	}

	_, err = s.ListBoards(ctx, "u1", 2, "%%%")
	assert.Equal(t, CodeValidation, codeOf(err))
}

func TestMutationsPublishEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, _ := newTestService(t)
	board := mustBoard(t, s, "u1")

	ch, release, err := s.SubscribeBoard(ctx, "u1", board.ID)
	require.NoError(t, err)
	defer release()

	col := mustColumn(t, s, "u1", board.ID, "Todo", Placement{})
	select {
	case ev := <-ch:
		assert.Equal(t, events.ColumnCreated, ev.Type)
		assert.Equal(t, col.ID, ev.EntityID)
		assert.Equal(t, "u1", ev.Actor)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	_, _, err = s.SubscribeBoard(ctx, "stranger", board.ID)
	assert.Equal(t, CodeForbidden, codeOf(err))
}
