package scan

import (
	"context"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quiethall/doorman/internal/app/service/directory"
	"github.com/quiethall/doorman/internal/app/service/record"
	"github.com/quiethall/doorman/internal/models"
	"github.com/quiethall/doorman/pkg/config"
	"github.com/quiethall/doorman/pkg/types"
)

const (
	testUnlinkedRole = uint64(1001)
	testActiveRole   = uint64(1002)
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeRecords struct {
	rows      map[string]*models.MemberRecord
	ids       []string
	deadlines map[string]time.Time
	scanLogs  []*models.ScanLog
	onStream  func(memberID string) // called before fn, for mid-pass mutation
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		rows:      map[string]*models.MemberRecord{},
		deadlines: map[string]time.Time{},
	}
}

func (f *fakeRecords) add(rec *models.MemberRecord) {
	f.rows[rec.MemberID] = rec
	f.ids = append(f.ids, rec.MemberID)
}

func (f *fakeRecords) Get(_ context.Context, memberID string) (*models.MemberRecord, error) {
	if r, ok := f.rows[memberID]; ok {
		return r, nil
	}
	return nil, record.ErrRecordNotFound
}

func (f *fakeRecords) EntitledIDs(_ context.Context, now time.Time) ([]string, error) {
	var out []string
	for id, r := range f.rows {
		if r.Status == types.SubscriptionStatusActive ||
			(r.Status == types.SubscriptionStatusCancelled && r.SubscriptionEnd != nil && r.SubscriptionEnd.After(now)) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeRecords) StreamIDs(_ context.Context, _ int, fn func(memberID string) error) error {
	for _, id := range f.ids {
		if f.onStream != nil {
			f.onStream(id)
		}
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeRecords) SetDeadline(_ context.Context, memberID string, deadline time.Time) error {
	f.deadlines[memberID] = deadline
	if r, ok := f.rows[memberID]; ok {
		d := deadline
		r.LinkDeadline = &d
	}
	return nil
}

func (f *fakeRecords) SaveScanLog(_ context.Context, entry *models.ScanLog) {
	f.scanLogs = append(f.scanLogs, entry)
}

type fakeDirectory struct {
	members   map[string]*directory.Member
	granted   map[string][]snowflake.ID
	revoked   map[string][]snowflake.ID
	kicked    []string
	announced []string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		members: map[string]*directory.Member{},
		granted: map[string][]snowflake.ID{},
		revoked: map[string][]snowflake.ID{},
	}
}

func (f *fakeDirectory) add(id uint64, roles ...uint64) *directory.Member {
	m := &directory.Member{ID: snowflake.ID(id), Username: "user", JoinedAt: testNow.Add(-48 * time.Hour)}
	for _, r := range roles {
		m.RoleIDs = append(m.RoleIDs, snowflake.ID(r))
	}
	f.members[m.ID.String()] = m
	return m
}

func (f *fakeDirectory) Member(_ context.Context, memberID string) (*directory.Member, error) {
	if m, ok := f.members[memberID]; ok {
		return m, nil
	}
	return nil, directory.ErrMemberNotFound
}

func (f *fakeDirectory) EachMember(_ context.Context, fn func(*directory.Member) error) error {
	for _, m := range f.members {
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeDirectory) GrantRole(_ context.Context, memberID string, roleID snowflake.ID) error {
	f.granted[memberID] = append(f.granted[memberID], roleID)
	return nil
}

func (f *fakeDirectory) RevokeRole(_ context.Context, memberID string, roleID snowflake.ID) error {
	f.revoked[memberID] = append(f.revoked[memberID], roleID)
	return nil
}

func (f *fakeDirectory) Kick(_ context.Context, memberID string, _ string) error {
	f.kicked = append(f.kicked, memberID)
	return nil
}

func (f *fakeDirectory) DirectMessage(_ context.Context, _ string, _ string) error { return nil }

func (f *fakeDirectory) Announce(_ context.Context, content string) error {
	f.announced = append(f.announced, content)
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Discord.UnlinkedRoleID = testUnlinkedRole
	cfg.Discord.ActiveRoleID = testActiveRole
	cfg.Scan.JoinGrace = 2 * time.Minute
	cfg.Scan.DemotionDeadline = 24 * time.Hour
	return cfg
}

func newTestRunner(rec *fakeRecords, dir *fakeDirectory) *Runner {
	r := NewRunner(testConfig(), rec, dir, zap.NewNop().Sugar())
	r.pacer = NoDelay{}
	r.now = func() time.Time { return testNow }
	return r
}

func TestRun_AppliesEachActionKind(t *testing.T) {
	rec := newFakeRecords()
	dir := newFakeDirectory()
	past := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)

	// Active subscriber still tagged unlinked: promote.
	rec.add(&models.MemberRecord{MemberID: "1", Status: types.SubscriptionStatusActive})
	dir.add(1, testUnlinkedRole)
	// Lapsed subscriber holding the active role: demote.
	rec.add(&models.MemberRecord{MemberID: "2", Status: types.SubscriptionStatusCancelled, SubscriptionEnd: &past})
	dir.add(2, testActiveRole)
	// Expired and roleless: kick.
	rec.add(&models.MemberRecord{MemberID: "3", Status: types.SubscriptionStatusUnlinked, LinkDeadline: &past})
	dir.add(3, testUnlinkedRole)
	// Unlinked before deadline: untouched.
	rec.add(&models.MemberRecord{MemberID: "4", Status: types.SubscriptionStatusUnlinked, LinkDeadline: &future})
	dir.add(4, testUnlinkedRole)

	r := newTestRunner(rec, dir)
	summary, err := r.Run(context.Background(), types.ScanTriggerManual)
	require.NoError(t, err)

	require.Equal(t, 1, summary.Promoted)
	require.Equal(t, 1, summary.Demoted)
	require.Equal(t, 1, summary.Kicked)
	require.Equal(t, 1, summary.Skipped)
	require.Equal(t, 0, summary.Errored)

	require.Equal(t, []snowflake.ID{snowflake.ID(testActiveRole)}, dir.granted["1"])
	require.Equal(t, []snowflake.ID{snowflake.ID(testUnlinkedRole)}, dir.revoked["1"])
	require.Equal(t, []snowflake.ID{snowflake.ID(testActiveRole)}, dir.revoked["2"])
	require.Equal(t, []string{"3"}, dir.kicked)

	require.Len(t, rec.scanLogs, 1)
	require.Equal(t, types.ScanTriggerManual, rec.scanLogs[0].Trigger)
	require.Len(t, dir.announced, 1)
	require.Contains(t, dir.announced[0], "promoted 1")
}

func TestRun_DemoteResetsDeadline(t *testing.T) {
	rec := newFakeRecords()
	dir := newFakeDirectory()
	past := testNow.Add(-time.Hour)
	rec.add(&models.MemberRecord{MemberID: "2", Status: types.SubscriptionStatusCancelled, SubscriptionEnd: &past})
	dir.add(2, testActiveRole)

	r := newTestRunner(rec, dir)
	_, err := r.Run(context.Background(), types.ScanTriggerTimer)
	require.NoError(t, err)

	require.Equal(t, testNow.Add(24*time.Hour), rec.deadlines["2"])
	require.Equal(t, []snowflake.ID{snowflake.ID(testUnlinkedRole)}, dir.granted["2"])
}

func TestRun_SafeSetBlocksStaleDemotion(t *testing.T) {
	rec := newFakeRecords()
	dir := newFakeDirectory()

	// Entitled at pass start, so in the safe set; the record then flips
	// mid-pass (a cancellation webhook landing between snapshot and visit).
	rec.add(&models.MemberRecord{MemberID: "1", Status: types.SubscriptionStatusActive})
	dir.add(1, testActiveRole)
	past := testNow.Add(-time.Hour)
	rec.onStream = func(memberID string) {
		if memberID == "1" {
			rec.rows["1"].Status = types.SubscriptionStatusCancelled
			rec.rows["1"].SubscriptionEnd = &past
			rec.rows["1"].LinkDeadline = &past
		}
	}

	r := newTestRunner(rec, dir)
	summary, err := r.Run(context.Background(), types.ScanTriggerTimer)
	require.NoError(t, err)

	require.Equal(t, 1, summary.Skipped)
	require.Equal(t, 0, summary.Demoted)
	require.Equal(t, 0, summary.Kicked)
	require.Empty(t, dir.revoked)
	require.Empty(t, dir.kicked)
}

func TestRun_MidPassActivationWinsOverSnapshot(t *testing.T) {
	rec := newFakeRecords()
	dir := newFakeDirectory()

	// Expired at pass start, but a webhook activates the record before the
	// pass reaches them. The live re-read must see the activation.
	past := testNow.Add(-time.Hour)
	rec.add(&models.MemberRecord{MemberID: "1", Status: types.SubscriptionStatusUnlinked, LinkDeadline: &past})
	dir.add(1, testUnlinkedRole)
	rec.onStream = func(memberID string) {
		rec.rows["1"].Status = types.SubscriptionStatusActive
	}

	r := newTestRunner(rec, dir)
	summary, err := r.Run(context.Background(), types.ScanTriggerTimer)
	require.NoError(t, err)

	require.Equal(t, 1, summary.Promoted)
	require.Equal(t, 0, summary.Kicked)
	require.Empty(t, dir.kicked)
}

func TestRun_ProtectedMembersAreSkipped(t *testing.T) {
	rec := newFakeRecords()
	dir := newFakeDirectory()
	past := testNow.Add(-time.Hour)

	rec.add(&models.MemberRecord{MemberID: "1", Status: types.SubscriptionStatusUnlinked, LinkDeadline: &past})
	dir.add(1, testActiveRole).Admin = true
	rec.add(&models.MemberRecord{MemberID: "2", Status: types.SubscriptionStatusUnlinked, LinkDeadline: &past})
	dir.add(2).Bot = true

	r := newTestRunner(rec, dir)
	summary, err := r.Run(context.Background(), types.ScanTriggerTimer)
	require.NoError(t, err)

	require.Equal(t, 2, summary.Skipped)
	require.Empty(t, dir.revoked)
	require.Empty(t, dir.kicked)
}

func TestRun_RecentJoinIsShielded(t *testing.T) {
	rec := newFakeRecords()
	dir := newFakeDirectory()
	past := testNow.Add(-time.Hour)

	rec.add(&models.MemberRecord{MemberID: "1", Status: types.SubscriptionStatusUnlinked, LinkDeadline: &past})
	dir.add(1, testUnlinkedRole).JoinedAt = testNow.Add(-30 * time.Second)

	r := newTestRunner(rec, dir)
	summary, err := r.Run(context.Background(), types.ScanTriggerTimer)
	require.NoError(t, err)

	require.Equal(t, 1, summary.Skipped)
	require.Empty(t, dir.kicked)
}

func TestRun_DepartedMemberIsSkipped(t *testing.T) {
	rec := newFakeRecords()
	dir := newFakeDirectory()
	rec.add(&models.MemberRecord{MemberID: "1", Status: types.SubscriptionStatusActive})

	r := newTestRunner(rec, dir)
	summary, err := r.Run(context.Background(), types.ScanTriggerTimer)
	require.NoError(t, err)

	require.Equal(t, 1, summary.Skipped)
	// The record stays for a possible return.
	require.Contains(t, rec.rows, "1")
}

func TestRun_SerializesConcurrentTriggers(t *testing.T) {
	rec := newFakeRecords()
	dir := newFakeDirectory()
	rec.add(&models.MemberRecord{MemberID: "1", Status: types.SubscriptionStatusActive})
	dir.add(1, testActiveRole)

	r := newTestRunner(rec, dir)

	var nested error
	rec.onStream = func(string) {
		_, nested = r.Run(context.Background(), types.ScanTriggerManual)
	}

	_, err := r.Run(context.Background(), types.ScanTriggerTimer)
	require.NoError(t, err)
	require.ErrorIs(t, nested, ErrScanInProgress)

	// The flag is released once the pass finishes.
	_, err = r.Run(context.Background(), types.ScanTriggerManual)
	require.NoError(t, err)
}

func TestRun_CancellationStopsThePass(t *testing.T) {
	rec := newFakeRecords()
	dir := newFakeDirectory()
	past := testNow.Add(-time.Hour)
	rec.add(&models.MemberRecord{MemberID: "1", Status: types.SubscriptionStatusUnlinked, LinkDeadline: &past})
	rec.add(&models.MemberRecord{MemberID: "2", Status: types.SubscriptionStatusUnlinked, LinkDeadline: &past})
	dir.add(1, testUnlinkedRole)
	dir.add(2, testUnlinkedRole)

	ctx, cancel := context.WithCancel(context.Background())
	rec.onStream = func(string) { cancel() }

	r := newTestRunner(rec, dir)
	summary, err := r.Run(ctx, types.ScanTriggerTimer)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	require.Empty(t, dir.kicked)
	require.Empty(t, rec.scanLogs)
}

func TestFixedDelayWait_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := FixedDelay{Delay: time.Minute}.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFixedDelayWait_ZeroDelayReturnsImmediately(t *testing.T) {
	require.NoError(t, FixedDelay{}.Wait(context.Background()))
}
