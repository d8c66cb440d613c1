package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quiethall/doorman/internal/models"
	"github.com/quiethall/doorman/pkg/types"
)

func TestClassify(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		rec  *models.MemberRecord
		want Class
	}{
		{
			name: "nil record is unlinked",
			rec:  nil,
			want: ClassUnlinked,
		},
		{
			name: "active subscription",
			rec:  &models.MemberRecord{Status: types.SubscriptionStatusActive},
			want: ClassActive,
		},
		{
			name: "active ignores lapsed deadline",
			rec:  &models.MemberRecord{Status: types.SubscriptionStatusActive, LinkDeadline: &past},
			want: ClassActive,
		},
		{
			name: "cancelled within paid period is grace",
			rec:  &models.MemberRecord{Status: types.SubscriptionStatusCancelled, SubscriptionEnd: &future},
			want: ClassGrace,
		},
		{
			name: "cancelled with lapsed period and no deadline",
			rec:  &models.MemberRecord{Status: types.SubscriptionStatusCancelled, SubscriptionEnd: &past},
			want: ClassUnlinked,
		},
		{
			name: "cancelled with lapsed period and lapsed deadline",
			rec:  &models.MemberRecord{Status: types.SubscriptionStatusCancelled, SubscriptionEnd: &past, LinkDeadline: &past},
			want: ClassExpired,
		},
		{
			name: "cancelled with nil end behaves like unlinked",
			rec:  &models.MemberRecord{Status: types.SubscriptionStatusCancelled},
			want: ClassUnlinked,
		},
		{
			name: "unlinked before deadline",
			rec:  &models.MemberRecord{Status: types.SubscriptionStatusUnlinked, LinkDeadline: &future},
			want: ClassUnlinked,
		},
		{
			name: "unlinked past deadline is expired",
			rec:  &models.MemberRecord{Status: types.SubscriptionStatusUnlinked, LinkDeadline: &past},
			want: ClassExpired,
		},
		{
			name: "unlinked with no deadline never expires",
			rec:  &models.MemberRecord{Status: types.SubscriptionStatusUnlinked},
			want: ClassUnlinked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Classify(tt.rec, now))
		})
	}
}

func TestClassEntitled(t *testing.T) {
	require.True(t, ClassActive.Entitled())
	require.True(t, ClassGrace.Entitled())
	require.False(t, ClassUnlinked.Entitled())
	require.False(t, ClassExpired.Entitled())
}
