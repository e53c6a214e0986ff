package wherematch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latchflow/core/pkg/rules"
)

func i64p(i int64) *int64 { return &i }

func TestMatch_NilWhereMatchesEverything(t *testing.T) {
	require.True(t, Match(nil, &Request{}, Context{}, time.Now()))
}

func TestMatch_BundleIDsRequiresIntersection(t *testing.T) {
	where := &rules.Where{BundleIDs: []string{"b1", "b2"}}
	req := &Request{Body: map[string]interface{}{"bundleId": "b2"}}
	require.True(t, Match(where, req, Context{}, time.Now()))

	req2 := &Request{Body: map[string]interface{}{"bundleId": "other"}}
	require.False(t, Match(where, req2, Context{}, time.Now()))
}

func TestMatch_EmptyCandidatesAgainstConstraintIsMiss(t *testing.T) {
	where := &rules.Where{BundleIDs: []string{"b1"}}
	require.False(t, Match(where, &Request{}, Context{}, time.Now()))
}

func TestMatch_SystemOnlyRequiresMatchingActor(t *testing.T) {
	where := &rules.Where{SystemOnly: true}
	require.True(t, Match(where, &Request{}, Context{UserID: "sys", SystemUserID: "sys"}, time.Now()))
	require.False(t, Match(where, &Request{}, Context{UserID: "bob", SystemUserID: "sys"}, time.Now()))
}

func TestMatch_OwnerIsSelfChecksMultipleLocations(t *testing.T) {
	where := &rules.Where{OwnerIsSelf: true}
	req := &Request{Body: map[string]interface{}{"ownerId": "u1"}}
	require.True(t, Match(where, req, Context{UserID: "u1"}, time.Now()))
	require.False(t, Match(where, req, Context{UserID: "u2"}, time.Now()))
}

func TestMatch_TimeWindowBounds(t *testing.T) {
	now := time.Unix(1000, 0)
	where := &rules.Where{TimeWindow: &rules.TimeRange{Since: i64p(500), Until: i64p(1500)}}
	require.True(t, Match(where, &Request{}, Context{}, now))

	outside := time.Unix(2000, 0)
	require.False(t, Match(where, &Request{}, Context{}, outside))
}

func TestMatch_RecipientTagsAnyIntersectsBodyAndNestedRecipient(t *testing.T) {
	where := &rules.Where{RecipientTagsAny: []string{"vip"}}
	req := &Request{Body: map[string]interface{}{
		"recipient": map[string]interface{}{"tags": []interface{}{"vip", "other"}},
	}}
	require.True(t, Match(where, req, Context{}, time.Now()))
}
