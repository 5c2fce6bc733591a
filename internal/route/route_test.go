package route

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestFilterRules_MatchesNilAcceptsAll(t *testing.T) {
	var f *FilterRules
	assert.True(t, f.Matches("messages"))

	f = &FilterRules{}
	assert.True(t, f.Matches("status_failed"))
}

func TestFilterRules_MatchesRestrictsToSubset(t *testing.T) {
	f := &FilterRules{EventTypes: []string{"messages", "status_failed"}}
	assert.True(t, f.Matches("messages"))
	assert.True(t, f.Matches("status_failed"))
	assert.False(t, f.Matches("status_sent"))
}

func TestNormalizeFilterRules_EmptyArrayCollapsesToNil(t *testing.T) {
	assert.Nil(t, NormalizeFilterRules(nil))
	assert.Nil(t, NormalizeFilterRules(&FilterRules{EventTypes: []string{}}))

	nonEmpty := &FilterRules{EventTypes: []string{"messages"}}
	assert.Same(t, nonEmpty, NormalizeFilterRules(nonEmpty))
}

func TestSortByPriorityThenCreation(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	routes := []*Route{
		{ID: "low-early", Priority: 10, CreatedAt: now},
		{ID: "high-late", Priority: 50, CreatedAt: now.Add(time.Hour)},
		{ID: "high-early", Priority: 50, CreatedAt: now},
		{ID: "low-late", Priority: 10, CreatedAt: now.Add(time.Hour)},
	}

	SortByPriorityThenCreation(routes)

	ids := make([]string, len(routes))
	for i, r := range routes {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"high-early", "high-late", "low-early", "low-late"}, ids)
}

func TestFilterRules_CatchAllSourceIDSemantics(t *testing.T) {
	catchAll := &Route{SourceType: "whatsapp", SourceID: nil}
	specific := &Route{SourceType: "whatsapp", SourceID: strPtr("123")}

	assert.Nil(t, catchAll.SourceID)
	assert.Equal(t, "123", *specific.SourceID)
}
