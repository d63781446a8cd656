package filter

import (
	"testing"

	"github.com/piggypost/piggypost/pkg/event"
	"github.com/piggypost/piggypost/pkg/kind"
	"github.com/piggypost/piggypost/pkg/tags"
	"github.com/piggypost/piggypost/pkg/timestamp"

	"github.com/stretchr/testify/require"
)

func ts(v int64) *timestamp.T {
	t := timestamp.T(v)
	return &t
}

func TestMatches(t *testing.T) {
	ev := &event.T{
		ID:        "abc",
		PubKey:    "author1",
		CreatedAt: 1700000000,
		Kind:      kind.TextNote,
		Tags:      tags.T{{"t", "piggypost"}, {"p", "peer1"}},
		Content:   "hi",
	}

	testCases := []struct {
		name  string
		f     T
		match bool
	}{
		{"empty filter matches all", T{}, true},
		{"kind match", T{Kinds: []kind.T{kind.TextNote}}, true},
		{"kind mismatch", T{Kinds: []kind.T{kind.ProfileMetadata}}, false},
		{"id match", T{IDs: []string{"abc"}}, true},
		{"id mismatch", T{IDs: []string{"def"}}, false},
		{"author match", T{Authors: []string{"author1", "author2"}}, true},
		{"author mismatch", T{Authors: []string{"author2"}}, false},
		{"tag match", T{Tags: TagMap{"t": {"piggypost"}}}, true},
		{"tag value mismatch", T{Tags: TagMap{"t": {"otherroom"}}}, false},
		{"tag key missing", T{Tags: TagMap{"e": {"abc"}}}, false},
		{"since inclusive", T{Since: ts(1700000000)}, true},
		{"since excludes older", T{Since: ts(1700000001)}, false},
		{"until inclusive", T{Until: ts(1700000000)}, true},
		{"until excludes newer", T{Until: ts(1699999999)}, false},
		{"combined", T{
			Kinds: []kind.T{kind.TextNote, kind.EncryptedDirectMessage},
			Tags:  TagMap{"t": {"piggypost"}},
			Since: ts(1690000000),
		}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.match, tc.f.Matches(ev))
		})
	}

	require.False(t, T{}.Matches(nil))
}

func TestMarshalWireForm(t *testing.T) {
	f := T{
		Kinds: []kind.T{kind.ProfileMetadata, kind.TextNote,
			kind.EncryptedDirectMessage},
		Tags:  TagMap{"t": {"piggypost"}},
		Since: ts(1700000000),
		Limit: 50,
	}

	b, err := f.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t,
		`{"kinds":[0,1,4],"#t":["piggypost"],"since":1700000000,"limit":50}`,
		string(b))
}

func TestUnmarshalWireForm(t *testing.T) {
	raw := `{"kinds":[0,1,4],"authors":["a1"],"#t":["piggypost"],"since":1700000000,"until":1800000000,"limit":10}`

	var f T
	require.NoError(t, f.UnmarshalJSON([]byte(raw)))

	require.Equal(t, []kind.T{0, 1, 4}, f.Kinds)
	require.Equal(t, []string{"a1"}, f.Authors)
	require.Equal(t, TagMap{"t": {"piggypost"}}, f.Tags)
	require.Equal(t, timestamp.T(1700000000), *f.Since)
	require.Equal(t, timestamp.T(1800000000), *f.Until)
	require.Equal(t, 10, f.Limit)

	require.Error(t, f.UnmarshalJSON([]byte("not json")))
	require.Error(t, f.UnmarshalJSON([]byte(`["array"]`)))
}

func TestRoundTripPreservesEquality(t *testing.T) {
	f := T{
		IDs:   []string{"id1", "id2"},
		Kinds: []kind.T{kind.TextNote},
		Tags:  TagMap{"t": {"piggypost"}, "p": {"peer1"}},
		Since: ts(123),
		Limit: 5,
	}

	b, err := f.MarshalJSON()
	require.NoError(t, err)

	var back T
	require.NoError(t, back.UnmarshalJSON(b))
	require.True(t, Equal(f, back))
}

func TestEqual(t *testing.T) {
	a := T{Kinds: []kind.T{1, 4}, Tags: TagMap{"t": {"x"}}, Since: ts(9)}
	b := T{Kinds: []kind.T{4, 1}, Tags: TagMap{"t": {"x"}}, Since: ts(9)}
	require.True(t, Equal(a, b))

	c := b.Clone()
	c.Tags["t"] = []string{"y"}
	require.False(t, Equal(a, c))
	// the clone owns its own tag map
	require.Equal(t, []string{"x"}, b.Tags["t"])
}
