package profiles

import (
	"testing"

	"github.com/piggypost/piggypost/pkg/store"

	"github.com/stretchr/testify/require"
)

const pub = "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

func TestParseContent(t *testing.T) {
	p, err := ParseContent(`{"name":"piggy","about":"oink","picture":"ignored"}`)
	require.NoError(t, err)
	require.Equal(t, "piggy", p.Name)
	require.Equal(t, "oink", p.About)

	_, err = ParseContent("not json")
	require.Error(t, err)
}

func TestParseContentRequiresName(t *testing.T) {
	for _, content := range []string{
		`{"about":"no name here"}`,
		`{}`,
		`null`,
	} {
		_, err := ParseContent(content)
		require.ErrorIs(t, err, ErrNoName, "content %q", content)
	}

	// an explicitly empty name is still a name field
	p, err := ParseContent(`{"name":""}`)
	require.NoError(t, err)
	require.Equal(t, "", p.Name)
}

func TestApplyFirstSeen(t *testing.T) {
	s := New(nil)

	prev, existed, applied := s.Apply(pub, Profile{Name: "piggy"}, 100)
	require.True(t, applied)
	require.False(t, existed)
	require.Equal(t, Record{}, prev)

	rec, ok := s.Get(pub)
	require.True(t, ok)
	require.Equal(t, "piggy", rec.Name)
}

func TestApplyLastWriteWins(t *testing.T) {
	s := New(nil)
	s.Apply(pub, Profile{Name: "old"}, 100)

	// a newer profile replaces
	prev, existed, applied := s.Apply(pub, Profile{Name: "new"}, 200)
	require.True(t, applied)
	require.True(t, existed)
	require.Equal(t, "old", prev.Name)

	// a stale profile arriving late changes nothing
	_, _, applied = s.Apply(pub, Profile{Name: "stale"}, 150)
	require.False(t, applied)
	rec, _ := s.Get(pub)
	require.Equal(t, "new", rec.Name)
	require.EqualValues(t, 200, rec.UpdatedAt)

	// replays of the applied event are idempotent in effect
	_, _, applied = s.Apply(pub, Profile{Name: "new"}, 200)
	require.True(t, applied)
	rec, _ = s.Get(pub)
	require.Equal(t, "new", rec.Name)
}

func TestPersistence(t *testing.T) {
	kv := store.NewMemory()

	s := New(kv)
	s.Apply(pub, Profile{Name: "piggy", About: "oink"}, 100)

	// a fresh store over the same KV sees the record
	s2 := New(kv)
	rec, ok := s2.Get(pub)
	require.True(t, ok)
	require.Equal(t, "piggy", rec.Name)
	require.Equal(t, "oink", rec.About)
	require.EqualValues(t, 100, rec.UpdatedAt)
}

func TestDisplayName(t *testing.T) {
	s := New(nil)

	require.Equal(t, pub[:8]+"…", s.DisplayName(pub))
	require.Equal(t, "short", s.DisplayName("short"))

	s.Apply(pub, Profile{Name: "piggy"}, 100)
	require.Equal(t, "piggy", s.DisplayName(pub))

	// a record with an empty name still falls back
	s.Apply(pub, Profile{}, 200)
	require.Equal(t, pub[:8]+"…", s.DisplayName(pub))
}
