package grammar

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingListener struct{ names []string }

func (r *recordingListener) listChanged(name string) { r.names = append(r.names, name) }

func TestListMutations(t *testing.T) {
	t.Parallel()

	l := NewList("l", " a ", "", "b  c")
	require.Equal(t, []string{"a", "b c"}, l.Items())
	require.Zero(t, l.Version())

	var rec recordingListener
	l.addListener(&rec)
	l.addListener(&rec)

	l.Append("d")
	require.False(t, l.Remove("missing"))
	require.True(t, l.Remove("a"))
	l.Extend()
	require.Equal(t, []string{"b c", "d"}, l.Items())
	require.Equal(t, uint64(2), l.Version())
	require.Equal(t, []string{"l", "l"}, rec.names)

	l.removeListener(&rec)
	l.Clear()
	require.Zero(t, l.Len())
	require.Len(t, rec.names, 2)
}

func TestDictListMutations(t *testing.T) {
	t.Parallel()

	d := NewDictList("d")
	d.Put("zeta", 1)
	d.Put("alpha", 2)
	d.Put("zeta", 3)
	require.Equal(t, []string{"zeta", "alpha"}, d.Keys())
	v, ok := d.Get("zeta")
	require.True(t, ok)
	require.Equal(t, 3, v)
	require.Equal(t, uint64(3), d.Version())

	require.False(t, d.Delete("nope"))
	require.Equal(t, uint64(3), d.Version())

	d.Set(map[string]any{"b": 1, "a": 2})
	require.Equal(t, []string{"a", "b"}, d.Keys())
	require.True(t, d.Delete("a"))
	require.Equal(t, 1, d.Len())
}

func TestContexts(t *testing.T) {
	t.Parallel()

	win := Window{Executable: "/usr/bin/firefox", Title: "Inbox - Mail"}
	require.True(t, AppContext{Executable: "Firefox"}.Matches(win))
	require.True(t, AppContext{Title: "inbox"}.Matches(win))
	require.False(t, AppContext{Executable: "firefox", Title: "calendar"}.Matches(win))
	require.True(t, AppContext{Executable: "code", Exclude: true}.Matches(win))

	require.True(t, And(AppContext{Executable: "firefox"}, AppContext{Title: "mail"}).Matches(win))
	require.True(t, Or(AppContext{Executable: "code"}, AppContext{Title: "mail"}).Matches(win))
	require.False(t, Not(AppContext{Executable: "firefox"}).Matches(win))
	require.False(t, Not(nil).Matches(win))
}
