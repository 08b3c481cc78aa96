package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	p := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadDirSections(t *testing.T) {
	d := t.TempDir()
	writeFile(t, d, "characters/ann.yaml", "name: Ann\ndescription: kind\n")
	writeFile(t, d, "characters/bob.json", `{"description":"a user"}`)
	writeFile(t, d, "characters/notes.txt", "ignored")
	writeFile(t, d, "instructs/alpaca.toml", "input_prefix = \"### Instruction:\"\n")
	writeFile(t, d, "presets/short.yaml", "genamt: 64\nseed: 7\n")
	writeFile(t, d, "chats/first.yaml", "character: ann\nuser: bob\nmessages:\n  - name: Bob\n    is_user: true\n    swipes:\n      - text: Hi\n")

	lib, err := LoadDir(d)
	require.NoError(t, err)

	require.Equal(t, []string{"ann", "bob"}, lib.IDs(Characters))
	ann, err := lib.Character("ann")
	require.NoError(t, err)
	require.Equal(t, "ann", ann.ID)
	require.Equal(t, "Ann", ann.Name)
	bob, err := lib.Character("bob")
	require.NoError(t, err)
	require.Equal(t, "bob", bob.Name)

	f, err := lib.Instruct("alpaca")
	require.NoError(t, err)
	require.Equal(t, "alpaca", f.Name)

	p, err := lib.Preset("short")
	require.NoError(t, err)
	require.Equal(t, 64, p.GenAmount)
	require.Equal(t, 4096, p.MaxLength, "unset fields keep defaults")

	c, err := lib.Chat("first")
	require.NoError(t, err)
	require.Equal(t, "ann", c.Character)
	require.Len(t, c.Messages, 1)
	require.Equal(t, "Hi", c.Messages[0].Active().Text)
	c.Messages[0].Swipes[0].Text = "changed"
	again, _ := lib.Chat("first")
	require.Equal(t, "Hi", again.Messages[0].Active().Text)
}

func TestLoadDirMissingSectionsAndErrors(t *testing.T) {
	d := t.TempDir()
	lib, err := LoadDir(d)
	require.NoError(t, err)
	require.Empty(t, lib.IDs(Presets))

	_, err = lib.Preset("none")
	var nf NotFoundError
	require.True(t, errors.As(err, &nf))
	require.Equal(t, Presets, nf.Section)

	writeFile(t, d, "presets/broken.json", "{")
	_, err = LoadDir(d)
	require.Error(t, err)
}

func TestLocateAndReload(t *testing.T) {
	d := t.TempDir()
	p := writeFile(t, d, "characters/ann.yaml", "name: Ann\n")
	lib, err := LoadDir(d)
	require.NoError(t, err)

	sec, id, ok := lib.Locate(p)
	require.True(t, ok)
	require.Equal(t, Characters, sec)
	require.Equal(t, "ann", id)
	_, _, ok = lib.Locate(filepath.Join(d, "other", "x.yaml"))
	require.False(t, ok)
	_, _, ok = lib.Locate(filepath.Join(d, "characters", "x.txt"))
	require.False(t, ok)

	writeFile(t, d, "characters/ann.yaml", "name: Annie\n")
	_, _, err = lib.Reload(p)
	require.NoError(t, err)
	c, _ := lib.Character("ann")
	require.Equal(t, "Annie", c.Name)

	require.NoError(t, os.Remove(p))
	_, _, err = lib.Reload(p)
	require.NoError(t, err)
	_, err = lib.Character("ann")
	require.Error(t, err)
}
