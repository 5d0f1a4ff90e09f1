package notifier

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/aipulse/pkg/notify"
)

var (
	_ notify.Notifier = (*Desktop)(nil)
	_ notify.Notifier = (*Writer)(nil)
	_ notify.Notifier = Multi(nil)
)

type call struct {
	name string
	args []string
}

func fakeDesktop(goos string, err error) (*Desktop, *[]call) {
	var calls []call
	return &Desktop{goos: goos, run: func(name string, args ...string) error {
		calls = append(calls, call{name, args})
		return err
	}}, &calls
}

func TestDesktop_Linux(t *testing.T) {
	d, calls := fakeDesktop("linux", nil)

	require.NoError(t, d.Show("50% Usage Alert", "5-hour limit is at 50% usage"))

	require.Len(t, *calls, 1)
	assert.Equal(t, "notify-send", (*calls)[0].name)
	assert.Equal(t, []string{"--app-name=AI Pulse", "50% Usage Alert", "5-hour limit is at 50% usage"}, (*calls)[0].args)
}

func TestDesktop_Darwin(t *testing.T) {
	d, calls := fakeDesktop("darwin", nil)

	require.NoError(t, d.Show(`Say "hi"`, "body"))

	require.Len(t, *calls, 1)
	assert.Equal(t, "osascript", (*calls)[0].name)
	assert.Equal(t, []string{"-e", `display notification "body" with title "Say \"hi\""`}, (*calls)[0].args)
}

func TestDesktop_DarwinKeepsUnicode(t *testing.T) {
	d, calls := fakeDesktop("darwin", nil)

	require.NoError(t, d.Show("Café ⚠", `C:\tmp "x"`))

	require.Len(t, *calls, 1)
	assert.Equal(t, []string{"-e", `display notification "C:\\tmp \"x\"" with title "Café ⚠"`}, (*calls)[0].args)
}

func TestDesktop_Errors(t *testing.T) {
	d, _ := fakeDesktop("linux", errors.New("no daemon"))
	assert.Error(t, d.Show("t", "b"))

	d, calls := fakeDesktop("plan9", nil)
	assert.ErrorIs(t, d.Show("t", "b"), ErrUnsupported)
	assert.Empty(t, *calls)
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Show("Usage Reset", "5-hour limit has reset! Now at 3%"))
	assert.Equal(t, "[Usage Reset] 5-hour limit has reset! Now at 3%\n", buf.String())
}

func TestMulti(t *testing.T) {
	var buf bytes.Buffer
	failing, _ := fakeDesktop("linux", errors.New("no daemon"))
	m := Multi{failing, NewWriter(&buf)}

	err := m.Show("t", "b")
	assert.Error(t, err)
	assert.Equal(t, "[t] b\n", buf.String(), "later notifiers still run")
}
