package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/automata-backoffice/backoffice/internal/testing/guard"
	"github.com/automata-backoffice/backoffice/internal/users"
	"github.com/automata-backoffice/backoffice/jobs"
)

type fakeRuntime struct {
	calls    []string
	created  users.CreateUserInput
	unlocked string
	settings map[string]string
	closed   bool
	err      error
}

func (f *fakeRuntime) Migrate(context.Context) error {
	f.calls = append(f.calls, "migrate")
	return f.err
}

func (f *fakeRuntime) Bootstrap(context.Context) error {
	f.calls = append(f.calls, "bootstrap")
	return f.err
}

func (f *fakeRuntime) CreateUser(_ context.Context, input users.CreateUserInput) (users.User, error) {
	f.calls = append(f.calls, "create-user")
	f.created = input
	return users.User{Username: input.Username, AssignedRole: input.Role}, nil
}

func (f *fakeRuntime) UnlockUser(_ context.Context, username string) error {
	f.calls = append(f.calls, "unlock")
	f.unlocked = username
	return f.err
}

func (f *fakeRuntime) TriggerJob(_ context.Context, name string) (string, error) {
	f.calls = append(f.calls, "trigger:"+name)
	return "task-1", f.err
}

func (f *fakeRuntime) SetSetting(_ context.Context, key, value string) error {
	if f.settings == nil {
		f.settings = map[string]string{}
	}
	f.settings[key] = value
	return f.err
}

func (f *fakeRuntime) Close() error {
	f.closed = true
	return nil
}

func run(t *testing.T, rt *fakeRuntime, args ...string) (string, error) {
	t.Helper()
	stdout := new(bytes.Buffer)
	root := NewRootCmd(func(context.Context) (Runtime, error) { return rt, nil }, stdout)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

func TestBootstrapWithAdmin(t *testing.T) {
	rt := &fakeRuntime{}
	out, err := run(t, rt, "bootstrap", "--admin-username", "root", "--admin-email", "root@example.com", "--admin-password", "changeme1")
	require.NoError(t, err)
	require.Equal(t, []string{"bootstrap", "create-user"}, rt.calls)
	require.Equal(t, "checker", rt.created.Role)
	require.Contains(t, out, "created root with role checker")
	require.True(t, rt.closed)
}

func TestBootstrapRequiresAdminPassword(t *testing.T) {
	rt := &fakeRuntime{}
	_, err := run(t, rt, "bootstrap", "--admin-username", "root")
	require.ErrorContains(t, err, "--admin-password")
	require.Empty(t, rt.calls)
}

func TestUnlockUser(t *testing.T) {
	rt := &fakeRuntime{}
	out, err := run(t, rt, "unlock-user", "alice")
	require.NoError(t, err)
	require.Equal(t, "alice", rt.unlocked)
	require.Contains(t, out, "unlocked alice")

	_, err = run(t, &fakeRuntime{}, "unlock-user")
	require.Error(t, err)
}

func TestJobsTrigger(t *testing.T) {
	rt := &fakeRuntime{}
	out, err := run(t, rt, "jobs", "trigger", jobs.TaskDisableInactive)
	require.NoError(t, err)
	require.Equal(t, []string{"trigger:" + jobs.TaskDisableInactive}, rt.calls)
	require.Contains(t, out, "id=task-1")

	rt = &fakeRuntime{}
	_, err = run(t, rt, "jobs", "trigger", "mail:send")
	require.ErrorContains(t, err, "unsupported task")
	require.Empty(t, rt.calls)
}

func TestSettingsSetAndMigrateErrors(t *testing.T) {
	rt := &fakeRuntime{}
	_, err := run(t, rt, "settings", "set", "LA_001", "locked for {} minutes")
	require.NoError(t, err)
	require.Equal(t, "locked for {} minutes", rt.settings["LA_001"])

	boom := errors.New("connection refused")
	_, err = run(t, &fakeRuntime{err: boom}, "migrate")
	require.ErrorIs(t, err, boom)
}
