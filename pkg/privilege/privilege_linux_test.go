// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package privilege

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const childEnv = "GATEWAY_PRIVILEGE_CHILD"

// inChild re-executes the named test in a fresh process and reports whether
// the caller is that process. Credential changes cannot be undone, so they
// never run in the parent test binary.
func inChild(t *testing.T, name string) bool {
	t.Helper()
	if os.Getenv(childEnv) == "1" {
		return true
	}
	if os.Geteuid() != 0 {
		t.Skip("changing credentials requires root")
	}

	cmd := exec.Command(os.Args[0], "-test.run=^"+name+"$", "-test.v")
	cmd.Env = append(os.Environ(), childEnv+"=1")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return false
}

// threadStatus returns one /proc status field for every thread of the process.
func threadStatus(t *testing.T, field string) map[string]string {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/task")
	require.NoError(t, err)

	status := make(map[string]string, len(entries))
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join("/proc/self/task", e.Name(), "status"))
		if err != nil {
			// Thread exited.
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			if v, ok := strings.CutPrefix(line, field+":"); ok {
				status[e.Name()] = strings.Join(strings.Fields(v), " ")
			}
		}
	}
	return status
}

func unprivilegedGroup(t *testing.T) *user.Group {
	t.Helper()
	for _, name := range []string{"nogroup", "nobody"} {
		if g, err := user.LookupGroup(name); err == nil {
			return g
		}
	}
	t.Skip("no nogroup or nobody group on this system")
	return nil
}

func TestDrop_AppliesToEveryThread(t *testing.T) {
	if !inChild(t, "TestDrop_AppliesToEveryThread") {
		return
	}

	group := unprivilegedGroup(t)
	gid, err := strconv.Atoi(group.Gid)
	require.NoError(t, err)
	require.NoError(t, syscall.Setgroups([]int{0, 4242}))

	// Park goroutines on their own threads so the process has several.
	release := make(chan struct{})
	defer close(release)
	var parked sync.WaitGroup
	for i := 0; i < 4; i++ {
		parked.Add(1)
		go func() {
			runtime.LockOSThread()
			parked.Done()
			<-release
		}()
	}
	parked.Wait()

	require.NoError(t, New(nil).Drop("", group.Name))

	groups := threadStatus(t, "Groups")
	require.GreaterOrEqual(t, len(groups), 5)
	for tid, g := range groups {
		assert.Equal(t, group.Gid, g, "supplementary groups of thread %s", tid)
	}
	want := fmt.Sprintf("%d %d %d %d", gid, gid, gid, gid)
	for tid, g := range threadStatus(t, "Gid") {
		assert.Equal(t, want, g, "gids of thread %s", tid)
	}
}
