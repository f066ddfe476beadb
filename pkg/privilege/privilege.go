// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package privilege switches the process identity after the listener is
// bound to a privileged port.
package privilege

import (
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"strconv"
	"syscall"

	"github.com/xcvbn23/gateway/pkg/errors"
)

// PrivilegedPortLimit is the first port an unprivileged process may bind.
const PrivilegedPortLimit = 1024

// Identity describes a user and group pair.
type Identity struct {
	User  string
	UID   int
	Group string
	GID   int
}

// Required reports whether the identity switch applies. A user or group
// configured for an unprivileged port is never applied.
func Required(port int, userName, groupName string) bool {
	return port < PrivilegedPortLimit && (userName != "" || groupName != "")
}

// Manager performs the identity switch. The zero value is not usable; use New.
type Manager struct {
	logger *slog.Logger

	lookupUser  func(name string) (*user.User, error)
	lookupGroup func(name string) (*user.Group, error)
	setgroups   func(gids []int) error
	setgid      func(gid int) error
	setuid      func(uid int) error
}

// New creates a Manager that acts on the running process. Every credential
// change must reach all OS threads, so the syscall package is used: x/sys
// Setgroups only changes the calling thread.
func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:      logger,
		lookupUser:  user.Lookup,
		lookupGroup: user.LookupGroup,
		setgroups:   syscall.Setgroups,
		setgid:      syscall.Setgid,
		setuid:      syscall.Setuid,
	}
}

// Drop switches to groupName and then to userName. Either may be empty.
// The group goes first: after setuid the process can no longer change its
// group.
func (m *Manager) Drop(userName, groupName string) error {
	if groupName != "" {
		g, err := m.lookupGroup(groupName)
		if err != nil {
			return fmt.Errorf("%w %q: %v", errors.ErrUnknownGroup, groupName, err)
		}
		gid, err := strconv.Atoi(g.Gid)
		if err != nil {
			return fmt.Errorf("%w: group %q has non-numeric gid %q", errors.ErrUnknownGroup, groupName, g.Gid)
		}
		if err := m.setgroups([]int{gid}); err != nil {
			return fmt.Errorf("%w: setgroups(%d): %v", errors.ErrPrivilegeDrop, gid, err)
		}
		if err := m.setgid(gid); err != nil {
			return fmt.Errorf("%w: setgid(%d): %v", errors.ErrPrivilegeDrop, gid, err)
		}
		m.logger.Info("running as group", slog.String("group", groupName), slog.Int("gid", gid))
	}

	if userName != "" {
		u, err := m.lookupUser(userName)
		if err != nil {
			return fmt.Errorf("%w %q: %v", errors.ErrUnknownUser, userName, err)
		}
		uid, err := strconv.Atoi(u.Uid)
		if err != nil {
			return fmt.Errorf("%w: user %q has non-numeric uid %q", errors.ErrUnknownUser, userName, u.Uid)
		}
		if err := m.setuid(uid); err != nil {
			return fmt.Errorf("%w: setuid(%d): %v", errors.ErrPrivilegeDrop, uid, err)
		}
		m.logger.Info("running as user", slog.String("user", userName), slog.Int("uid", uid))
	}

	return nil
}

// Current returns the identity of the running process. Names that cannot be
// resolved are left empty.
func Current() Identity {
	id := Identity{UID: os.Getuid(), GID: os.Getgid()}
	if u, err := user.LookupId(strconv.Itoa(id.UID)); err == nil {
		id.User = u.Username
	}
	if g, err := user.LookupGroupId(strconv.Itoa(id.GID)); err == nil {
		id.Group = g.Name
	}
	return id
}
