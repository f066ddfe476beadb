// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	assert.Nil(t, New("forward", "upstream", "s1", "127.0.0.1:1", nil))

	err := New("forward", "upstream", "s1", "127.0.0.1:1", io.ErrUnexpectedEOF)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.Equal(t, "forward (upstream) [s1] 127.0.0.1:1: unexpected EOF", err.Error())

	var perr *ProxyError
	assert.True(t, As(err, &perr))
	assert.Equal(t, "upstream", perr.Direction)
}

func TestNewWithoutSession(t *testing.T) {
	err := New("dial", "", "", "10.0.0.1:80", ErrDial)
	assert.Equal(t, "dial 10.0.0.1:80: failed to dial target", err.Error())
	assert.True(t, Is(err, ErrDial))
}
