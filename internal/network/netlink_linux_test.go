//go:build linux

package network

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetlinkMissingInterface(t *testing.T) {
	c, err := New(ModeNetlink, nil, 0)
	require.NoError(t, err)

	err = c.Configure(context.Background(), "olinky-miss0", "192.168.42.1/24")
	assert.Error(t, err)

	// Tearing down an interface that is gone is fine.
	assert.NoError(t, c.Teardown(context.Background(), "olinky-miss0"))
}

func TestNetlinkRejectsBadAddress(t *testing.T) {
	c := &NetlinkConfigurator{}
	assert.Error(t, c.Configure(context.Background(), "lo", "not-an-address"))
}
