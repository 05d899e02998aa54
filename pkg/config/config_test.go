package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyphal-go/gocyphal/pkg/cyphal"
)

const manifest = `
[message:100]
Extent = 64
TimeoutMs = 500

[request:42]
Extent = 256
TimeoutMs = 2000

[response:42]
Extent = 256
`

func TestLoadBytesParsesSubscriptions(t *testing.T) {
	subs, err := LoadBytes([]byte(manifest))
	require.NoError(t, err)
	require.Len(t, subs, 3)

	find := func(kind cyphal.TransferKind, portID cyphal.PortID) cyphal.Subscription {
		for _, s := range subs {
			if s.Matches(kind, portID) {
				return s
			}
		}
		t.Fatalf("no subscription for kind=%v port=%v", kind, portID)
		return cyphal.Subscription{}
	}

	msg := find(cyphal.TransferKindMessage, 100)
	assert.Equal(t, 64, msg.Extent)
	assert.Equal(t, 500*time.Millisecond, msg.Timeout)

	req := find(cyphal.TransferKindRequest, 42)
	assert.Equal(t, 256, req.Extent)
	assert.Equal(t, 2*time.Second, req.Timeout)

	resp := find(cyphal.TransferKindResponse, 42)
	assert.Equal(t, 256, resp.Extent)
	assert.Equal(t, time.Duration(0), resp.Timeout)
}

func TestLoadBytesRejectsMissingExtent(t *testing.T) {
	_, err := LoadBytes([]byte("[message:5]\nTimeoutMs = 10\n"))
	assert.Error(t, err)
}

func TestLoadBytesIgnoresUnrelatedSections(t *testing.T) {
	subs, err := LoadBytes([]byte("[unrelated]\nFoo = bar\n"))
	require.NoError(t, err)
	assert.Empty(t, subs)
}
