// SPDX-License-Identifier: GPL-2.0-or-later
package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupTracingNoopWithEmptyEndpoint(t *testing.T) {
	cleanup, err := SetupTracing(context.Background(), "svxlink-go", "")
	require.NoError(t, err)
	assert.NoError(t, cleanup(context.Background()))
}
