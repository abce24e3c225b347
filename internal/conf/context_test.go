package conf

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d-kessler/CountertopDarkMatter/internal/buildinfo"
)

func TestContextCloseOrder(t *testing.T) {
	t.Parallel()

	ctx := NewContext(buildinfo.NewContext("1.0.0", ""))
	require.NotNil(t, ctx.Logger)

	var order []string
	ctx.AddCloser(func() error { order = append(order, "logger"); return nil })
	ctx.AddCloser(func() error { order = append(order, "store"); return fmt.Errorf("store busy") })
	ctx.AddCloser(func() error { order = append(order, "telemetry"); return nil })

	err := ctx.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store busy")
	assert.Equal(t, []string{"telemetry", "store", "logger"}, order)

	require.NoError(t, ctx.Close(), "closers run once")
	assert.Len(t, order, 3)
}
