package logger_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/marketfeed/pkg/config"
	"github.com/wyfcoding/marketfeed/pkg/logger"
)

func TestNew_WritesJSONToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "marketfeed.log")
	l, err := logger.New(config.LogConfig{
		Level:    "debug",
		Format:   "json",
		Output:   "file",
		FilePath: path,
		MaxSize:  1,
	}, "marketfeed-test")
	require.NoError(t, err)

	logger.Component(l, "fetcher").Debug("poll finished", "symbols", 3)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.True(t, strings.Contains(line, `"service":"marketfeed-test"`), line)
	assert.Contains(t, line, `"component":"fetcher"`)
	assert.Contains(t, line, `"msg":"poll finished"`)
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	l := logger.Discard()
	ctx := logger.WithLogger(context.Background(), l)
	assert.Same(t, l, logger.FromContext(ctx))
	assert.NotNil(t, logger.FromContext(context.Background()))
}
