package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupLogger(t *testing.T) {
	logger := SetupLogger(&LoggingOpts{Debug: true, JSON: true, Service: "test", Version: Version})
	require.NotNil(t, logger)

	logger = SetupLogger(&LoggingOpts{})
	require.NotNil(t, logger)
}
