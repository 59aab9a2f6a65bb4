package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoggingCmd(t *testing.T, level string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	if level != "" {
		require.NoError(t, cmd.Flags().Set("log-level", level))
	}
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name        string
		flag        string
		configLevel string
		want        logrus.Level
		wantErr     bool
	}{
		{name: "silent by default", want: logrus.PanicLevel},
		{name: "config level", configLevel: "warn", want: logrus.WarnLevel},
		{name: "flag wins over config", flag: "debug", configLevel: "error", want: logrus.DebugLevel},
		{name: "warning alias", flag: "warning", want: logrus.WarnLevel},
		{name: "invalid", flag: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := configureLogger(newLoggingCmd(t, tt.flag), tt.configLevel)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}
