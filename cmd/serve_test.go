package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/transfa/linkdrop-service/internal/config"
)

func TestCheckInternalKey(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		wantErr bool
		warned  bool
	}{
		{"key set", config.Config{AppEnv: "production", InternalAPIKey: "k"}, false, false},
		{"missing in production", config.Config{AppEnv: "production"}, true, false},
		{"blank in staging", config.Config{AppEnv: "staging", InternalAPIKey: "  "}, true, false},
		{"missing in development", config.Config{AppEnv: "Development"}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			err := checkInternalKey(tt.cfg, zap.New(core))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.warned, logs.Len() == 1)
		})
	}
}
