package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zap.AtomicLevel
		wantErr bool
	}{
		{in: "", want: zap.NewAtomicLevelAt(zap.InfoLevel)},
		{in: "DEBUG", want: zap.NewAtomicLevelAt(zap.DebugLevel)},
		{in: "warning", want: zap.NewAtomicLevelAt(zap.WarnLevel)},
		{in: "error", want: zap.NewAtomicLevelAt(zap.ErrorLevel)},
		{in: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			lvl, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Level(), lvl)
		})
	}
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample().Sugar()
	assert.Same(t, l, OrNop(l))
}
