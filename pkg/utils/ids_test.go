package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID_IsVersion7(t *testing.T) {
	id, err := uuid.Parse(NewID())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
}

func TestNewCode(t *testing.T) {
	at := time.UnixMilli(1700000000000)

	code := NewCode("WF-", at)

	assert.True(t, strings.HasPrefix(code, "WF-LOYW3V28-"), code)
	assert.Len(t, code, len("WF-LOYW3V28-")+4)
	assert.Equal(t, strings.ToUpper(code), code)
}
