package httpx

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDContext(t *testing.T) {
	_, ok := RequestIDFromContext(context.Background())
	assert.False(t, ok)

	ctx := SetRequestIDInContext(context.Background(), "abc")
	id, ok := RequestIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	// Empty IDs leave the context untouched.
	assert.Equal(t, ctx, SetRequestIDInContext(ctx, ""))
}

func TestRequestIDRejectsOversizedHeader(t *testing.T) {
	long := strings.Repeat("a", 129)
	var seen string
	h := RequestID()(handlerFunc(func(ctx context.Context) { seen, _ = RequestIDFromContext(ctx) }))
	serveWithHeader(h, RequestIDHeader, long)
	assert.NotEqual(t, long, seen)
	assert.Len(t, seen, 36)
}
