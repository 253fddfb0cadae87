package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSample = New(KindConflict, "sample_conflict", "冲突")

func TestWrappedErrorKeepsKindAndIdentity(t *testing.T) {
	wrapped := fmt.Errorf("写入专家 %d 失败: %w", 7, errSample.WithMessage("另一种说法"))

	assert.True(t, errors.Is(wrapped, errSample))
	assert.Equal(t, KindConflict, KindOf(wrapped))

	appErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "sample_conflict", appErr.Code)
	assert.Equal(t, "另一种说法", appErr.Message)
}

func TestPlainErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, KindOf(errors.New("boom")).HTTPStatus())
}

func TestHTTPStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, KindValidation.HTTPStatus())
	assert.Equal(t, http.StatusConflict, KindConflict.HTTPStatus())
	assert.Equal(t, http.StatusTooManyRequests, KindContention.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, KindNotFound.HTTPStatus())
	assert.Equal(t, http.StatusForbidden, KindForbidden.HTTPStatus())
	assert.Equal(t, http.StatusUnauthorized, KindUnauthorized.HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, KindUpstream.HTTPStatus())
}
