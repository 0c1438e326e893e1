package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindInternal, "internal"},
		{KindValidation, "validation"},
		{KindNotFound, "not_found"},
		{KindConflict, "conflict"},
		{KindUnavailable, "unavailable"},
		{KindUnknown, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestWrapKeepsChain(t *testing.T) {
	base := stderrors.New("disk full")
	err := Wrap(base, KindUnavailable, "could not append")

	assert.Equal(t, "could not append: disk full", err.Error())
	assert.True(t, Is(err, base))
	assert.Equal(t, KindUnavailable, GetKind(err))
	assert.Nil(t, Wrap(nil, KindInternal, "nothing"))
}

func TestGetKindThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("loading: %w", New(KindNotFound, "script not found"))
	assert.Equal(t, KindNotFound, GetKind(err))
	assert.Equal(t, KindUnknown, GetKind(stderrors.New("plain")))
}

func TestAttr(t *testing.T) {
	err := Attr(Errorf(KindValidation, "bad unit %d", 0), "unit", 0)
	err = Attr(err, "test", "T")

	attrs := GetAttributes(err)
	assert.Equal(t, 0, attrs["unit"])
	assert.Equal(t, "T", attrs["test"])

	plain := Attr(stderrors.New("boom"), "k", "v")
	assert.Equal(t, KindInternal, GetKind(plain))
}

func TestAttr_DoesNotTouchSentinel(t *testing.T) {
	sentinel := New(KindNotFound, "missing")
	wrapped := Attr(fmt.Errorf("%w: run 7", sentinel), "id", "7")

	assert.Equal(t, "missing: run 7", wrapped.Error())
	assert.Equal(t, KindNotFound, GetKind(wrapped))
	assert.True(t, Is(wrapped, sentinel))
	assert.Empty(t, GetAttributes(sentinel))

	direct := Attr(sentinel, "id", "8")
	assert.Equal(t, "8", GetAttributes(direct)["id"])
	assert.True(t, Is(direct, sentinel))
	assert.Empty(t, GetAttributes(sentinel))
}

func TestAttr_PlainErrorKeepsMessage(t *testing.T) {
	base := stderrors.New("boom")
	err := Attr(base, "k", "v")

	assert.Equal(t, "boom", err.Error())
	assert.True(t, Is(err, base))
	assert.Equal(t, "v", GetAttributes(err)["k"])
}

func TestGetAttributes_OuterShadowsInner(t *testing.T) {
	err := Attr(New(KindConflict, "busy"), "id", "inner")
	err = Wrapf(err, KindUnavailable, "retry %d", 2)
	err = Attr(err, "id", "outer")

	assert.Equal(t, "retry 2: busy", err.Error())
	assert.Equal(t, KindUnavailable, GetKind(err))
	assert.Equal(t, "outer", GetAttributes(err)["id"])
	assert.Equal(t, "unknown", Kind(42).String())
}
