package oracle

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ybdigitall/closai/pkg/entitlement"
)

func TestErrorIs(t *testing.T) {
	tests := []struct {
		kind   ErrorKind
		target error
	}{
		{KindCatalogUnavailable, ErrCatalogUnavailable},
		{KindProductNotFound, ErrProductNotFound},
		{KindUnverified, ErrUnverified},
		{KindPending, ErrPending},
		{KindNetwork, ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := fmt.Errorf("outer: %w", NewError(tt.kind, "purchase", errors.New("boom")))
			assert.ErrorIs(t, err, tt.target)
			assert.True(t, IsRetryable(err))
		})
	}

	assert.NotErrorIs(t, NewError(KindPending, "purchase", nil), ErrNetwork)
}

func TestWrapClassifies(t *testing.T) {
	assert.Equal(t, KindNetwork, wrap("refresh", KindUnknown, context.DeadlineExceeded).Kind)
	assert.Equal(t, KindNetwork, wrap("refresh", KindUnknown, fmt.Errorf("dial: %w", ErrNetwork)).Kind)
	assert.Equal(t, KindUnknown, wrap("purchase", KindUnknown, errors.New("weird")).Kind)
	assert.Equal(t, KindNetwork, wrap("restore", KindNetwork, errors.New("weird")).Kind)

	inner := NewError(KindPending, "", ErrPending)
	assert.Same(t, inner, wrap("purchase", KindUnknown, inner))
	assert.Equal(t, "purchase", inner.Op)
}

func TestMessagesLocalized(t *testing.T) {
	for _, kind := range []ErrorKind{KindCatalogUnavailable, KindProductNotFound, KindUnverified, KindPending, KindNetwork, KindUnknown} {
		e := NewError(kind, "purchase", nil)
		en := e.Message(entitlement.LanguageEnglish)
		tr := e.Message(entitlement.LanguageTurkish)
		assert.NotEmpty(t, en, kind)
		assert.NotEmpty(t, tr, kind)
		assert.NotEqual(t, en, tr, kind)
	}

	assert.Contains(t, NewError(KindNetwork, "restore", nil).Message(entitlement.LanguageTurkish), "geri yüklenemedi")
	assert.Equal(t, "", UserMessage(nil, entitlement.LanguageEnglish))
	assert.Contains(t, UserMessage(errors.New("x"), entitlement.LanguageEnglish), "unknown error")
}
