// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	base := NewAgentError(ErrBlueprint, "model refused", errors.New("refusal"))

	assert.Equal(t, ErrBlueprint, KindOf(base))

	wrapped := fmt.Errorf("attempt 2: %w", fmt.Errorf("attempt 1: %w", base))
	assert.Equal(t, ErrBlueprint, KindOf(wrapped), "kind survives wrapping")

	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestRecordFor(t *testing.T) {
	t.Run("typed error", func(t *testing.T) {
		rec := RecordFor(NewAgentError(ErrDeployment, "sandbox unreachable", nil))
		require.NotNil(t, rec)
		assert.Equal(t, ErrDeployment, rec.Kind)
		assert.Equal(t, "sandbox unreachable", rec.Message)
	})

	t.Run("plain error gets internal kind", func(t *testing.T) {
		rec := RecordFor(errors.New("disk full"))
		require.NotNil(t, rec)
		assert.Equal(t, ErrorKind("Internal"), rec.Kind)
		assert.Equal(t, "disk full", rec.Message)
	})

	t.Run("nil error", func(t *testing.T) {
		assert.Nil(t, RecordFor(nil))
	})
}

func TestAgentErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewAgentError(ErrCatalogUnavailable, "catalog down", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "TemplateCatalogUnavailable")
	assert.Contains(t, err.Error(), "connection refused")
}
