package domain //nolint:testpackage // Need access to unexported validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewItemRange(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		mode      IndexingMode
		wantStart ItemIndex
		wantEnd   ItemIndex
		wantLen   int
		wantErr   bool
	}{
		{name: "one based covers 1..N", total: 3, mode: OneBased, wantStart: 1, wantEnd: 3, wantLen: 3},
		{name: "zero based covers 0..N", total: 3, mode: ZeroBased, wantStart: 0, wantEnd: 3, wantLen: 4},
		{name: "single one based item", total: 1, mode: OneBased, wantStart: 1, wantEnd: 1, wantLen: 1},
		{name: "zero based with zero total is one item", total: 0, mode: ZeroBased, wantStart: 0, wantEnd: 0, wantLen: 1},
		{name: "one based with zero total is empty", total: 0, mode: OneBased, wantErr: true},
		{name: "negative total", total: -2, mode: ZeroBased, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewItemRange(tt.total, tt.mode)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, r.Start)
			assert.Equal(t, tt.wantEnd, r.End)
			assert.Equal(t, tt.wantLen, r.Len())
			assert.Len(t, r.Indices(), tt.wantLen)
		})
	}
}

func TestItemRangeIndicesAscending(t *testing.T) {
	r := ItemRange{Start: 4, End: 9}
	require.NoError(t, r.Validate())

	got := r.Indices()
	assert.Equal(t, []ItemIndex{4, 5, 6, 7, 8, 9}, got)
	assert.True(t, r.Contains(4))
	assert.True(t, r.Contains(9))
	assert.False(t, r.Contains(3))
	assert.False(t, r.Contains(10))
	assert.Equal(t, "[4,9]", r.String())
}

func TestItemRangeValidateRejectsInverted(t *testing.T) {
	err := ItemRange{Start: 5, End: 2}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestModeFor(t *testing.T) {
	assert.Equal(t, ZeroBased, ModeFor(true))
	assert.Equal(t, OneBased, ModeFor(false))
	assert.Equal(t, "zero_based", ZeroBased.String())
	assert.Equal(t, "one_based", OneBased.String())
}
