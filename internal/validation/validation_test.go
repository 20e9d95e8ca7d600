package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elskow/boardguard/internal/apperr"
)

type sample struct {
	Name  string `validate:"required,max=5"`
	Kind  string `validate:"oneof=a b"`
	Count int    `validate:"gte=1"`
	Hash  string `validate:"omitempty,len=4,hexadecimal"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name    string
		in      sample
		wantErr string
	}{
		{name: "valid", in: sample{Name: "abc", Kind: "a", Count: 1}},
		{name: "missing name", in: sample{Kind: "a", Count: 1}, wantErr: "Name is required"},
		{name: "bad kind", in: sample{Name: "x", Kind: "c", Count: 1}, wantErr: "Kind must be one of [a b]"},
		{name: "low count", in: sample{Name: "x", Kind: "b"}, wantErr: "Count must be at least 1"},
		{name: "bad hash", in: sample{Name: "x", Kind: "b", Count: 2, Hash: "zzzz"}, wantErr: "Hash failed hexadecimal validation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.in)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
