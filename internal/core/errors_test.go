package core

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := E(KindStore, "download", io.ErrUnexpectedEOF)
	wrapped := fmt.Errorf("stage downloaded: %w", base)

	assert.Equal(t, KindStore, KindOf(base))
	assert.Equal(t, KindStore, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(io.EOF))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", Errorf(KindSchema, "validate", "missing columns: %s", "zip"))

	assert.True(t, IsKind(err, KindSchema))
	assert.False(t, IsKind(err, KindValidation))
	assert.True(t, errors.Is(err, &Error{Kind: KindSchema, Op: "validate"}))
	assert.False(t, errors.Is(err, &Error{Kind: KindSchema, Op: "convert"}))
}

func TestErrorUnwrap(t *testing.T) {
	err := E(KindLogAccess, "fetch log", io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Kind: KindConversion, Op: "write"}, "ConversionError: write"},
		{E(KindStore, "upload", io.EOF), "StoreError: upload: EOF"},
		{Errorf(KindSchema, "validate", "missing columns: %s", "zip"), "SchemaError: validate: missing columns: zip"},
		{&Error{Kind: KindStore, Op: "upload", Msg: "refined", Err: io.EOF}, "StoreError: upload: refined: EOF"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, UserMessage{}, Describe(nil))
	assert.Equal(t, "SCH001", Describe(E(KindSchema, "validate", nil)).Code)
	assert.Equal(t, "VAL001", Describe(fmt.Errorf("x: %w", E(KindValidation, "validate", nil))).Code)
	assert.Equal(t, "ERR000", Describe(io.EOF).Code)

	for k := KindInvalidTrigger; k <= KindConfiguration; k++ {
		msg := Describe(E(k, "op", nil))
		assert.NotEmpty(t, msg.Code, k.String())
		assert.NotEqual(t, "ERR000", msg.Code, k.String())
	}
}

func TestFormatUserError(t *testing.T) {
	assert.Equal(t, "", FormatUserError(nil))
	assert.Equal(t,
		"Parquet artifact could not be written (Code: CNV001). Check scratch disk space and retry the upload",
		FormatUserError(E(KindConversion, "write", io.ErrShortWrite)),
	)
}
