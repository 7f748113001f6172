package wizard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_ValidateName(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:  "empty falls back to default",
			input: "",
		},
		{
			name:  "simple name",
			input: "devbox",
		},
		{
			name:  "hyphenated",
			input: "dev-box-2",
		},
		{
			name:    "uppercase rejected",
			input:   "DevBox",
			wantErr: true,
		},
		{
			name:    "shell metacharacters rejected",
			input:   "dev;rm -rf /",
			wantErr: true,
		},
		{
			name:    "leading hyphen rejected",
			input:   "-devbox",
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateName(tc.input)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidName)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func Test_validateIntRange(t *testing.T) {
	validate := validateIntRange(1, 128)

	assert.NoError(t, validate("1"))
	assert.NoError(t, validate("128"))
	assert.Error(t, validate("0"))
	assert.Error(t, validate("129"))
	assert.Error(t, validate("many"))
}
