package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_KiBToGB(t *testing.T) {
	testCases := []struct {
		kib      uint64
		expected int
	}{
		{
			kib:      0,
			expected: 0,
		},
		{
			kib:      1048575,
			expected: 0,
		},
		{
			kib:      1048576,
			expected: 1,
		},
		{
			kib:      62914560,
			expected: 60,
		},
	}

	for _, tc := range testCases {
		actual := KiBToGB(tc.kib)
		assert.Equal(t, tc.expected, actual)
	}
}

func Test_GBToKiB(t *testing.T) {
	assert.Equal(t, uint64(20971520), GBToKiB(20))
	assert.Equal(t, uint64(0), GBToKiB(0))
}
