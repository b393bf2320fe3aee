package rap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColorCode(t *testing.T) {
	for i, letter := range []string{"D", "E", "F", "G", "H", "I", "J", "K", "L", "M"} {
		code, ok := ColorCode(letter)
		assert.True(t, ok, letter)
		assert.Equal(t, i+1, code, letter)
	}

	code, ok := ColorCode(" g ")
	assert.True(t, ok)
	assert.Equal(t, 4, code)

	for _, bad := range []string{"", "N", "Z", "DE", "fancy"} {
		_, ok := ColorCode(bad)
		assert.False(t, ok, bad)
	}
}

func TestClarityCode(t *testing.T) {
	want := map[string]string{
		"IF": "Q1", "VVS1": "Q2", "VVS2": "Q3", "VS1": "Q4", "VS2": "Q5",
		"SI1": "Q6", "SI2": "Q7", "SI3": "Q8", "I1": "Q9", "I2": "Q10",
		"I3": "Q11", "I4": "Q12", "I5": "Q13", "I6": "Q14", "I7": "Q15",
	}
	for grade, code := range want {
		got, ok := ClarityCode(grade)
		assert.True(t, ok, grade)
		assert.Equal(t, code, got, grade)
	}

	got, ok := ClarityCode("vs2")
	assert.True(t, ok)
	assert.Equal(t, "Q5", got)

	for _, bad := range []string{"", "FL", "I8", "SI"} {
		_, ok := ClarityCode(bad)
		assert.False(t, ok, bad)
	}
}
