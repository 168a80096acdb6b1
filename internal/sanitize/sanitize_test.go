package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString_StripsControlCharsAndBounds(t *testing.T) {
	s := String("hello\x00world\n", 0)
	assert.Equal(t, "helloworld\n", s)

	long := make([]byte, MaxStringBytes+10)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, String(string(long), 0), MaxStringBytes)
}

func TestPath_StripsTraversal(t *testing.T) {
	assert.Equal(t, "/etc", Path("/tmp/../etc"))
	assert.Equal(t, "/", Path("/../../"))
}

func TestIdentifier_StripsInvalidCharsAndBounds(t *testing.T) {
	assert.Equal(t, "sessionone", Identifier("session one!"))
	assert.Equal(t, "abc-123_x", Identifier("abc-123_x"))
}

func TestToolName_RequiresLeadingLetterOrUnderscore(t *testing.T) {
	name, ok := ToolName("  Bash  ")
	assert.True(t, ok)
	assert.Equal(t, "Bash", name)

	_, ok = ToolName("123bad")
	assert.False(t, ok)
}

func TestIsValidKey(t *testing.T) {
	assert.True(t, IsValidKey("command"))
	assert.False(t, IsValidKey("bad key"))
	assert.False(t, IsValidKey("1bad"))
}

func TestRedactSensitive_RecursesAndIsIdempotent(t *testing.T) {
	input := map[string]interface{}{
		"api_key": "sk-12345",
		"nested":  map[string]interface{}{"password": "hunter2", "ok": "fine"},
		"list":    []interface{}{map[string]interface{}{"token": "abc"}},
	}
	redacted := RedactSensitive(input, nil)
	redactedAgain := RedactSensitive(redacted, nil)
	assert.Equal(t, redacted, redactedAgain)

	m := redacted.(map[string]interface{})
	assert.Equal(t, "***", m["api_key"])
	nested := m["nested"].(map[string]interface{})
	assert.Equal(t, "***", nested["password"])
	assert.Equal(t, "fine", nested["ok"])
}
