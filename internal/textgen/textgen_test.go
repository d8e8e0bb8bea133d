package textgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestMessages(t *testing.T) {
	req := Request{
		Instruction: "describe the scene as tags",
		History: []Message{
			{Role: RoleUser, Name: "User", Content: "hello"},
			{Role: RoleAssistant, Name: "Alice", Content: ""},
			{Role: RoleAssistant, Name: "Alice", Content: "hi there"},
		},
	}

	msgs := req.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "hi there", msgs[1].Content)
	assert.Equal(t, Message{Role: RoleUser, Content: "describe the scene as tags"}, msgs[2])
}

func TestRequestMessages_NoInstruction(t *testing.T) {
	req := Request{History: []Message{{Role: RoleUser, Content: "x"}}}
	assert.Len(t, req.Messages(), 1)
}

func TestPresets(t *testing.T) {
	temp := 1.3
	presets := NewPresets(map[string]Preset{
		"Creative":    {Temperature: &temp},
		PresetDefault: {Temperature: &temp},
	})

	assert.Equal(t, []string{"Creative", PresetDefault, PresetDeterministic}, presets.Names())

	det, err := presets.Lookup(PresetDeterministic)
	require.NoError(t, err)
	require.NotNil(t, det.Temperature)
	assert.Equal(t, 0.0, *det.Temperature)
	assert.Equal(t, 1, *det.TopK)

	creative, err := presets.Lookup("Creative")
	require.NoError(t, err)
	assert.Equal(t, "Creative", creative.Name)
	assert.Equal(t, 1.3, *creative.Temperature)

	overridden, err := presets.Lookup(PresetDefault)
	require.NoError(t, err)
	assert.Nil(t, overridden.TopK, "configured preset replaces built-in entirely")

	_, err = presets.Lookup("missing")
	assert.ErrorIs(t, err, ErrUnknownPreset)
}
