package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterCmd_Use(t *testing.T) {
	assert.Equal(t, "filter [text]", filterCmd.Use)
	assert.NotNil(t, filterCmd.Flags().Lookup("json"))
}

func TestFilterCmd_MasksTerms(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	out, err := execute(t, "filter", "this", "is", "a", "scam")
	require.NoError(t, err)

	assert.Contains(t, out, "this is a ****")
	assert.Contains(t, out, "found: scam")
}

func TestFilterCmd_CleanText(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	out, err := execute(t, "filter", "hello there")
	require.NoError(t, err)

	assert.Equal(t, "hello there\n", out)
}

func TestFilterCmd_JSON(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	out, err := execute(t, "filter", "--json", "hello there")
	require.NoError(t, err)

	var got struct {
		Masked string   `json:"masked"`
		Found  []string `json:"found"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "hello there", got.Masked)
	assert.NotNil(t, got.Found)
	assert.Empty(t, got.Found)
}

func TestFilterCmd_RequiresText(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	_, err := execute(t, "filter")
	assert.Error(t, err)
}
