package command_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muellerberndt/legion-core/action"
	"github.com/muellerberndt/legion-core/command"
)

func TestParseMessage(t *testing.T) {
	name, rest := command.ParseMessage("/search pattern=test")
	assert.Equal(t, "search", name)
	assert.Equal(t, "pattern=test", rest)

	name, rest = command.ParseMessage("help")
	assert.Equal(t, "help", name)
	assert.Empty(t, rest)
}

func TestParseArguments_Empty(t *testing.T) {
	p := command.ParseArguments("")
	assert.Equal(t, []string{}, p.Positional)
	assert.Nil(t, p.Named)
}

func TestParseArguments_Positional(t *testing.T) {
	p := command.ParseArguments(`foo "bar baz" 'qux'`)
	require.Nil(t, p.Named)
	assert.Equal(t, []string{"foo", "bar baz", "qux"}, p.Positional)
}

func TestParseArguments_NamedMap(t *testing.T) {
	p := command.ParseArguments("pattern=test limit=10")
	require.NotNil(t, p.Named)
	assert.Equal(t, "test", p.Named["pattern"])
	assert.Equal(t, "10", p.Named["limit"])
}

func TestParseArguments_QuotedEqualsStaysPositional(t *testing.T) {
	// A fully quoted token containing '=' does not itself trigger map mode
	// unless some other unquoted token also carries '='.
	p := command.ParseArguments(`'key=value'`)
	require.Nil(t, p.Named)
	assert.Equal(t, []string{"key=value"}, p.Positional)
}

func TestParseArguments_EmbeddedJSON(t *testing.T) {
	raw := `'{"from":"x","where":[{"field":"y","op":"=","value":1}]}'`
	p := command.ParseArguments(raw)
	require.Nil(t, p.Named)
	require.Len(t, p.Positional, 1)
	assert.True(t, command.LooksLikeJSON(p.Positional[0]))
}

func TestParseArguments_UnterminatedQuoteFallsBackToWhole(t *testing.T) {
	raw := `db_query 'unterminated`
	p := command.ParseArguments(raw)
	assert.Equal(t, []string{raw}, p.Positional)
}

func TestValidate_NamedMissingRequired(t *testing.T) {
	spec := &action.Spec{
		Name: "search",
		Arguments: []action.ArgSpec{
			{Name: "query", Required: true},
			{Name: "limit", Required: false},
		},
	}
	err := command.Validate(command.Parsed{Named: map[string]string{"limit": "5"}}, spec)
	assert.ErrorContains(t, err, "missing required parameters")
}

func TestValidate_NamedUnknown(t *testing.T) {
	spec := &action.Spec{
		Name:      "search",
		Arguments: []action.ArgSpec{{Name: "query", Required: true}},
	}
	err := command.Validate(command.Parsed{Named: map[string]string{"query": "x", "bogus": "y"}}, spec)
	assert.ErrorContains(t, err, "unknown parameters")
}

func TestValidate_PositionalCounts(t *testing.T) {
	spec := &action.Spec{
		Name: "db_query",
		Arguments: []action.ArgSpec{
			{Name: "query", Required: true},
		},
	}
	assert.NoError(t, command.Validate(command.Parsed{Positional: []string{"q"}}, spec))
	assert.Error(t, command.Validate(command.Parsed{Positional: []string{}}, spec))
	assert.Error(t, command.Validate(command.Parsed{Positional: []string{"a", "b"}}, spec))
}

func TestValidate_NilSpecAcceptsAnything(t *testing.T) {
	assert.NoError(t, command.Validate(command.Parsed{Positional: []string{"a", "b", "c"}}, nil))
}
