package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CoreQualifiedID(t *testing.T) {
	r := New(CoreIdentity(), 1, KindCodeSmell, "Avoid checkpanic")

	assert.Equal(t, "ballerina:1", r.ID)
	assert.Equal(t, 1, r.NumericID)
	assert.Equal(t, "ballerina", r.Qualifier())
}

func TestNew_ExternalQualifiedID(t *testing.T) {
	id := Identity{Org: "exampleOrg", Name: "exampleName", Version: "0.1.0"}
	r := New(id, 12, KindBug, "rule 12")

	assert.Equal(t, "exampleOrg/exampleName:12", r.ID)
	assert.Equal(t, "exampleOrg/exampleName", r.Qualifier())
}

func TestParseQualifiedID(t *testing.T) {
	tests := []struct {
		id        string
		qualifier string
		numeric   int
		wantErr   bool
	}{
		{id: "ballerina:1", qualifier: "ballerina", numeric: 1},
		{id: "ballerinax/example_module_static_code_analyzer:7", qualifier: "ballerinax/example_module_static_code_analyzer", numeric: 7},
		{id: "ballerina", wantErr: true},
		{id: "ballerina:", wantErr: true},
		{id: "a/b/c:1", wantErr: true},
		{id: "org/name:x1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			q, n, err := ParseQualifiedID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.qualifier, q)
			assert.Equal(t, tt.numeric, n)
		})
	}
}

func TestQualifiedIDsRoundTripThroughParser(t *testing.T) {
	ids := []Identity{
		CoreIdentity(),
		{Org: "ballerina", Name: "example_module_static_code_analyzer"},
		{Org: "exampleOrg", Name: "exampleName", Repository: LocalRepository, Version: "1.0.0"},
	}
	for _, id := range ids {
		for _, n := range []int{0, 1, 42} {
			r := New(id, n, KindCodeSmell, "x")
			q, got, err := ParseQualifiedID(r.ID)
			require.NoError(t, err)
			assert.Equal(t, id.Qualifier(), q)
			assert.Equal(t, n, got)
		}
	}
}

func TestIdentity_IsLocal(t *testing.T) {
	assert.True(t, Identity{Org: "o", Name: "n", Version: "0.1.0", Repository: "local"}.IsLocal())
	assert.False(t, Identity{Org: "o", Name: "n", Repository: "local"}.IsLocal())
	assert.False(t, Identity{Org: "o", Name: "n", Version: "0.1.0"}.IsLocal())
}

func TestIdentity_Validate(t *testing.T) {
	assert.NoError(t, CoreIdentity().Validate())
	assert.NoError(t, Identity{Org: "org", Name: "name"}.Validate())
	assert.Error(t, Identity{Name: "orphan"}.Validate())
	assert.Error(t, Identity{Org: "o:rg", Name: "name"}.Validate())
	assert.Error(t, Identity{Org: "org", Name: "na/me"}.Validate())
}

func TestLineRange_Validate(t *testing.T) {
	assert.NoError(t, LineRange{StartLine: 21, StartOffset: 17, EndLine: 21, EndOffset: 39}.Validate())
	assert.NoError(t, LineRange{StartLine: 17, StartOffset: 9, EndLine: 22, EndOffset: 1}.Validate())
	assert.Error(t, LineRange{StartLine: 0, EndLine: 1}.Validate())
	assert.Error(t, LineRange{StartLine: 3, EndLine: 2}.Validate())
	assert.Error(t, LineRange{StartLine: 2, StartOffset: 5, EndLine: 2, EndOffset: 4}.Validate())
	assert.Error(t, LineRange{StartLine: 1, StartOffset: -1, EndLine: 1}.Validate())
}

func TestLocation_Validate(t *testing.T) {
	loc := Location{FileName: "main.bal", Range: LineRange{StartLine: 1, EndLine: 1}}
	assert.Error(t, loc.Validate())

	loc.FilePath = "/tmp/main.bal"
	assert.NoError(t, loc.Validate())
}
