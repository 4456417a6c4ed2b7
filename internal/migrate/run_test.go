package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionsSorted(t *testing.T) {
	versions, err := Versions()
	require.NoError(t, err)
	require.NotEmpty(t, versions)

	assert.Equal(t, "0001_research_jobs", versions[0])
	assert.Contains(t, versions, "0002_research_jobs_status")
	assert.IsIncreasing(t, versions)
}

func TestMigrationFilesReadable(t *testing.T) {
	versions, err := Versions()
	require.NoError(t, err)
	for _, v := range versions {
		body, readErr := migrationsFS.ReadFile("migrations/" + v + ".sql")
		require.NoError(t, readErr)
		assert.Contains(t, string(body), "research_jobs", v)
	}
}
