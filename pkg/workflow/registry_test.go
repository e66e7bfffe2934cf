package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperagent/hyperagent/pkg/errors"
)

func writeRegistryDoc(t *testing.T, dir, name, id string) {
	t.Helper()
	content := []byte("id: " + id + `
flow:
  round:
    steps:
      - key: noop
        type: transform
        template:
          ok: true
    maxRounds: 1
    defaultOutcome:
      outcome: done
`)
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func TestMapRegistry(t *testing.T) {
	doc := singleAgentDocument(t)
	registry := MapRegistry{}
	registry.Register(doc)

	resolved, err := registry.Resolve("single.v1")
	require.NoError(t, err)
	assert.Same(t, doc, resolved)

	_, err = registry.Resolve("missing.v1")
	var unknown *errors.UnknownWorkflowError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "missing.v1", unknown.WorkflowID)
}

func TestDirRegistry_ResolvesNestedDocuments(t *testing.T) {
	dir := t.TempDir()
	writeRegistryDoc(t, dir, "top.yaml", "top.v1")
	writeRegistryDoc(t, dir, "nested/inner.yml", "inner.v1")
	writeRegistryDoc(t, dir, "nested/deep/leaf.yaml", "leaf.v1")
	// Broken documents are skipped, not fatal.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("id: ["), 0o644))

	registry, err := NewDirRegistry(dir)
	require.NoError(t, err)
	defer registry.Close()

	for _, id := range []string{"top.v1", "inner.v1", "leaf.v1"} {
		doc, err := registry.Resolve(id)
		require.NoError(t, err, "resolving %s", id)
		assert.Equal(t, id, doc.ID)
	}

	ids, err := registry.IDs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"top.v1", "inner.v1", "leaf.v1"}, ids)

	_, err = registry.Resolve("missing.v1")
	var unknown *errors.UnknownWorkflowError
	require.ErrorAs(t, err, &unknown)
}

func TestDirRegistry_PicksUpNewDocuments(t *testing.T) {
	dir := t.TempDir()
	writeRegistryDoc(t, dir, "first.yaml", "first.v1")

	registry, err := NewDirRegistry(dir)
	require.NoError(t, err)
	defer registry.Close()

	_, err = registry.Resolve("first.v1")
	require.NoError(t, err)

	writeRegistryDoc(t, dir, "second.yaml", "second.v1")

	require.Eventually(t, func() bool {
		_, err := registry.Resolve("second.v1")
		return err == nil
	}, 5*time.Second, 50*time.Millisecond, "new document never became resolvable")
}

func TestDirRegistry_RejectsFiles(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "doc.yaml")
	writeRegistryDoc(t, dir, "doc.yaml", "doc.v1")

	_, err := NewDirRegistry(file)
	require.Error(t, err)
}
