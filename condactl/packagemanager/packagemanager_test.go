package packagemanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSpec(t *testing.T) {
	t.Run("Plain name", func(t *testing.T) {
		spec := ParseSpec("numpy", "")
		assert.Equal(t, PackageSpec{Name: "numpy"}, spec)
	})

	t.Run("Name with version", func(t *testing.T) {
		spec := ParseSpec("numpy=1.21", "")
		assert.Equal(t, PackageSpec{Name: "numpy", Version: "1.21"}, spec)
	})

	t.Run("Double equals pin", func(t *testing.T) {
		spec := ParseSpec("numpy==1.21.0", "")
		assert.Equal(t, PackageSpec{Name: "numpy", Version: "1.21.0"}, spec)
	})

	t.Run("Default version applies when spec has none", func(t *testing.T) {
		spec := ParseSpec("numpy", "1.20")
		assert.Equal(t, PackageSpec{Name: "numpy", Version: "1.20"}, spec)
	})

	t.Run("Embedded version wins over default", func(t *testing.T) {
		spec := ParseSpec("numpy=1.21", "1.20")
		assert.Equal(t, "1.21", spec.Version)
	})
}

func TestSpecString(t *testing.T) {
	assert.Equal(t, "numpy", PackageSpec{Name: "numpy"}.String())
	assert.Equal(t, "numpy=1.21", PackageSpec{Name: "numpy", Version: "1.21"}.String())
}

func TestSatisfiedBy(t *testing.T) {
	installed := PackageSpec{Name: "python", Version: "3.9.12"}

	t.Run("Different name never satisfies", func(t *testing.T) {
		assert.False(t, PackageSpec{Name: "numpy"}.SatisfiedBy(installed))
	})

	t.Run("Unversioned request satisfied by any version", func(t *testing.T) {
		assert.True(t, PackageSpec{Name: "python"}.SatisfiedBy(installed))
	})

	t.Run("Names match case-insensitively", func(t *testing.T) {
		assert.True(t, PackageSpec{Name: "Python"}.SatisfiedBy(installed))
	})

	t.Run("Version matches as specifically as requested", func(t *testing.T) {
		assert.True(t, PackageSpec{Name: "python", Version: "3"}.SatisfiedBy(installed))
		assert.True(t, PackageSpec{Name: "python", Version: "3.9"}.SatisfiedBy(installed))
		assert.True(t, PackageSpec{Name: "python", Version: "3.9.12"}.SatisfiedBy(installed))
	})

	t.Run("Version mismatch", func(t *testing.T) {
		assert.False(t, PackageSpec{Name: "python", Version: "3.10"}.SatisfiedBy(installed))
		assert.False(t, PackageSpec{Name: "python", Version: "3.9.13"}.SatisfiedBy(installed))
	})

	t.Run("Request more specific than installed", func(t *testing.T) {
		have := PackageSpec{Name: "python", Version: "3.9"}
		assert.False(t, PackageSpec{Name: "python", Version: "3.9.12"}.SatisfiedBy(have))
	})
}
