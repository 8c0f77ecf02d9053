package tracker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResource struct {
	name  string
	err   error
	panic bool
	log   *[]string
}

func (f *fakeResource) Name() string { return f.name }

func (f *fakeResource) Dispose() error {
	*f.log = append(*f.log, f.name)
	if f.panic {
		panic("boom")
	}
	return f.err
}

func TestReleaseAllInTrackingOrder(t *testing.T) {
	var log []string
	tr := New()
	tr.Track(&fakeResource{name: "scene", log: &log})
	tr.Track(&fakeResource{name: "display_0", log: &log})
	tr.Track(&fakeResource{name: "display_0_item", log: &log})
	require.Equal(t, 3, tr.Len())

	require.NoError(t, tr.ReleaseAll())
	assert.Equal(t, []string{"scene", "display_0", "display_0_item"}, log)
	assert.Equal(t, 0, tr.Len())
}

func TestReleaseAllContinuesPastFailures(t *testing.T) {
	var log []string
	failure := errors.New("release failed")
	tr := New()
	tr.Track(&fakeResource{name: "a", err: failure, log: &log})
	tr.Track(&fakeResource{name: "b", panic: true, log: &log})
	tr.Track(&fakeResource{name: "c", log: &log})

	err := tr.ReleaseAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, failure)
	assert.Contains(t, err.Error(), "panic during dispose")
	assert.Equal(t, []string{"a", "b", "c"}, log)
	assert.Equal(t, 0, tr.Len())
}

func TestReleaseAllTwiceIsEmpty(t *testing.T) {
	var log []string
	tr := New()
	tr.Track(&fakeResource{name: "a", log: &log})
	tr.Track(nil)
	require.NoError(t, tr.ReleaseAll())
	require.NoError(t, tr.ReleaseAll())
	assert.Equal(t, []string{"a"}, log)
}
