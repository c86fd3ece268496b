package environment

import (
	"sync"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
)

func TestOwnedViewsFreedPerDispatch(t *testing.T) {
	destroyed := 0
	p := &precomputer{
		mu:          &sync.Mutex{},
		destroyView: func(vk.ImageView) { destroyed++ },
	}
	p.ownedViews = make([]vk.ImageView, 3)

	p.destroyOwnedViewsLocked()
	assert.Equal(t, 3, destroyed)
	assert.Empty(t, p.ownedViews)

	// A second reclaim has nothing left to free.
	p.destroyOwnedViewsLocked()
	assert.Equal(t, 3, destroyed)
}
