package collections

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConcat(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3}, Concat([]int{1, 2}, nil, []int{3}))
	assert.Empty(t, Concat[string]())
}

func TestSyncMap(t *testing.T) {
	m := NewSyncMap[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)

	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = m.LoadAndDelete("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	_, ok = m.Get("b")
	assert.False(t, ok)

	assert.Equal(t, 1, m.Len())

	m.Clear()
	assert.Equal(t, 0, m.Len())
}

func TestSyncMapConcurrent(t *testing.T) {
	m := NewSyncMap[int, int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Set(i, i*i)
			m.Get(i)
		}(i)
	}
	wg.Wait()

	count := 0
	m.Range(func(k, v int) bool {
		assert.Equal(t, k*k, v, "m[%d]", k)
		count++
		return true
	})
	assert.Equal(t, 50, count)
}
