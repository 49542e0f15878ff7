package lockmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerializesSameKey(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("alice")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, m.Len())
}

func TestIndependentKeys(t *testing.T) {
	m := New()
	unlockA := m.Lock("alice")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := m.Lock("bob")
		unlock()
		close(done)
	}()
	<-done
	assert.Equal(t, 1, m.Len())
}
