package realtime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_Serializes_Same_Key_Only(t *testing.T) {
	req := require.New(t)
	k := newKeyedMutex()

	unlockA := k.Lock("a")

	// A different key is not blocked
	unlockB := k.Lock("b")
	unlockB()

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()
	select {
	case <-acquired:
		req.Fail("second holder entered while key was locked")
	case <-time.After(30 * time.Millisecond):
	}

	unlockA()
	<-acquired
	req.Eventually(func() bool { return k.size() == 0 }, time.Second, time.Millisecond)
}

func TestKeyedMutex_Counter(t *testing.T) {
	req := require.New(t)
	k := newKeyedMutex()
	counter := 0
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("pair")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	req.Equal(100, counter)
	req.Zero(k.size())
}
