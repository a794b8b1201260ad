package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"mit.edu/dsg/bmindex/common"
)

func TestMonotonicallyUpdateLSN(t *testing.T) {
	frame := &PageFrame{}
	frame.MonotonicallyUpdateLSN(5)
	assert.Equal(t, common.LSN(5), frame.LSN())
	frame.MonotonicallyUpdateLSN(3)
	assert.Equal(t, common.LSN(5), frame.LSN())
	frame.MonotonicallyUpdateLSN(common.InvalidLSN)
	assert.Equal(t, common.LSN(5), frame.LSN())
	assert.Equal(t, common.LSN(5), frame.Page().LSN())

	var wg sync.WaitGroup
	for i := 1; i <= 64; i++ {
		wg.Add(1)
		go func(lsn common.LSN) {
			defer wg.Done()
			frame.MonotonicallyUpdateLSN(lsn)
		}(common.LSN(i))
	}
	wg.Wait()
	assert.Equal(t, common.LSN(64), frame.LSN())
}
