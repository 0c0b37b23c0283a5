package pipeline

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

type sumActor struct {
	total int
}

func (s *sumActor) Call(in int)  { s.total += in }
func (s *sumActor) Finish() int  { return s.total }

func TestCallbackSumsInOrder(t *testing.T) {
	cb := NewCallback[int, int](&sumActor{}, 4)
	for i := 1; i <= 10; i++ {
		cb.Call(i)
	}
	require.Equal(t, 55, cb.Finish())
}

func TestCallbackSyncMergesAcrossClones(t *testing.T) {
	cs := NewCallbackSync[int, int](3, 2,
		func(i int) Actor[int, int] { return &sumActor{} },
		func(outs []int) int {
			total := 0
			for _, o := range outs {
				total += o
			}
			return total
		})
	for i := 1; i <= 9; i++ {
		cs.Call(i)
	}
	require.Equal(t, 45, cs.Finish())
}

type collectActor struct {
	got []int
}

func (c *collectActor) Call(in int) { c.got = append(c.got, in) }
func (c *collectActor) Finish() []int { return c.got }

func TestCallbackMergeDrainsAllProducers(t *testing.T) {
	p1 := make(chan int, 3)
	p2 := make(chan int, 3)
	for _, v := range []int{1, 2, 3} {
		p1 <- v
	}
	for _, v := range []int{4, 5, 6} {
		p2 <- v
	}
	close(p1)
	close(p2)

	cm := NewCallbackMerge[int, []int](&collectActor{}, []Producer[int]{p1, p2})
	got := cm.Run()
	sort.Ints(got)
	require.Equal(t, []int{1, 2, 3, 4, 5, 6}, got)
}
