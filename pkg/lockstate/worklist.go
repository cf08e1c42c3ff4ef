package lockstate

// worklist is a FIFO of nodes without duplicates.
type worklist struct {
	queue   []*Node
	inQueue map[int]bool
}

func newWorklist(entry *Node) *worklist {
	return &worklist{
		queue:   []*Node{entry},
		inQueue: map[int]bool{entry.Index: true},
	}
}

func (w *worklist) push(n *Node) {
	if !w.inQueue[n.Index] {
		w.queue = append(w.queue, n)
		w.inQueue[n.Index] = true
	}
}

func (w *worklist) pop() *Node {
	n := w.queue[0]
	w.queue = w.queue[1:]
	w.inQueue[n.Index] = false
	return n
}

func (w *worklist) empty() bool {
	return len(w.queue) == 0
}
