package deploy

import "sync"

// dirLocks grants each working directory to one holder at a time, in the
// order tickets were reserved.
type dirLocks struct {
	mu     sync.Mutex
	queues map[string][]*lockTicket
}

type lockTicket struct {
	dir     string
	granted chan struct{}
}

func newDirLocks() *dirLocks {
	return &dirLocks{queues: make(map[string][]*lockTicket)}
}

// reserve queues a ticket for dir. The ticket's granted channel closes when
// every earlier ticket for dir has been released.
func (l *dirLocks) reserve(dir string) *lockTicket {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := &lockTicket{dir: dir, granted: make(chan struct{})}
	l.queues[dir] = append(l.queues[dir], t)
	if len(l.queues[dir]) == 1 {
		close(t.granted)
	}
	return t
}

// release gives up a ticket, held or still waiting.
func (l *dirLocks) release(t *lockTicket) {
	l.mu.Lock()
	defer l.mu.Unlock()

	queue := l.queues[t.dir]
	idx := -1
	for i, candidate := range queue {
		if candidate == t {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	queue = append(queue[:idx], queue[idx+1:]...)
	if len(queue) == 0 {
		delete(l.queues, t.dir)
		return
	}
	l.queues[t.dir] = queue
	if idx == 0 {
		close(queue[0].granted)
	}
}
