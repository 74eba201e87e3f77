package sandbox

import "sync"

// mailbox is an unbounded FIFO of tasks drained by one goroutine
type mailbox struct {
	mu     sync.Mutex
	tasks  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

func newMailbox() *mailbox {
	m := &mailbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go m.run()
	return m
}

// push queues task. Reports false once the mailbox is closed.
func (m *mailbox) push(task func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.tasks = append(m.tasks, task)
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// close stops the mailbox; queued tasks are dropped
func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.tasks = nil
	close(m.wake)
}

func (m *mailbox) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mailbox) run() {
	defer close(m.done)

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		batch := m.tasks
		m.tasks = nil
		m.mu.Unlock()

		if len(batch) == 0 {
			<-m.wake
			continue
		}
		for _, task := range batch {
			if m.isClosed() {
				return
			}
			task()
		}
	}
}
