package navigator

import (
	"context"
	"errors"
	"sync"

	"github.com/tinytelemetry/sepal/internal/model"
)

// ErrBackInFlight is returned when a back navigation is already pending.
var ErrBackInFlight = errors.New("navigator: back navigation in flight")

// Node is one history entry: a single Frame or a TabFrame.
type Node interface {
	ID() model.FrameID
	URI() string
	AccessURI() string
	// Current returns the frame that is visible for this node.
	Current() *Frame
	Frames() []*Frame
	Matches(tag string) bool
	FindChild(tag string) *Frame

	Init(ctx context.Context, p model.InitParams) error
	Open(ctx context.Context, params model.NavigationParams) (model.HostResponse, error)
	Redirect(ctx context.Context, params model.NavigationParams) (model.HostResponse, error)
	ReLaunch(ctx context.Context, params model.NavigationParams) (model.HostResponse, error)
	OnEnqueue(ctx context.Context) error
	Close()

	Closing() bool
	SetClosing(v bool)
	Snapshot() model.NodeSnapshot
}

// History is the navigation stack. The last node is the top.
type History struct {
	mu    sync.Mutex
	nodes []Node
}

func NewHistory() *History { return &History{} }

func (h *History) Push(n Node) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes = append(h.nodes, n)
}

// Pop removes and returns the top node without closing it.
func (h *History) Pop() Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.nodes) == 0 {
		return nil
	}
	n := h.nodes[len(h.nodes)-1]
	h.nodes = h.nodes[:len(h.nodes)-1]
	return n
}

// Replace swaps n in for the node holding the same id, or for the top node
// when none does. The replaced node is closed.
func (h *History) Replace(n Node) {
	h.mu.Lock()
	if len(h.nodes) == 0 {
		h.nodes = append(h.nodes, n)
		h.mu.Unlock()
		return
	}
	idx := len(h.nodes) - 1
	if id := n.ID(); id != "" {
		for i := len(h.nodes) - 1; i >= 0; i-- {
			if h.nodes[i].Matches(string(id)) {
				idx = i
				break
			}
		}
	}
	old := h.nodes[idx]
	h.nodes[idx] = n
	h.mu.Unlock()
	if old != n {
		old.Close()
	}
}

// Top returns the top node, or nil on an empty stack.
func (h *History) Top() Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.nodes) == 0 {
		return nil
	}
	return h.nodes[len(h.nodes)-1]
}

// TopOpen returns the topmost node that is not closing.
func (h *History) TopOpen() Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.nodes) - 1; i >= 0; i-- {
		if !h.nodes[i].Closing() {
			return h.nodes[i]
		}
	}
	return nil
}

// Below returns the node delta entries under the top, clamped at the bottom.
func (h *History) Below(delta int) Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.nodes) == 0 {
		return nil
	}
	i := len(h.nodes) - 1 - delta
	if i < 0 {
		i = 0
	}
	return h.nodes[i]
}

// MarkClosing flags n as closing unless another node already is.
func (h *History) MarkClosing(n Node) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, node := range h.nodes {
		if node.Closing() {
			return ErrBackInFlight
		}
	}
	n.SetClosing(true)
	return nil
}

// PopTo pops and closes nodes until the top matches tag. Nothing happens
// when no node matches. The popped nodes are returned top first.
func (h *History) PopTo(tag string) []Node {
	return h.popUntil(func(n Node) bool { return n.Matches(tag) })
}

// PopToNode pops and closes nodes until target is on top.
func (h *History) PopToNode(target Node) []Node {
	return h.popUntil(func(n Node) bool { return n == target })
}

func (h *History) popUntil(match func(Node) bool) []Node {
	h.mu.Lock()
	idx := -1
	for i := len(h.nodes) - 1; i >= 0; i-- {
		if match(h.nodes[i]) {
			idx = i
			break
		}
	}
	if idx < 0 {
		h.mu.Unlock()
		return nil
	}
	var popped []Node
	for i := len(h.nodes) - 1; i > idx; i-- {
		popped = append(popped, h.nodes[i])
	}
	h.nodes = h.nodes[:idx+1]
	h.mu.Unlock()

	for _, n := range popped {
		n.Close()
	}
	return popped
}

// Remove takes n off the stack without closing it and reports whether it
// was there.
func (h *History) Remove(n Node) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, node := range h.nodes {
		if node == n {
			h.nodes = append(h.nodes[:i:i], h.nodes[i+1:]...)
			return true
		}
	}
	return false
}

// Clear closes and removes every node.
func (h *History) Clear() {
	h.mu.Lock()
	nodes := h.nodes
	h.nodes = nil
	h.mu.Unlock()
	for i := len(nodes) - 1; i >= 0; i-- {
		nodes[i].Close()
	}
}

// SeekNode returns the topmost node matching tag.
func (h *History) SeekNode(tag string) Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.nodes) - 1; i >= 0; i-- {
		if h.nodes[i].Matches(tag) {
			return h.nodes[i]
		}
	}
	return nil
}

// Seek returns the frame matching tag, looking inside tab frames.
func (h *History) Seek(tag string) *Frame {
	if n := h.SeekNode(tag); n != nil {
		return n.FindChild(tag)
	}
	return nil
}

func (h *History) Has(tag string) bool { return h.SeekNode(tag) != nil }

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.nodes)
}

// Nodes returns a copy of the stack, bottom first.
func (h *History) Nodes() []Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Node(nil), h.nodes...)
}

// Each calls fn for every node, bottom first.
func (h *History) Each(fn func(Node)) {
	for _, n := range h.Nodes() {
		fn(n)
	}
}

// EachFrame calls fn for every frame, including inactive tab children.
func (h *History) EachFrame(fn func(*Frame)) {
	for _, n := range h.Nodes() {
		for _, f := range n.Frames() {
			fn(f)
		}
	}
}
