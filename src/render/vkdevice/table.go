package vkdevice

// table maps the opaque handles handed to the frame loop onto the
// underlying vulkan objects. Handles are never reused.
type table[H ~uint64, T any] struct {
	next H
	m    map[H]T
}

func newTable[H ~uint64, T any]() *table[H, T] {
	return &table[H, T]{m: make(map[H]T)}
}

func (t *table[H, T]) add(v T) H {
	t.next++
	t.m[t.next] = v
	return t.next
}

// get returns the zero value, the vulkan null handle, for unknown handles.
func (t *table[H, T]) get(h H) T {
	return t.m[h]
}

func (t *table[H, T]) remove(h H) (T, bool) {
	v, ok := t.m[h]
	if ok {
		delete(t.m, h)
	}
	return v, ok
}

func (t *table[H, T]) len() int {
	return len(t.m)
}

// lookup resolves a list of handles, skipping the null handle.
func lookup[H ~uint64, T any](t *table[H, T], hs []H) []T {
	out := make([]T, 0, len(hs))
	for _, h := range hs {
		if h == 0 {
			continue
		}
		out = append(out, t.get(h))
	}
	return out
}
