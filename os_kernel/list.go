package os_kernel

import (
	"fmt"

	"gomemflow/memory"
	"gomemflow/profile"
)

// walk visits every element of the circular doubly linked list whose head
// entry sits at head. The forward pointer of each entry points at the links
// field of the next element, and the walk ends back at head. visit returning
// false stops the walk early.
func (k *Kernel) walk(space memory.View, head memory.Address, links profile.Field, visit func(elem memory.Address) bool) error {
	width := k.prof.PointerWidth()
	seen := make(map[memory.Address]struct{})

	cur, err := memory.ReadPointer(space, head, width)
	if err != nil {
		return fmt.Errorf("list head %s: %w", head, err)
	}
	for cur != head {
		if cur == 0 {
			return fmt.Errorf("null link in list at %s: %w", head, memory.ErrCorruptList)
		}
		if _, ok := seen[cur]; ok {
			return fmt.Errorf("list at %s revisits %s: %w", head, cur, memory.ErrCorruptList)
		}
		if len(seen) >= k.maxList {
			return fmt.Errorf("list at %s exceeds %d entries: %w", head, k.maxList, memory.ErrCorruptList)
		}
		seen[cur] = struct{}{}

		if !visit(cur - memory.Address(links.Offset)) {
			return nil
		}

		next, err := memory.ReadPointer(space, cur, width)
		if err != nil {
			return fmt.Errorf("list entry %s: %w", cur, err)
		}
		cur = next
	}
	return nil
}
