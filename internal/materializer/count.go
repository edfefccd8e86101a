package materializer

import (
	"fmt"
	"os"
	"path/filepath"
)

// CountFiles returns the number of non-directory entries under dir, at any
// depth. Directories only contribute what they contain.
func CountFiles(dir string) (int, error) {
	n := 0
	stack := []string{dir}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(cur)
		if err != nil {
			return 0, fmt.Errorf("counting files in %s: %w", cur, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				stack = append(stack, filepath.Join(cur, e.Name()))
				continue
			}
			n++
		}
	}
	return n, nil
}
