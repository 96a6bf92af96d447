package genetics

import "kitties/pkg/types"

// Crossover combines two parent genomes bit by bit: where the selector bit is
// 1 the child takes parent a's bit, otherwise parent b's.
func Crossover(a, b types.Kitty, selector [16]byte) types.Kitty {
	var child types.Kitty
	for i := range child {
		child[i] = (a[i] & selector[i]) | (b[i] &^ selector[i])
	}
	return child
}
