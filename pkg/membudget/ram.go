package membudget

// SystemRAM returns the total physical memory and whether it could be detected.
func SystemRAM() (uint64, bool) {
	n, ok := systemRAM()
	if !ok || n == 0 {
		return 0, false
	}
	return n, true
}
