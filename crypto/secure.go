package crypto

// ZeroBytes overwrites a byte slice with zeros. Used to wipe key material
// that must not outlive its use.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
