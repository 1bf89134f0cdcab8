package names

import (
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// Petname derives a deterministic three-word name from a public key, such
// as "leader-monkey-parrot". It returns "" for anything that is not a key.
func Petname(key string) string {
	raw, err := DecodeKey(key)
	if err != nil {
		return ""
	}
	mnemonic, err := bip39.NewMnemonic(raw)
	if err != nil {
		return ""
	}
	words := strings.Fields(mnemonic)
	if len(words) < 3 {
		return ""
	}
	return strings.Join(words[:3], "-")
}

// Label returns the local name for key when one exists, else its petname.
func (b *Book) Label(key string) string {
	if name, ok := b.NameOf(key); ok {
		return "@" + name
	}
	return Petname(key)
}
