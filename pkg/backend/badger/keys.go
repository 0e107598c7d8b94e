package badger

import "fmt"

// Key layout
//
//	e:<path>                  -> JSON entry
//	d:<parent>\x00<name>      -> child index (empty value)
//	k:<contentID>:<chunk>     -> content bytes of one chunk
//
// The NUL separator keeps the children of "/a" from matching those of "/ab"
// in prefix scans.
const (
	prefixEntry = "e:"
	prefixChild = "d:"
	prefixChunk = "k:"
)

func keyEntry(path string) []byte {
	return []byte(prefixEntry + path)
}

func keyChild(parent, name string) []byte {
	return []byte(prefixChild + parent + "\x00" + name)
}

func keyChildPrefix(parent string) []byte {
	return []byte(prefixChild + parent + "\x00")
}

func keyChunk(contentID string, index int) []byte {
	return []byte(fmt.Sprintf("%s%s:%010d", prefixChunk, contentID, index))
}
