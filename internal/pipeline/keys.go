package pipeline

import (
	"path"
	"strings"
)

// DefaultKeyPrefix is prepended to preview object names.
const DefaultKeyPrefix = "thumb_"

// DerivedKey names the preview of an original: the same directory, prefix
// plus the base name with its extension replaced by ".jpg". The mapping is
// deterministic so re-running overwrites rather than duplicates. Originals
// that differ only by extension (abc.png, abc.jpg) share one preview key.
//
//	abc.png       -> thumb_abc.jpg
//	2024/abc.webp -> 2024/thumb_abc.jpg
func DerivedKey(originalKey, prefix string) string {
	dir, base := path.Split(originalKey)
	name := strings.TrimSuffix(base, path.Ext(base))
	return dir + prefix + name + ".jpg"
}
