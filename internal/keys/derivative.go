package keys

import (
	"path"
	"strings"
)

// ThumbPrefix roots the flat thumbnail tree used by older deployments.
const ThumbPrefix = "_thumbs/"

// Size is a derivative variant.
type Size struct {
	Name   string
	Pixels int
}

// Sizes are the derivative variants generated for image assets.
var Sizes = []Size{
	{Name: "small", Pixels: 150},
	{Name: "medium", Pixels: 400},
	{Name: "large", Pixels: 1200},
}

// split breaks a primary key into its session root, category and filename.
func split(primaryKey string) (root, category, file string) {
	primaryKey = strings.TrimPrefix(primaryKey, "/")
	dir, file := path.Split(primaryKey)
	dir = strings.TrimSuffix(dir, "/")
	root, category = path.Split(dir)
	return strings.TrimSuffix(root, "/"), category, file
}

// DerivativeKey returns where the current layout stores size of primaryKey:
// {sessionRoot}/thumbnails/{size}/{file}.
func DerivativeKey(primaryKey string, size Size) string {
	root, _, file := split(primaryKey)
	return path.Join(root, "thumbnails", size.Name, file)
}

// DerivativeKeys returns every key a derivative of primaryKey may have been
// written to, across all historical layouts. The {category}/{stem}_{size}.jpg
// candidates share a directory with primaries and may name a real asset.
func DerivativeKeys(primaryKey string) []string {
	root, category, file := split(primaryKey)
	stem := strings.TrimSuffix(file, path.Ext(file))

	out := make([]string, 0, 2*len(Sizes)+1)
	for _, s := range Sizes {
		out = append(out, path.Join(root, "thumbnails", s.Name, file))
	}
	for _, s := range Sizes {
		out = append(out, path.Join(root, category, stem+"_"+s.Name+".jpg"))
	}
	out = append(out, ThumbPrefix+strings.TrimPrefix(primaryKey, "/"))
	return out
}

// IsDerivative reports whether key lives in a derivative-only location.
// Legacy suffixed variants share their directory with primaries; see
// SuffixedVariantOf.
func IsDerivative(key string) bool {
	return strings.HasPrefix(key, ThumbPrefix) || strings.Contains(key, "/thumbnails/")
}

// SuffixedVariantOf returns the directory and stem of the primary that key
// would be a legacy {stem}_{size}.jpg variant of. ok is false when key does
// not have that shape.
func SuffixedVariantOf(key string) (dir, stem string, ok bool) {
	dir, file := path.Split(key)
	if path.Ext(file) != ".jpg" {
		return "", "", false
	}
	base := strings.TrimSuffix(file, ".jpg")
	for _, s := range Sizes {
		if cut, found := strings.CutSuffix(base, "_"+s.Name); found && cut != "" {
			return dir, cut, true
		}
	}
	return "", "", false
}
