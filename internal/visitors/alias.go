package visitors

import "hash/fnv"

var aliasAdjectives = []string{
	"Amber", "Bold", "Calm", "Curious", "Daring", "Eager", "Gentle", "Golden", "Hidden", "Idle",
	"Jolly", "Keen", "Lucid", "Mellow", "Nimble", "Olive", "Patient", "Quiet", "Rustic", "Silver",
	"Tender", "Umber", "Velvet", "Wandering", "Young", "Zesty", "Bright", "Cobalt", "Dusky", "Ivory",
}

var aliasSubjects = []string{
	"Easel", "Canvas", "Palette", "Brush", "Sketch", "Fresco", "Mural", "Etching", "Pastel", "Gouache",
	"Charcoal", "Collage", "Lino", "Portrait", "Study", "Vignette", "Frame", "Atelier", "Gallery", "Tableau",
	"Ink", "Sepia", "Ochre", "Glaze", "Varnish", "Stencil", "Motif", "Relief", "Print", "Album",
}

// Alias returns a stable, human-friendly label for a hashed IP so the
// visitor table can be read without exposing the digest.
func Alias(ipHash string) string {
	h := fnv.New32a()
	h.Write([]byte(ipHash))
	index := int(h.Sum32())

	adj := aliasAdjectives[index%len(aliasAdjectives)]
	subject := aliasSubjects[(index/len(aliasAdjectives))%len(aliasSubjects)]
	return adj + " " + subject
}
